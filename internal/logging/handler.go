package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// LevelSecurity ranks above slog.LevelError so security entries pass any
// configured minimum level.
const LevelSecurity = slog.Level(12)

// RedactingHandler wraps another slog.Handler, redacting every attribute
// and the message before they reach it.
type RedactingHandler struct {
	inner slog.Handler
	level slog.Leveler
}

// NewRedactingHandler returns a handler that filters by level (except
// security entries) and redacts before delegating to inner. The inner
// handler should not filter on its own.
func NewRedactingHandler(inner slog.Handler, level slog.Leveler) *RedactingHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &RedactingHandler{inner: inner, level: level}
}

func (h *RedactingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= LevelSecurity || level >= h.level.Level()
}

func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, ScrubMessage(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(RedactAttr(a))
		return true
	})
	return h.inner.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		redacted[i] = RedactAttr(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(redacted), level: h.level}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), level: h.level}
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newSink builds the underlying text or JSON handler. It accepts every
// level; filtering happens in RedactingHandler.
func newSink(w io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: slog.Level(-8),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= LevelSecurity {
					return slog.String(slog.LevelKey, "SECURITY")
				}
			}
			return a
		},
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
