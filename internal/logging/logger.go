package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"
)

// Severity grades a security event
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Category names the kind of security event
type Category string

const (
	CategoryMissingHeader    Category = "missing_header"
	CategoryMalformedHeader  Category = "malformed_header"
	CategoryInvalidToken     Category = "invalid_token"
	CategoryMalformedToken   Category = "malformed_token"
	CategoryExpiredToken     Category = "expired_token"
	CategoryRevokedToken     Category = "revoked_token"
	CategoryDisabledUser     Category = "disabled_user"
	CategoryUserNotFound     Category = "user_not_found"
	CategoryUnknown          Category = "unknown"
	CategoryMissingSession   Category = "missing_session"
	CategoryInvalidSession   Category = "invalid_session"
	CategorySessionNotFound  Category = "session_not_found"
	CategoryRevokedSession   Category = "revoked_session"
	CategorySessionMismatch  Category = "session_subject_mismatch"
	CategoryInsufficientRole Category = "insufficient_role"
)

// Class groups categories into the failure taxonomy used by logs and metrics.
type Class string

const (
	ClassAuthentication Class = "authentication"
	ClassAuthorization  Class = "authorization"
	ClassSession        Class = "session_integrity"
)

// Class returns the failure class the category belongs to.
func (c Category) Class() Class {
	switch c {
	case CategoryInsufficientRole:
		return ClassAuthorization
	case CategoryInvalidSession:
		return ClassSession
	default:
		return ClassAuthentication
	}
}

// RequestContext describes the request a security event was observed on.
type RequestContext struct {
	IP        string
	UserAgent string
	Endpoint  string
	Method    string
}

func (r RequestContext) attr() slog.Attr {
	return slog.Group("request",
		slog.String("ip", r.IP),
		slog.String("user_agent", r.UserAgent),
		slog.String("endpoint", r.Endpoint),
		slog.String("method", r.Method),
	)
}

// SecurityEvent is a classified authentication or authorization anomaly.
// It is logged, never persisted.
type SecurityEvent struct {
	Category Category
	Severity Severity
	Message  string
	Request  RequestContext
	Fields   map[string]any
}

// SecurityLogger is the logging capability handed to every component.
type SecurityLogger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	Security(ctx context.Context, event SecurityEvent)
}

// Options configures New
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

// Logger is the slog-backed SecurityLogger
type Logger struct {
	slog *slog.Logger
}

// New creates a Logger writing redacted entries to opts.Writer (stdout by default).
func New(opts Options) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	handler := NewRedactingHandler(newSink(w, opts.Format), ParseLevel(opts.Level))
	return &Logger{slog: slog.New(handler)}
}

// NewWithHandler wraps an existing handler with redaction.
func NewWithHandler(inner slog.Handler, level slog.Leveler) *Logger {
	return &Logger{slog: slog.New(NewRedactingHandler(inner, level))}
}

// Slog exposes the underlying slog logger, e.g. for slog.SetDefault.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a Logger carrying the given attributes on every entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...)}
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.slog.DebugContext(ctx, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.slog.InfoContext(ctx, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.slog.WarnContext(ctx, msg, args...)
}

func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.slog.ErrorContext(ctx, msg, args...)
}

// Security emits the event at LevelSecurity regardless of the configured level.
func (l *Logger) Security(ctx context.Context, event SecurityEvent) {
	msg := event.Message
	if msg == "" {
		msg = "security event"
	}

	attrs := []slog.Attr{
		slog.String("category", string(event.Category)),
		slog.String("class", string(event.Category.Class())),
		slog.String("severity", string(event.Severity)),
		event.Request.attr(),
	}
	if event.Severity == SeverityHigh {
		attrs = append(attrs, slog.Bool("attack_signal", true))
	}

	keys := make([]string, 0, len(event.Fields))
	for k := range event.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Fields[k]))
	}

	l.slog.LogAttrs(ctx, LevelSecurity, msg, attrs...)
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(New(Options{}))
}

// Default returns the process-wide logger wired at startup.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger and points slog's default at it.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger.Store(l)
	slog.SetDefault(l.slog)
}
