package logging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// RedactedMarker is appended to every redacted value
	RedactedMarker = "[REDACTED]"
	// visiblePrefix is the number of leading characters kept as a correlation handle
	visiblePrefix = 6
	// opaqueMinLength is the length from which an unbroken token-alphabet string is treated as a secret
	opaqueMinLength = 32
)

// sensitiveKeywords are matched as case-insensitive substrings of attribute keys.
var sensitiveKeywords = []string{
	"token",
	"secret",
	"password",
	"passwd",
	"credential",
	"authorization",
	"cookie",
	"apikey",
	"api_key",
	"private",
	"connection",
	"dsn",
	"ssn",
	"email",
	"phone",
}

var (
	jwtPattern    = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]*`)
	opaquePattern = regexp.MustCompile(`^[A-Za-z0-9+/=_-]+$`)
)

// IsSensitiveKey reports whether an attribute key names sensitive material.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}

// Truncate keeps a short prefix of value and appends the redaction marker.
// At most half of the value is ever shown.
func Truncate(value string) string {
	if value == "" {
		return ""
	}
	n := min(visiblePrefix, len(value)/2)
	return value[:n] + "..." + RedactedMarker
}

// TokenPrefix returns the short form of a bearer token that is safe to log.
func TokenPrefix(token string) string {
	if len(token) <= 8 {
		return "..."
	}
	return token[:8] + "..."
}

func looksLikeJWT(value string) bool {
	return jwtPattern.MatchString(value) && strings.Count(value, ".") == 2 && !strings.ContainsAny(value, " \t")
}

func looksOpaque(value string) bool {
	if len(value) < opaqueMinLength || !opaquePattern.MatchString(value) {
		return false
	}
	_, err := uuid.Parse(value)
	return err != nil
}

// RedactString applies key- and shape-based redaction to a single value.
func RedactString(key, value string) string {
	if strings.HasSuffix(value, RedactedMarker) {
		return value
	}
	if IsSensitiveKey(key) || looksLikeJWT(value) || looksOpaque(value) {
		return Truncate(value)
	}
	return value
}

// ScrubMessage replaces JWT-shaped substrings inside free-form text.
func ScrubMessage(msg string) string {
	return jwtPattern.ReplaceAllStringFunc(msg, Truncate)
}

// RedactAttr returns a copy of a with sensitive values truncated. Keys of
// enclosing groups propagate sensitivity to their members.
func RedactAttr(a slog.Attr) slog.Attr {
	return redactAttr(a, false)
}

func redactAttr(a slog.Attr, inherited bool) slog.Attr {
	sensitive := inherited || IsSensitiveKey(a.Key)
	v := a.Value.Resolve()

	switch v.Kind() {
	case slog.KindGroup:
		members := v.Group()
		out := make([]slog.Attr, 0, len(members))
		for _, m := range members {
			out = append(out, redactAttr(m, sensitive))
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindString:
		s := v.String()
		if sensitive {
			return slog.String(a.Key, Truncate(s))
		}
		return slog.String(a.Key, RedactString(a.Key, s))
	case slog.KindAny:
		return redactAny(a.Key, v.Any(), sensitive)
	default:
		if sensitive {
			return slog.String(a.Key, Truncate(v.String()))
		}
		return slog.Attr{Key: a.Key, Value: v}
	}
}

func redactAny(key string, value any, sensitive bool) slog.Attr {
	switch val := value.(type) {
	case map[string]any:
		attrs := make([]slog.Attr, 0, len(val))
		for k, inner := range val {
			attrs = append(attrs, redactAttr(slog.Any(k, inner), sensitive))
		}
		return slog.Attr{Key: key, Value: slog.GroupValue(attrs...)}
	case map[string]string:
		attrs := make([]slog.Attr, 0, len(val))
		for k, inner := range val {
			attrs = append(attrs, redactAttr(slog.String(k, inner), sensitive))
		}
		return slog.Attr{Key: key, Value: slog.GroupValue(attrs...)}
	case []byte:
		return redactAttr(slog.String(key, string(val)), sensitive)
	case error:
		return slog.String(key, ScrubMessage(val.Error()))
	case fmt.Stringer:
		return redactAttr(slog.String(key, val.String()), sensitive)
	case nil:
		return slog.Any(key, nil)
	default:
		if sensitive {
			return slog.String(key, Truncate(fmt.Sprint(val)))
		}
		return slog.Any(key, val)
	}
}
