package auth

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/astrodesk/sessiongate/internal/domain/session"
)

// Claims is the verified content of a bearer token. It is built fresh on
// every verification and never persisted.
type Claims struct {
	Subject        string         `json:"sub"`
	Issuer         string         `json:"iss"`
	Audience       []string       `json:"aud"`
	IssuedAt       time.Time      `json:"iat"`
	Expiry         time.Time      `json:"exp"`
	AuthTime       time.Time      `json:"auth_time"`
	SignInProvider string         `json:"sign_in_provider,omitempty"`
	Custom         map[string]any `json:"-"`
}

// Roles returns the roles carried by the "roles" array or "role" string claim
func (c *Claims) Roles() []string {
	var roles []string
	switch v := c.Custom["roles"].(type) {
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
	case []string:
		roles = append(roles, v...)
	case string:
		roles = append(roles, strings.Fields(v)...)
	}
	if s, ok := c.Custom["role"].(string); ok && s != "" && !slices.Contains(roles, s) {
		roles = append(roles, s)
	}
	return roles
}

// HasAnyRole reports whether the claims intersect required
func (c *Claims) HasAnyRole(required []string) bool {
	for _, r := range c.Roles() {
		if slices.Contains(required, r) {
			return true
		}
	}
	return false
}

// SessionID returns the "sid" claim, if any
func (c *Claims) SessionID() string {
	sid, _ := c.Custom["sid"].(string)
	return sid
}

// StringClaim returns a string-valued custom claim
func (c *Claims) StringClaim(name string) string {
	s, _ := c.Custom[name].(string)
	return s
}

// authenticatedAt is the instant revocation checks compare against
func (c *Claims) authenticatedAt() time.Time {
	if !c.AuthTime.IsZero() {
		return c.AuthTime
	}
	return c.IssuedAt
}

func numericDate(v any) (time.Time, bool) {
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case int64:
		secs = float64(n)
	case int:
		secs = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0).UTC(), true
}

// Identity is attached to a request once the guard allows it
type Identity struct {
	Subject string
	Claims  *Claims
	// Session is nil on routes where the session is optional.
	Session *session.Session
	// Token is the raw bearer token, kept for session fingerprinting.
	Token string `json:"-"`
	// Unbound is set on Rebind routes when Token is not the session's token.
	Unbound bool `json:"-"`
}

// SessionID returns the bound session id, or ""
func (i *Identity) SessionID() string {
	if i == nil || i.Session == nil {
		return ""
	}
	return i.Session.ID
}
