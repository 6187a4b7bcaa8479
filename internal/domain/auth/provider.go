package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/lestrrat-go/jwx/v3/jws"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// Identity provider error codes
const (
	CodeTokenExpired  = "id-token-expired"
	CodeInvalidToken  = "invalid-id-token"
	CodeArgumentError = "argument-error"
	CodeTokenRevoked  = "id-token-revoked"
	CodeUserDisabled  = "user-disabled"
	CodeUserNotFound  = "user-not-found"
	CodeInternal      = "internal-error"
)

// ProviderError is a classified identity provider failure
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth/%s: %v", e.Code, e.Err)
	}
	return "auth/" + e.Code
}

func (e *ProviderError) Unwrap() error { return e.Err }

func providerError(code string, format string, args ...any) *ProviderError {
	return &ProviderError{Code: code, Err: fmt.Errorf(format, args...)}
}

// ProviderCode extracts the provider code from err, or "" when err is not a ProviderError
func ProviderCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IdentityProvider validates tokens and manages the user directory behind them
type IdentityProvider interface {
	VerifyToken(ctx context.Context, token string, checkRevoked bool) (*Claims, error)
	GetUser(ctx context.Context, subjectID string) (*user.User, error)
	// RevokeRefreshTokens rejects every token of the subject authenticated before now.
	RevokeRefreshTokens(ctx context.Context, subjectID string) error
}

// UserDirectory reads user entries, typically through the Redis cache
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*user.User, error)
}

// TokenRevoker records a forced sign-out in the directory
type TokenRevoker interface {
	RevokeTokens(ctx context.Context, id string) error
}

// ProviderConfig configures claim validation
type ProviderConfig struct {
	Issuer    string
	Audience  []string
	ClockSkew time.Duration
}

// KeyStoreProvider is the IdentityProvider backed by the local JWKS key
// store and the user directory.
type KeyStoreProvider struct {
	keys    *KeyStore
	users   UserDirectory
	revoker TokenRevoker
	cfg     ProviderConfig
	now     func() time.Time
}

// NewKeyStoreProvider creates a KeyStoreProvider
func NewKeyStoreProvider(keys *KeyStore, users UserDirectory, revoker TokenRevoker, cfg ProviderConfig) *KeyStoreProvider {
	return &KeyStoreProvider{
		keys:    keys,
		users:   users,
		revoker: revoker,
		cfg:     cfg,
		now:     time.Now,
	}
}

// VerifyToken checks structure, signature and registered claims, then
// optionally consults the directory for disabled users and revocations.
func (p *KeyStoreProvider) VerifyToken(ctx context.Context, token string, checkRevoked bool) (*Claims, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 || slices.Contains(segments, "") {
		return nil, providerError(CodeArgumentError, "token must have three non-empty segments")
	}

	parsed, err := jwt.Parse(
		[]byte(token),
		jwt.WithKeySet(p.keys.JWKS(), jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(false),
	)
	if err != nil {
		return nil, &ProviderError{Code: CodeInvalidToken, Err: err}
	}

	claims, err := p.buildClaims(parsed, segments[1])
	if err != nil {
		return nil, err
	}
	if err := p.validateClaims(claims); err != nil {
		return nil, err
	}

	if !checkRevoked {
		return claims, nil
	}

	u, err := p.GetUser(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if u.Disabled {
		return nil, providerError(CodeUserDisabled, "user %s is disabled", claims.Subject)
	}
	if u.IssuedBeforeRevocation(claims.authenticatedAt()) {
		return nil, providerError(CodeTokenRevoked, "token authenticated before revocation")
	}
	return claims, nil
}

func (p *KeyStoreProvider) buildClaims(parsed jwt.Token, payload string) (*Claims, error) {
	claims := &Claims{}
	claims.Subject, _ = parsed.Subject()
	claims.Issuer, _ = parsed.Issuer()
	claims.Audience, _ = parsed.Audience()
	claims.IssuedAt, _ = parsed.IssuedAt()
	claims.Expiry, _ = parsed.Expiration()

	// The payload is already signature-checked; decode it again to reach
	// private claims with their JSON shapes intact.
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, &ProviderError{Code: CodeInvalidToken, Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	custom := map[string]any{}
	if err := dec.Decode(&custom); err != nil {
		return nil, &ProviderError{Code: CodeInvalidToken, Err: err}
	}
	for _, registered := range []string{"sub", "iss", "aud", "iat", "exp", "nbf", "jti"} {
		delete(custom, registered)
	}

	if at, ok := numericDate(custom["auth_time"]); ok {
		claims.AuthTime = at
	}
	claims.SignInProvider, _ = custom["sign_in_provider"].(string)
	if fb, ok := custom["firebase"].(map[string]any); ok && claims.SignInProvider == "" {
		claims.SignInProvider, _ = fb["sign_in_provider"].(string)
	}
	claims.Custom = custom
	return claims, nil
}

func (p *KeyStoreProvider) validateClaims(c *Claims) error {
	now := p.now()
	skew := p.cfg.ClockSkew

	if c.Expiry.IsZero() {
		return providerError(CodeInvalidToken, "missing exp claim")
	}
	if now.After(c.Expiry.Add(skew)) {
		return providerError(CodeTokenExpired, "token expired at %s", c.Expiry.Format(time.RFC3339))
	}
	if c.IssuedAt.IsZero() || c.IssuedAt.After(now.Add(skew)) {
		return providerError(CodeInvalidToken, "iat missing or in the future")
	}
	if !c.AuthTime.IsZero() && c.AuthTime.After(now.Add(skew)) {
		return providerError(CodeInvalidToken, "auth_time in the future")
	}
	if c.Subject == "" || len(c.Subject) > 128 {
		return providerError(CodeInvalidToken, "sub missing or too long")
	}
	if p.cfg.Issuer != "" && c.Issuer != p.cfg.Issuer {
		return providerError(CodeInvalidToken, "unexpected issuer %q", c.Issuer)
	}
	if len(p.cfg.Audience) > 0 && !slices.ContainsFunc(c.Audience, func(a string) bool {
		return slices.Contains(p.cfg.Audience, a)
	}) {
		return providerError(CodeInvalidToken, "audience mismatch")
	}
	return nil
}

// GetUser returns the directory entry for subjectID
func (p *KeyStoreProvider) GetUser(ctx context.Context, subjectID string) (*user.User, error) {
	u, err := p.users.GetByID(ctx, subjectID)
	if errors.Is(err, user.ErrUserNotFound) {
		return nil, &ProviderError{Code: CodeUserNotFound, Err: err}
	}
	if err != nil {
		return nil, &ProviderError{Code: CodeInternal, Err: err}
	}
	return u, nil
}

func (p *KeyStoreProvider) RevokeRefreshTokens(ctx context.Context, subjectID string) error {
	if err := p.revoker.RevokeTokens(ctx, subjectID); err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return &ProviderError{Code: CodeUserNotFound, Err: err}
		}
		return &ProviderError{Code: CodeInternal, Err: err}
	}
	return nil
}
