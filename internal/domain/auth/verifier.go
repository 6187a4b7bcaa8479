package auth

import (
	"context"
	"errors"

	"github.com/astrodesk/sessiongate/internal/logging"
)

// ErrAuthenticationFailed is the only failure text callers ever see
var ErrAuthenticationFailed = errors.New("authentication failed")

// VerificationError carries the internal classification of a failed
// verification. Its message is always the uniform one.
type VerificationError struct {
	Category     logging.Category
	Severity     logging.Severity
	ProviderCode string
}

func (e *VerificationError) Error() string {
	return ErrAuthenticationFailed.Error()
}

// Is lets errors.Is(err, ErrAuthenticationFailed) match
func (e *VerificationError) Is(target error) bool {
	return target == ErrAuthenticationFailed
}

// IsRevoked reports whether err is a verification failure for a revoked token
func IsRevoked(err error) bool {
	var ve *VerificationError
	return errors.As(err, &ve) && ve.Category == logging.CategoryRevokedToken
}

// TokenVerifier is what the guard depends on
type TokenVerifier interface {
	Verify(ctx context.Context, token string, req logging.RequestContext) (*Claims, error)
}

// Verifier verifies bearer tokens through the identity provider, always
// checking revocation, and logs every outcome.
type Verifier struct {
	provider IdentityProvider
	log      logging.SecurityLogger
}

// NewVerifier creates a Verifier
func NewVerifier(provider IdentityProvider, log logging.SecurityLogger) *Verifier {
	if log == nil {
		log = logging.Default()
	}
	return &Verifier{provider: provider, log: log}
}

func (v *Verifier) Verify(ctx context.Context, token string, req logging.RequestContext) (*Claims, error) {
	claims, err := v.provider.VerifyToken(ctx, token, true)
	if err == nil {
		v.log.Debug(ctx, "Token verified",
			"subject_id", claims.Subject,
			"sign_in_provider", claims.SignInProvider,
			"endpoint", req.Endpoint,
		)
		return claims, nil
	}

	code := ProviderCode(err)
	category, severity := classify(code)
	v.log.Security(ctx, logging.SecurityEvent{
		Category: category,
		Severity: severity,
		Message:  "Token verification failed",
		Request:  req,
		Fields: map[string]any{
			"prefix":        logging.TokenPrefix(token),
			"provider_code": code,
			"detail":        err.Error(),
		},
	})
	return nil, &VerificationError{Category: category, Severity: severity, ProviderCode: code}
}

// classify maps provider codes to a category and severity. Forgery and
// post-hoc revocation signals are high; expiry is routine.
func classify(code string) (logging.Category, logging.Severity) {
	switch code {
	case CodeTokenExpired:
		return logging.CategoryExpiredToken, logging.SeverityLow
	case CodeInvalidToken:
		return logging.CategoryInvalidToken, logging.SeverityHigh
	case CodeArgumentError:
		return logging.CategoryMalformedToken, logging.SeverityHigh
	case CodeTokenRevoked:
		return logging.CategoryRevokedToken, logging.SeverityHigh
	case CodeUserDisabled:
		return logging.CategoryDisabledUser, logging.SeverityMedium
	case CodeUserNotFound:
		return logging.CategoryUserNotFound, logging.SeverityMedium
	default:
		return logging.CategoryUnknown, logging.SeverityMedium
	}
}
