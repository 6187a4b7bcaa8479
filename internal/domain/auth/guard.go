package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/astrodesk/sessiongate/internal/domain/session"
	"github.com/astrodesk/sessiongate/internal/logging"
)

// SessionLookup is the slice of the session manager the guard needs
type SessionLookup interface {
	LookupSession(ctx context.Context, sessionID string) (*session.Session, error)
	LookupSessionByToken(ctx context.Context, authToken string) (*session.Session, error)
}

// DecisionObserver receives every guard outcome, e.g. for metrics
type DecisionObserver interface {
	GuardDecision(ctx context.Context, allowed bool, class, category string)
}

// Guard decides whether a request may proceed. It never retries: a denial
// is terminal for the request.
type Guard struct {
	verifier TokenVerifier
	sessions SessionLookup
	log      logging.SecurityLogger
	observer DecisionObserver
}

// NewGuard creates a Guard. observer may be nil.
func NewGuard(verifier TokenVerifier, sessions SessionLookup, log logging.SecurityLogger, observer DecisionObserver) *Guard {
	if log == nil {
		log = logging.Default()
	}
	return &Guard{verifier: verifier, sessions: sessions, log: log, observer: observer}
}

// Decide runs the public bypass, bearer extraction, token verification,
// session liveness gate and role gate, in that order.
func (g *Guard) Decide(ctx context.Context, policy RoutePolicy, req Request) Decision {
	d := g.decide(ctx, policy, req)
	if g.observer != nil {
		if d.Allowed {
			g.observer.GuardDecision(ctx, true, "", "")
		} else {
			g.observer.GuardDecision(ctx, false, string(d.Denial.Class), string(d.Denial.Category))
		}
	}
	return d
}

func (g *Guard) decide(ctx context.Context, policy RoutePolicy, req Request) Decision {
	if policy.Public {
		return allow(nil)
	}

	token, category := bearerToken(req.Authorization)
	if category != "" {
		g.log.Security(ctx, logging.SecurityEvent{
			Category: category,
			Severity: logging.SeverityHigh,
			Message:  "Rejected request without a usable bearer token",
			Request:  req.Context,
		})
		return denyUnauthorized(category)
	}

	// Provider and store calls finish even if the client goes away.
	callCtx := context.WithoutCancel(ctx)

	claims, err := g.verifier.Verify(callCtx, token, req.Context)
	if err != nil {
		var ve *VerificationError
		if errors.As(err, &ve) {
			if IsRevoked(err) {
				return denyRevoked(ve.Category)
			}
			return denyUnauthorized(ve.Category)
		}
		return denyUnauthorized(logging.CategoryUnknown)
	}

	identity := &Identity{Subject: claims.Subject, Claims: claims, Token: token}

	if !policy.SessionOptional {
		if d, ok := g.checkSession(callCtx, policy, claims, req, identity); !ok {
			return d
		}
	}

	if len(policy.RequiredRoles) > 0 && !claims.HasAnyRole(policy.RequiredRoles) {
		g.log.Security(ctx, logging.SecurityEvent{
			Category: logging.CategoryInsufficientRole,
			Severity: logging.SeverityMedium,
			Message:  "Caller lacks a required role",
			Request:  req.Context,
			Fields: map[string]any{
				"subject_id":     claims.Subject,
				"required_roles": strings.Join(policy.RequiredRoles, ","),
			},
		})
		return deny(logging.CategoryInsufficientRole, http.StatusForbidden, CodeForbidden)
	}

	return allow(identity)
}

// checkSession is the second, independent revocation gate: a session can be
// revoked while its token is still cryptographically valid. A handle taken
// from the header must belong to the presented token.
func (g *Guard) checkSession(ctx context.Context, policy RoutePolicy, claims *Claims, req Request, identity *Identity) (Decision, bool) {
	sid := claims.SessionID()
	fromHeader := false
	if sid == "" {
		sid = strings.TrimSpace(req.SessionHeader)
		fromHeader = sid != ""
	}
	if sid == "" {
		g.log.Security(ctx, logging.SecurityEvent{
			Category: logging.CategoryMissingSession,
			Severity: logging.SeverityMedium,
			Message:  "Authenticated request without a session handle",
			Request:  req.Context,
			Fields:   map[string]any{"subject_id": claims.Subject},
		})
		return denyUnauthorized(logging.CategoryMissingSession), false
	}

	rec, err := g.sessions.LookupSession(ctx, sid)
	switch {
	case errors.Is(err, session.ErrInvalidSession):
		g.log.Error(ctx, "Malformed session handle presented", "subject_id", claims.Subject, "endpoint", req.Context.Endpoint)
		g.log.Security(ctx, logging.SecurityEvent{
			Category: logging.CategoryInvalidSession,
			Severity: logging.SeverityHigh,
			Message:  "Malformed session handle",
			Request:  req.Context,
			Fields:   map[string]any{"subject_id": claims.Subject, "handle_length": len(sid)},
		})
		return deny(logging.CategoryInvalidSession, http.StatusInternalServerError, CodeSessionIntegrity), false
	case errors.Is(err, session.ErrSessionNotFound):
		g.log.Security(ctx, logging.SecurityEvent{
			Category: logging.CategorySessionNotFound,
			Severity: logging.SeverityMedium,
			Message:  "Unknown session",
			Request:  req.Context,
			Fields:   map[string]any{"subject_id": claims.Subject, "session_id": sid},
		})
		return denyUnauthorized(logging.CategorySessionNotFound), false
	case err != nil:
		g.log.Error(ctx, "Session store unavailable", "session_id", sid, "error", err)
		return deny(logging.CategoryInvalidSession, http.StatusServiceUnavailable, CodeSessionStoreUnavailable), false
	}

	if rec.Revoked {
		g.log.Security(ctx, logging.SecurityEvent{
			Category: logging.CategoryRevokedSession,
			Severity: logging.SeverityHigh,
			Message:  "Request on a revoked session",
			Request:  req.Context,
			Fields:   map[string]any{"subject_id": claims.Subject, "session_id": sid},
		})
		return denyRevoked(logging.CategoryRevokedSession), false
	}

	if rec.SubjectID != claims.Subject {
		g.log.Security(ctx, logging.SecurityEvent{
			Category: logging.CategorySessionMismatch,
			Severity: logging.SeverityHigh,
			Message:  "Session belongs to another subject",
			Request:  req.Context,
			Fields:   map[string]any{"subject_id": claims.Subject, "session_id": sid},
		})
		return denyUnauthorized(logging.CategorySessionMismatch), false
	}

	if fromHeader && !rec.MatchesAuthToken(identity.Token) {
		if policy.Rebind {
			identity.Unbound = true
		} else {
			return g.denyUnboundToken(ctx, identity, req, sid), false
		}
	}

	identity.Session = rec
	return Decision{}, true
}

// denyUnboundToken rejects a token presented with a session handle it is not
// bound to. A token whose own session was revoked reads as revoked.
func (g *Guard) denyUnboundToken(ctx context.Context, identity *Identity, req Request, sid string) Decision {
	owner, err := g.sessions.LookupSessionByToken(ctx, identity.Token)
	switch {
	case err == nil && owner.Revoked:
		g.log.Security(ctx, logging.SecurityEvent{
			Category: logging.CategoryRevokedSession,
			Severity: logging.SeverityHigh,
			Message:  "Token of a revoked session presented with another session handle",
			Request:  req.Context,
			Fields:   map[string]any{"subject_id": identity.Subject, "session_id": sid, "token_session_id": owner.ID},
		})
		return denyRevoked(logging.CategoryRevokedSession)
	case err != nil && !errors.Is(err, session.ErrSessionNotFound):
		g.log.Error(ctx, "Session store unavailable", "session_id", sid, "error", err)
		return deny(logging.CategoryInvalidSession, http.StatusServiceUnavailable, CodeSessionStoreUnavailable)
	}

	g.log.Security(ctx, logging.SecurityEvent{
		Category: logging.CategorySessionMismatch,
		Severity: logging.SeverityHigh,
		Message:  "Token not bound to the presented session",
		Request:  req.Context,
		Fields:   map[string]any{"subject_id": identity.Subject, "session_id": sid},
	})
	return denyUnauthorized(logging.CategorySessionMismatch)
}

// bearerToken extracts the token from an Authorization header. A non-empty
// category means the header is missing or malformed.
func bearerToken(header string) (string, logging.Category) {
	if strings.TrimSpace(header) == "" {
		return "", logging.CategoryMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", logging.CategoryMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", logging.CategoryMalformedHeader
	}
	return token, ""
}
