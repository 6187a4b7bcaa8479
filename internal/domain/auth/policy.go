package auth

import (
	"net/http"

	"github.com/astrodesk/sessiongate/internal/logging"
)

// RoutePolicy is the per-route access requirement, resolved by the router
// before the guard runs.
type RoutePolicy struct {
	Public bool
	// RequiredRoles is satisfied by any one role; empty means authentication only.
	RequiredRoles []string
	// SessionOptional skips the session gate, for routes that create sessions.
	SessionOptional bool
	// Rebind admits a live session presented with a token it has not seen
	// yet. The handler must prove possession before rebinding.
	Rebind bool
}

// Public is the policy of unauthenticated routes
func Public() RoutePolicy {
	return RoutePolicy{Public: true}
}

// Authenticated requires a valid token and a live session
func Authenticated() RoutePolicy {
	return RoutePolicy{}
}

// SessionOptional requires a valid token only
func SessionOptional() RoutePolicy {
	return RoutePolicy{SessionOptional: true}
}

// Rebind is the policy of the route that moves a session to a new token
func Rebind() RoutePolicy {
	return RoutePolicy{Rebind: true}
}

// RequireRoles requires a live session and any of roles
func RequireRoles(roles ...string) RoutePolicy {
	return RoutePolicy{RequiredRoles: roles}
}

// Request is the transport-independent view of an inbound request
type Request struct {
	Authorization string
	// SessionHeader is consulted when the token carries no sid claim.
	SessionHeader string
	Context       logging.RequestContext
}

// Denial codes surfaced to clients
const (
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeTokenRevokedDenial      = "TOKEN_REVOKED"
	CodeForbidden               = "FORBIDDEN"
	CodeSessionIntegrity        = "SESSION_INTEGRITY_ERROR"
	CodeSessionStoreUnavailable = "SESSION_STORE_UNAVAILABLE"
)

// Denial explains why a request was rejected. Category stays server-side.
type Denial struct {
	Class    logging.Class
	Category logging.Category
	Status   int
	Code     string
}

// Decision is the guard's typed result: Allowed with an identity, or a Denial.
type Decision struct {
	Allowed  bool
	Identity *Identity
	Denial   *Denial
}

func allow(identity *Identity) Decision {
	return Decision{Allowed: true, Identity: identity}
}

func deny(category logging.Category, status int, code string) Decision {
	return Decision{Denial: &Denial{
		Class:    category.Class(),
		Category: category,
		Status:   status,
		Code:     code,
	}}
}

func denyUnauthorized(category logging.Category) Decision {
	return deny(category, http.StatusUnauthorized, CodeUnauthorized)
}

func denyRevoked(category logging.Category) Decision {
	return deny(category, http.StatusUnauthorized, CodeTokenRevokedDenial)
}
