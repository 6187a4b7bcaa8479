package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/astrodesk/sessiongate/internal/logging"
	"github.com/astrodesk/sessiongate/internal/utils"
)

const (
	// IdentityKey is the key used to store the identity in Fiber context
	IdentityKey = "identity"
	// SessionHeader carries the session handle when the token has no sid claim
	SessionHeader = "X-Session-Id"
)

// Middleware runs the guard with policy in front of the route
func Middleware(guard *Guard, policy RoutePolicy) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision := guard.Decide(c.UserContext(), policy, RequestFromFiber(c))
		if !decision.Allowed {
			return utils.ErrorResponse(c, denialError(decision.Denial))
		}
		if decision.Identity != nil {
			c.Locals(IdentityKey, decision.Identity)
		}
		return c.Next()
	}
}

// RequestFromFiber builds the guard's view of a Fiber request
func RequestFromFiber(c *fiber.Ctx) Request {
	return Request{
		Authorization: c.Get(fiber.HeaderAuthorization),
		SessionHeader: c.Get(SessionHeader),
		Context:       RequestContext(c),
	}
}

// RequestContext extracts the fields security events are tagged with
func RequestContext(c *fiber.Ctx) logging.RequestContext {
	return logging.RequestContext{
		IP:        c.IP(),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		Endpoint:  c.Path(),
		Method:    c.Method(),
	}
}

// denialError maps a denial to the uniform client error. Categories never
// leave the server.
func denialError(d *Denial) *utils.APIError {
	switch d.Code {
	case CodeTokenRevokedDenial:
		return utils.ErrTokenRevoked
	case CodeForbidden:
		return utils.ErrForbidden
	case CodeSessionIntegrity:
		return utils.ErrSessionIntegrity
	case CodeSessionStoreUnavailable:
		return utils.ErrSessionStoreUnavailable
	default:
		return utils.ErrUnauthorized
	}
}

// GetIdentity extracts the identity from Fiber context
func GetIdentity(c *fiber.Ctx) *Identity {
	identity, ok := c.Locals(IdentityKey).(*Identity)
	if !ok {
		return nil
	}
	return identity
}
