package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/astrodesk/sessiongate/internal/domain/session"
	"github.com/astrodesk/sessiongate/internal/domain/user"
	"github.com/astrodesk/sessiongate/internal/utils"
)

type Handler struct {
	authService AuthService
}

func NewHandler(s AuthService) *Handler {
	return &Handler{authService: s}
}

func (h *Handler) Register(c *fiber.Ctx) error {
	identity := GetIdentity(c)
	if identity == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("invalid_body"))
	}

	res, err := h.authService.Register(callContext(c), identity, req, RequestContext(c))
	if err != nil {
		return sessionFailure(c, err)
	}

	return utils.SuccessWithWarnings(c, res, "Registration successful", res.Warnings, fiber.StatusCreated)
}

func (h *Handler) Login(c *fiber.Ctx) error {
	identity := GetIdentity(c)
	if identity == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	var req DeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("invalid_body"))
	}

	res, err := h.authService.Login(callContext(c), identity, req, RequestContext(c))
	if err != nil {
		return sessionFailure(c, err)
	}

	return utils.SuccessWithWarnings(c, res, "Login successful", res.Warnings)
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	identity := GetIdentity(c)
	if identity == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("invalid_body"))
		}
	}

	if err := h.authService.Refresh(callContext(c), identity, req.RefreshToken); err != nil {
		return sessionFailure(c, err)
	}

	return utils.SuccessResponse(c, fiber.Map{"session_id": identity.SessionID()}, "Session refreshed")
}

func (h *Handler) Logout(c *fiber.Ctx) error {
	identity := GetIdentity(c)
	if identity == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	var req struct {
		ClientTimestamp *time.Time `json:"client_timestamp"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("invalid_body"))
		}
	}

	warnings, err := h.authService.Logout(callContext(c), identity, req.ClientTimestamp, RequestContext(c))
	if err != nil {
		return sessionFailure(c, err)
	}

	return utils.SuccessWithWarnings(c, fiber.Map{"session_id": identity.SessionID()}, "Logout successful", warnings)
}

// Me returns the caller's claims and session
func (h *Handler) Me(c *fiber.Ctx) error {
	identity := GetIdentity(c)
	if identity == nil {
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"subject":          identity.Subject,
		"roles":            identity.Claims.Roles(),
		"sign_in_provider": identity.Claims.SignInProvider,
		"auth_time":        identity.Claims.authenticatedAt(),
		"session":          identity.Session,
	}, "Identity retrieved successfully")
}

// RevokeSubject handles POST /admin/users/:id/revoke
func (h *Handler) RevokeSubject(c *fiber.Ctx) error {
	subject := strings.TrimSpace(c.Params("id"))
	if subject == "" {
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("id is required"))
	}

	count, err := h.authService.RevokeSubject(callContext(c), subject)
	if err != nil {
		return sessionFailure(c, err)
	}

	return utils.SuccessResponse(c, fiber.Map{
		"subject_id":       subject,
		"revoked_sessions": count,
	}, "Subject signed out everywhere")
}

// callContext detaches session writes and audit records from client
// disconnects so they run to completion once started.
func callContext(c *fiber.Ctx) context.Context {
	return context.WithoutCancel(c.UserContext())
}

// sessionFailure maps session and directory errors to the API envelope
func sessionFailure(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, session.ErrInvalidDevice):
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("invalid device_id"))
	case errors.Is(err, session.ErrInvalidSubject):
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("invalid subject"))
	case errors.Is(err, session.ErrMissingAuthToken):
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	case errors.Is(err, session.ErrInvalidSession):
		return utils.ErrorResponse(c, utils.ErrSessionIntegrity)
	case errors.Is(err, session.ErrSessionRevoked):
		return utils.ErrorResponse(c, utils.ErrTokenRevoked)
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrTokenMismatch):
		return utils.ErrorResponse(c, utils.ErrUnauthorized)
	case errors.Is(err, session.ErrStoreUnavailable):
		return utils.ErrorResponse(c, utils.ErrSessionStoreUnavailable)
	case errors.Is(err, user.ErrUserNotFound):
		return utils.ErrorResponse(c, utils.ErrNotFound)
	default:
		return err
	}
}
