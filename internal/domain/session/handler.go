package session

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/astrodesk/sessiongate/internal/utils"
)

// Handler serves the admin session views
type Handler struct {
	sessions Manager
}

func NewHandler(m Manager) *Handler {
	return &Handler{sessions: m}
}

// Stats handles GET /admin/sessions/stats
func (h *Handler) Stats(c *fiber.Ctx) error {
	ctx := c.UserContext()
	sessions, err := h.sessions.GetTotalSessions(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	devices, err := h.sessions.GetTotalDevices(ctx)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, fiber.Map{
		"total_sessions": sessions,
		"total_devices":  devices,
	}, "Session statistics retrieved successfully")
}

// Get handles GET /admin/sessions/:id
func (h *Handler) Get(c *fiber.Ctx) error {
	rec, err := h.sessions.LookupSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, fiber.Map{"session": rec}, "Session retrieved successfully")
}

// ListBySubject handles GET /admin/users/:id/sessions
func (h *Handler) ListBySubject(c *fiber.Ctx) error {
	list, err := h.sessions.ListSubjectSessions(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, fiber.Map{
		"sessions": list,
		"count":    len(list),
	}, "Sessions retrieved successfully")
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrInvalidSession), errors.Is(err, ErrInvalidSubject):
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	case errors.Is(err, ErrSessionNotFound):
		return utils.ErrorResponse(c, utils.ErrNotFound)
	case errors.Is(err, ErrStoreUnavailable):
		return utils.ErrorResponse(c, utils.ErrSessionStoreUnavailable)
	default:
		return err
	}
}
