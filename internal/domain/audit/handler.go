package audit

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/astrodesk/sessiongate/internal/utils"
)

// Handler serves the admin views of the audit trail
type Handler struct {
	audit Service
}

func NewHandler(s Service) *Handler {
	return &Handler{audit: s}
}

// Query handles GET /admin/auth-events
func (h *Handler) Query(c *fiber.Ctx) error {
	sort, err := ParseSort(c.Query("sort"), c.Query("order"))
	if err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("unsupported sort"))
	}

	filter := Filter{
		SubjectID: c.Query("subject_id"),
		DeviceID:  c.Query("device_id"),
		Type:      EventType(c.Query("type")),
	}
	if filter.From, err = parseTime(c.Query("from")); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("from must be RFC3339"))
	}
	if filter.To, err = parseTime(c.Query("to")); err != nil {
		return utils.ErrorResponse(c, utils.ErrBadRequest.WithDetails("to must be RFC3339"))
	}

	res, err := h.audit.Query(c.UserContext(), filter, sort, pageFrom(c))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, res, "Auth events retrieved successfully")
}

// Get handles GET /admin/auth-events/:id
func (h *Handler) Get(c *fiber.Ctx) error {
	event, err := h.audit.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, fiber.Map{"event": event}, "Auth event retrieved successfully")
}

// ListBySubject handles GET /admin/users/:id/auth-events
func (h *Handler) ListBySubject(c *fiber.Ctx) error {
	res, err := h.audit.ListBySubject(c.UserContext(), c.Params("id"), pageFrom(c))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, res, "Auth events retrieved successfully")
}

// ListByDevice handles GET /admin/devices/:id/auth-events
func (h *Handler) ListByDevice(c *fiber.Ctx) error {
	res, err := h.audit.ListByDevice(c.UserContext(), c.Params("id"), pageFrom(c))
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SuccessResponse(c, res, "Auth events retrieved successfully")
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrEventNotFound):
		return utils.ErrorResponse(c, utils.ErrNotFound)
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrInvalidSort):
		return utils.ErrorResponse(c, utils.ErrBadRequest)
	default:
		return err
	}
}

func pageFrom(c *fiber.Ctx) Page {
	return Page{
		Limit:  c.QueryInt("limit", DefaultLimit),
		Offset: c.QueryInt("offset", 0),
	}.Normalize()
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
