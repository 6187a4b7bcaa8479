package utils

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a success JSON response
func SuccessResponse(c *fiber.Ctx, data any, message string, code ...int) error {
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// SuccessWithWarnings sends a success JSON response carrying non-fatal warnings.
// Warnings are omitted when empty.
func SuccessWithWarnings(c *fiber.Ctx, data any, message string, warnings []string, code ...int) error {
	if len(warnings) == 0 {
		return SuccessResponse(c, data, message, code...)
	}
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success":  true,
		"data":     data,
		"message":  message,
		"warnings": warnings,
	})
}

// ErrorResponse sends an error JSON response built from apiErr.
// An explicit status overrides apiErr.Status without mutating the shared instance.
func ErrorResponse(c *fiber.Ctx, apiErr *APIError, code ...int) error {
	if apiErr == nil {
		apiErr = ErrInternalServer
	}
	statusCode := apiErr.Status
	if len(code) > 0 {
		statusCode = code[0]
	}
	if statusCode == 0 {
		statusCode = fiber.StatusInternalServerError
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": false,
		"error":   apiErr,
	})
}

// ErrorHandler is the Fiber error handler; it never exposes internal error text
func ErrorHandler(c *fiber.Ctx, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return ErrorResponse(c, apiErr)
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			return ErrorResponse(c, ErrNotFound)
		case fiber.StatusTooManyRequests:
			return ErrorResponse(c, ErrTooManyRequest)
		case fiber.StatusBadRequest:
			return ErrorResponse(c, ErrBadRequest)
		default:
			return ErrorResponse(c, NewAPIError("HTTP_ERROR", fiberErr.Message, fiberErr.Code))
		}
	}

	slog.Error("Unhandled request error", "path", c.Path(), "method", c.Method(), "error", err)
	return ErrorResponse(c, ErrInternalServer)
}
