package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	domain "github.com/example/task-service/domain/task"
	"github.com/example/task-service/modules/database"
)

// retryAfterSeconds is sent with 503 when the connection pool is exhausted.
const retryAfterSeconds = "5"

// mapError translates a service error into a status and body. Storage and
// unclassified errors get a generic message; the details are only logged.
func mapError(err error, id string) (int, ErrorResponse) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return fiber.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation_failed",
			Message: "Request validation failed",
			Fields:  verr.Fields,
		}
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: fmt.Sprintf("Task with ID %s not found", id),
		}
	case errors.Is(err, database.ErrResourceExhausted):
		return fiber.StatusServiceUnavailable, ErrorResponse{
			Error:   "resource_exhausted",
			Message: "Service is busy, retry later",
		}
	case errors.Is(err, database.ErrStorageUnavailable):
		return fiber.StatusServiceUnavailable, ErrorResponse{
			Error:   "storage_unavailable",
			Message: "Storage is temporarily unavailable",
		}
	default:
		return fiber.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Internal server error",
		}
	}
}

// writeError answers a failed request, logging server-side failures with
// their full context.
func (m *Module) writeError(c *fiber.Ctx, err error) error {
	status, body := mapError(err, c.Params("id"))

	if errors.Is(err, database.ErrResourceExhausted) {
		c.Set(fiber.HeaderRetryAfter, retryAfterSeconds)
	}
	if status >= fiber.StatusInternalServerError {
		m.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"request_id", c.Locals("requestid"),
			"error", err,
		)
	}

	return c.Status(status).JSON(body)
}

// errorHandler answers errors fiber raises itself, such as unknown routes
// and recovered panics.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorResponse{
			Error:   errorCode(fe.Code),
			Message: fe.Message,
		})
	}

	m.logger.Error("unhandled error", "method", c.Method(), "path", c.Path(), "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error:   "internal_error",
		Message: "Internal server error",
	})
}

func errorCode(status int) string {
	return strings.ReplaceAll(strings.ToLower(utils.StatusMessage(status)), " ", "_")
}
