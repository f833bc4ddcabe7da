package services

import (
	"errors"
	"fmt"

	"ledger-explorer/ledger"
	"ledger-explorer/pagination"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ValidationError rejects a request before the mirror or ledger is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Error kinds as they appear in response bodies.
const (
	KindNotFound    = "not_found"
	KindTransport   = "transport"
	KindStaleCursor = "stale_cursor"
	KindValidation  = "validation"
	KindUnavailable = "unavailable"
	KindInternal    = "internal"
)

// Classify maps an error onto its HTTP status and kind.
func Classify(err error) (int, string) {
	var (
		verr *ValidationError
		terr *ledger.TransportError
		ferr *fiber.Error
	)
	switch {
	case errors.As(err, &verr), errors.Is(err, pagination.ErrInvalidCursor):
		return fiber.StatusBadRequest, KindValidation
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.StatusNotFound, KindNotFound
	case errors.Is(err, pagination.ErrStaleCursor):
		return fiber.StatusGone, KindStaleCursor
	case errors.As(err, &terr):
		if terr.Unavailable {
			return fiber.StatusServiceUnavailable, KindUnavailable
		}
		return fiber.StatusBadGateway, KindTransport
	case errors.As(err, &ferr):
		if ferr.Code == fiber.StatusNotFound {
			return ferr.Code, KindNotFound
		}
		return ferr.Code, KindInternal
	}
	return fiber.StatusInternalServerError, KindInternal
}

// ErrorHandler renders every handler error as {"error": kind, "message": ...}.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		status, kind := Classify(err)
		message := err.Error()
		if status >= fiber.StatusInternalServerError {
			logger.Warn("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
		if kind == KindInternal && status == fiber.StatusInternalServerError {
			message = "internal error"
		}
		return c.Status(status).JSON(fiber.Map{
			"error":   kind,
			"message": message,
		})
	}
}
