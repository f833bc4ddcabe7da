// middleware/request_logger.go
package middleware

import (
	"time"

	"ledger-explorer/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags every request with an id, logs it once it completes
// and counts it. Handler errors are rendered here so the logged status is
// the one the client sees.
func RequestLogger(logger *zap.Logger, x *metrics.Metrics) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	return func(c *fiber.Ctx) error {
		start := time.Now()
		id := c.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(RequestIDHeader, id)
		c.Locals("request_id", id)

		if chainErr := c.Next(); chainErr != nil {
			if err := c.App().ErrorHandler(c, chainErr); err != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		route := c.Route().Path
		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		if status >= fiber.StatusInternalServerError {
			logger.Warn("request", fields...)
		} else {
			logger.Debug("request", fields...)
		}
		if x != nil {
			x.ObserveRequest(c.Method(), route, status)
		}
		return nil
	}
}
