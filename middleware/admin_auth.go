// middleware/admin_auth.go
package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// AdminAuthMiddleware validates the Bearer token on administrative routes.
// With no token configured the admin API is disabled outright.
func AdminAuthMiddleware(expectedToken string, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("admin_auth")

	return func(c *fiber.Ctx) error {
		if expectedToken == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "admin API is disabled",
			})
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			logger.Info("missing Authorization header", zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "admin token missing",
			})
		}

		// Parse "Bearer <token>", accepting a raw token as well
		token := strings.TrimPrefix(authHeader, "Bearer ")

		if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
			logger.Warn("invalid admin token", zap.String("path", c.Path()), zap.String("ip", c.IP()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "invalid admin token",
			})
		}
		return c.Next()
	}
}
