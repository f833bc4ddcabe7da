package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ledger-explorer/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestAdminAuthMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		header   string
		status   int
	}{
		{"disabled without token", "", "Bearer anything", fiber.StatusForbidden},
		{"missing header", "s3cret", "", fiber.StatusUnauthorized},
		{"wrong token", "s3cret", "Bearer nope", fiber.StatusUnauthorized},
		{"bearer token", "s3cret", "Bearer s3cret", fiber.StatusOK},
		{"raw token", "s3cret", "s3cret", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Post("/admin", AdminAuthMiddleware(tt.expected, zaptest.NewLogger(t)), func(c *fiber.Ctx) error {
				return c.SendString("ok")
			})

			req := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRequestLogger_RequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogger(zaptest.NewLogger(t), nil))
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("request_id").(string))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	id := resp.Header.Get(RequestIDHeader)
	_, err = uuid.Parse(id)
	assert.NoError(t, err, "generated id %q", id)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "trace-42")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "trace-42", resp.Header.Get(RequestIDHeader))
}

func TestRequestLogger_RendersErrorsAndCounts(t *testing.T) {
	x := metrics.New(nil)
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(fiber.StatusTeapot).SendString(err.Error())
		},
	})
	app.Use(RequestLogger(zaptest.NewLogger(t), x))
	app.Get("/fail", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/fail", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)
	assert.Equal(t, 1.0, testutil.ToFloat64(x.HTTPRequests.WithLabelValues("GET", "/fail", "418")))
}
