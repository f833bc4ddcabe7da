// handlers/explorer_routes.go
package handlers

import (
	"strings"

	"ledger-explorer/metrics"
	"ledger-explorer/middleware"
	"ledger-explorer/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

const APIPrefix = "/api/v1"

// NewApp builds the fiber app with the explorer's error rendering, request
// logging and CORS policy. Routes are added by the Setup functions.
func NewApp(logger *zap.Logger, x *metrics.Metrics, allowedOrigins []string) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "ledger-explorer",
		ErrorHandler:          services.ErrorHandler(logger),
		UnescapePath:          true,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(logger, x))

	origins := "*"
	if len(allowedOrigins) > 0 {
		origins = strings.Join(allowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  "GET,POST,OPTIONS,HEAD",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID, Cache-Control",
		ExposeHeaders: "Content-Length, Content-Type, X-Request-ID",
		MaxAge:        86400, // 24 hours
	}))
	return app
}

func SetupExplorerRoutes(app *fiber.App, svc *services.ExplorerService, adminToken string, logger *zap.Logger) {
	api := app.Group(APIPrefix)

	api.Get("/", svc.Health)

	api.Get("/blocks", svc.GetBlocks)
	api.Get("/blocks/stream", svc.StreamBlocks)
	api.Get("/blocks/:height", svc.GetBlock)
	api.Get("/blocks/:height/transactions", svc.GetBlockTransactions)

	api.Get("/transactions", svc.GetTransactions)
	api.Get("/transactions/:hash", svc.GetTransaction)

	api.Get("/accounts", svc.GetAccounts)
	api.Get("/accounts/:domain/:name", svc.GetAccount)

	api.Get("/domains", svc.GetDomains)
	api.Get("/domains/:id", svc.GetDomain)
	api.Get("/domains/:id/accounts", svc.GetDomainAccounts)
	api.Get("/domains/:id/assets", svc.GetDomainAssets)

	api.Get("/asset-definitions", svc.GetAssetDefinitions)
	api.Get("/asset-definitions/:domain/:name", svc.GetAssetDefinition)

	api.Get("/assets", svc.GetAssets)
	api.Get("/assets/:definition/:account", svc.GetAsset)

	api.Get("/peers", svc.GetPeers)
	api.Get("/roles", svc.GetRoles)
	api.Get("/status", svc.GetStatus)

	// Admin routes, bearer token required
	admin := api.Group("/admin", middleware.AdminAuthMiddleware(adminToken, logger))
	admin.Post("/invalidate", svc.PostInvalidate)
}

// SetupMetricsRoute exposes Prometheus metrics outside the API prefix.
func SetupMetricsRoute(app *fiber.App, x *metrics.Metrics) {
	app.Get("/metrics", adaptor.HTTPHandler(x.Handler()))
}
