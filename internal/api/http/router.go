package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/session-gate/internal/api/http/handlers"
	"github.com/spec-kit/session-gate/internal/auth"
	"github.com/spec-kit/session-gate/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Admin          *handlers.AdminUsersHandler
	Account        *handlers.AccountHandler
	Gate           *auth.Gate
	AuthMiddleware *auth.AuthMiddleware
	Registry       *prometheus.Registry
}

// RegisterRoutes wires HTTP routes. The gate runs ahead of every route, including
// unknown ones, so blocked prefixes answer 404 before routing. Health and metrics
// stay off the policy table, so the gate only adds its headers there.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Use(cfg.Gate.Handle)

	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}

	app.Get("/", cfg.Account.Landing)
	app.Get("/account", cfg.Account.Account)

	authGroup := app.Group("/api/auth")
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/federated", cfg.Auth.Federated)
	authGroup.Post("/logout", cfg.Auth.Logout)
	authGroup.Get("/me", cfg.Auth.Me)

	admin := app.Group("/api/admin", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleAdmin))
	admin.Post("/users/:id/ban", cfg.Admin.Ban)
	admin.Post("/users/:id/unban", cfg.Admin.Unban)
	admin.Get("/users/:id/bans", cfg.Admin.BanHistory)
	admin.Put("/users/:id/role", cfg.Admin.ChangeRole)
}
