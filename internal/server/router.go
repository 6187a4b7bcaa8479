package server

import (
	"github.com/gofiber/fiber/v2"

	"github.com/astrodesk/sessiongate/internal/config"
	"github.com/astrodesk/sessiongate/internal/domain/auth"
)

// RoleAdmin gates the operator views
const RoleAdmin = "admin"

type route struct {
	method  string
	path    string
	policy  auth.RoutePolicy
	handler fiber.Handler
	devOnly bool
}

// routes is the full route table. Every route carries its access policy.
func routes(c *Components) []route {
	admin := auth.RequireRoles(RoleAdmin)

	return []route{
		{fiber.MethodGet, "/v1/health", auth.Public(), health, false},
		{fiber.MethodGet, "/.well-known/jwks.json", auth.Public(), c.IssuerHandler.JWKS, false},
		{fiber.MethodPost, "/v1/dev/token", auth.Public(), c.IssuerHandler.DevToken, true},

		{fiber.MethodPost, "/v1/auth/register", auth.SessionOptional(), c.AuthHandler.Register, false},
		{fiber.MethodPost, "/v1/auth/login", auth.SessionOptional(), c.AuthHandler.Login, false},
		{fiber.MethodPost, "/v1/auth/refresh", auth.Rebind(), c.AuthHandler.Refresh, false},
		{fiber.MethodPost, "/v1/auth/logout", auth.Authenticated(), c.AuthHandler.Logout, false},
		{fiber.MethodGet, "/v1/auth/me", auth.Authenticated(), c.AuthHandler.Me, false},

		{fiber.MethodGet, "/v1/admin/sessions/stats", admin, c.SessionHandler.Stats, false},
		{fiber.MethodGet, "/v1/admin/sessions/:id", admin, c.SessionHandler.Get, false},
		{fiber.MethodGet, "/v1/admin/users/:id/sessions", admin, c.SessionHandler.ListBySubject, false},
		{fiber.MethodPost, "/v1/admin/users/:id/revoke", admin, c.AuthHandler.RevokeSubject, false},
		{fiber.MethodGet, "/v1/admin/auth-events", admin, c.AuditHandler.Query, false},
		{fiber.MethodGet, "/v1/admin/auth-events/:id", admin, c.AuditHandler.Get, false},
		{fiber.MethodGet, "/v1/admin/users/:id/auth-events", admin, c.AuditHandler.ListBySubject, false},
		{fiber.MethodGet, "/v1/admin/devices/:id/auth-events", admin, c.AuditHandler.ListByDevice, false},
	}
}

// SetupRoutes mounts the route table on app, each route behind the guard
// with its policy. Development-only routes need ENVIRONMENT=development and
// auth.dev_issuer; anything else leaves them unmounted.
func SetupRoutes(app *fiber.App, cfg *config.Config, env *config.Environment, c *Components) {
	devRoutes := env.DevIssuerEnabled(cfg)
	for _, r := range routes(c) {
		if r.devOnly && !devRoutes {
			continue
		}
		app.Add(r.method, r.path, auth.Middleware(c.Guard, r.policy), r.handler)
	}
}

func health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "ok",
	})
}
