package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	if h.deps.Admin == nil {
		return
	}
	admin := app.Group("/admin", middleware.RequireAdmin(h.deps.AdminUser, h.deps.AdminPasswordHash))

	admin.Get("/metrics", monitor.New(monitor.Config{Title: "PayFox Metrics"}))

	queue := admin.Group("/queue")
	queue.Get("/stats", h.deps.Admin.HandleStats)
	queue.Get("/failed", h.deps.Admin.HandleFailed)
	queue.Get("/jobs/:id", h.deps.Admin.HandleJob)
	queue.Post("/jobs/:id/retry", h.deps.Admin.HandleRetry)
}
