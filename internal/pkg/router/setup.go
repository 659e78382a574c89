package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the constructed controllers and settings the routes need.
type Dependencies struct {
	Webhook    *controllers.WebhookController
	Payment    *controllers.PaymentController
	PaymentLog *controllers.PaymentLogController
	Admin      *controllers.AdminQueueController
	Realtime   *controllers.RealtimeController

	AdminUser         string
	AdminPasswordHash string

	// LimiterStorage backs the API rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	// OpenAPIFile is served under /docs/api/v1 when it exists.
	OpenAPIFile string
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter adds the shared middleware, so it goes first.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
