package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

const webhookPath = "/api/payment/webhook"

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Gateway deliveries are never throttled; a dropped webhook is only
	// recovered by the gateway's own retry schedule.
	limit := limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == webhookPath
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	})

	api := app.Group("/api", limit)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "PayFox API",
		})
	})

	payment := api.Group("/payment")
	if h.deps.Webhook != nil {
		payment.Post("/webhook", h.deps.Webhook.HandleWebhook)
		payment.Get("/webhook-status", h.deps.Webhook.HandleWebhookStatus)
	}
	if h.deps.Payment != nil {
		payment.Post("/create-order", middleware.RequireJSON, h.deps.Payment.HandleCreateOrder)
		payment.Post("/verify", middleware.RequireJSON, h.deps.Payment.HandleVerify)
		payment.Get("/status/:orderId", h.deps.Payment.HandleStatus)
		payment.Get("/check-status/:orderId", h.deps.Payment.HandleCheckStatus)
		payment.Post("/complete-payment/:orderId", middleware.RequireJSON, h.deps.Payment.HandleCompletePayment)
		// short form used by polling clients
		app.Get("/status/:orderId", h.deps.Payment.HandleStatus)
	}
	if h.deps.PaymentLog != nil {
		payment.Get("/logs", h.deps.PaymentLog.HandleListLogs)
		payment.Get("/logs/:orderId", h.deps.PaymentLog.HandleLogsByOrder)
		api.Get("/orders/:orderId/transactions", h.deps.PaymentLog.HandleOrderTransactions)
	}
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
