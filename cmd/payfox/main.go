package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/controllers"
	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/PayFox/internal/pkg/cache"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
	"github.com/ManuelReschke/PayFox/internal/pkg/realtime"
	"github.com/ManuelReschke/PayFox/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	services, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer services.Close()

	hub := realtime.NewHub()
	relay := realtime.NewRelay(services.Redis, realtime.DefaultChannel, hub)
	go relay.Run(ctx, nil)

	if cfg.RunWorkers {
		services.StartWorkers()
	}

	app := NewApplication(cfg, services, hub)
	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Errorf("[Server] Listen failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("[Server] Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warnf("[Server] Shutdown error: %v", err)
	}
}

func NewApplication(cfg *config.Config, services *bootstrap.Services, hub *realtime.Hub) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "PayFox",
		BodyLimit: 1 << 20,
	})

	router.InstallRouter(app, router.Dependencies{
		Webhook:           controllers.NewWebhookController(services.Intake, services.Queue, cfg.Razorpay.WebhookSecret != ""),
		Payment:           controllers.NewPaymentController(services.Repos, services.Reconciler, cfg.Razorpay.KeySecret, cfg.StatusTimeout),
		PaymentLog:        controllers.NewPaymentLogController(services.Repos.PaymentLog, services.Repos.Transaction),
		Admin:             controllers.NewAdminQueueController(services.Queue),
		Realtime:          controllers.NewRealtimeController(hub),
		AdminUser:         cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
		LimiterStorage:    cache.NewLimiterStorage(cfg.Cache),
		OpenAPIFile:       env.GetEnv("OPENAPI_FILE", "docs/openapi.yml"),
	})
	return app
}
