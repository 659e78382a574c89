package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/bootstrap"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/env"
)

// The worker only processes queued webhooks. Realtime updates it produces
// reach browsers through the API servers' relay.
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

	services.StartWorkers()
	log.Infof("[Worker] Processing queue %s with %d workers", cfg.Queue.Name, cfg.Queue.Concurrency)

	<-ctx.Done()
	log.Info("[Worker] Draining in-flight jobs...")
	services.Close()
	log.Info("[Worker] Stopped")
}
