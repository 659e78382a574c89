package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// NewClient connects to the Redis instance that backs the job queue, the
// realtime fan-out and the rate limiter.
func NewClient(cfg config.CacheConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     Addr(cfg),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Test the connection
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", Addr(cfg), err)
	} else {
		log.Infof("[Cache] Successfully connected to Redis: %s", pong)
	}
	return client
}

func Addr(cfg config.CacheConfig) string {
	return fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
}
