package cache

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// limiterDatabase keeps rate limiter counters out of the queue database.
const limiterDatabase = 1

// NewLimiterStorage returns a fiber.Storage for the rate limiter so limits
// hold across every API instance.
func NewLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}
	db := limiterDatabase
	if cfg.DB == limiterDatabase {
		db = 0
	}
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: db,
		Reset:    false,
	})
}
