package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

// retryAfterSeconds is what clients are told to wait when the store is slow.
const retryAfterSeconds = 5

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// requestMetadata captures where a request came from. X-Forwarded-For may hold
// a proxy chain; the first entry is the client.
func requestMetadata(c *fiber.Ctx) webhook.RequestMetadata {
	forwarded := c.Get(fiber.HeaderXForwardedFor)
	if i := strings.IndexByte(forwarded, ','); i >= 0 {
		forwarded = forwarded[:i]
	}
	return webhook.RequestMetadata{
		IP:           c.IP(),
		UserAgent:    c.Get(fiber.HeaderUserAgent),
		ForwardedFor: strings.TrimSpace(forwarded),
		RealIP:       c.Get("X-Real-IP"),
	}
}

// withTimeout bounds a store read on the request path.
func withTimeout(c *fiber.Ctx, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = retryAfterSeconds * time.Second
	}
	return context.WithTimeout(c.UserContext(), d)
}

// isTimeout reports whether err came from an expired request deadline.
func isTimeout(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func serviceUnavailable(c *fiber.Ctx) error {
	c.Set(fiber.HeaderRetryAfter, "5")
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error":      "service_unavailable",
		"message":    "Service temporarily unavailable, please retry",
		"retryAfter": retryAfterSeconds,
	})
}
