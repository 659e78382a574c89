package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
)

// QueueAdmin is the operator view on the webhook queue.
type QueueAdmin interface {
	Stats(ctx context.Context) (*jobqueue.Stats, error)
	ListFailed(ctx context.Context, limit int64) ([]*jobqueue.Job, error)
	GetJob(ctx context.Context, id string) (*jobqueue.Job, error)
	RetryFailed(ctx context.Context, id string) (*jobqueue.Job, error)
}

// AdminQueueController handles admin queue-related HTTP requests
type AdminQueueController struct {
	queue QueueAdmin
}

func NewAdminQueueController(queue QueueAdmin) *AdminQueueController {
	return &AdminQueueController{queue: queue}
}

func (aqc *AdminQueueController) HandleStats(c *fiber.Ctx) error {
	stats, err := aqc.queue.Stats(c.UserContext())
	if err != nil {
		return aqc.handleError(c, "Failed to read queue stats", err)
	}
	return c.JSON(stats)
}

// HandleFailed lists permanently failed jobs, newest first.
func (aqc *AdminQueueController) HandleFailed(c *fiber.Ctx) error {
	limit := int64(c.QueryInt("limit", 50))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	jobs, err := aqc.queue.ListFailed(c.UserContext(), limit)
	if err != nil {
		return aqc.handleError(c, "Failed to list failed jobs", err)
	}
	return c.JSON(fiber.Map{"count": len(jobs), "jobs": jobs})
}

func (aqc *AdminQueueController) HandleJob(c *fiber.Ctx) error {
	job, err := aqc.queue.GetJob(c.UserContext(), c.Params("id"))
	if errors.Is(err, jobqueue.ErrJobNotFound) {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Job not found")
	}
	if err != nil {
		return aqc.handleError(c, "Failed to load job", err)
	}
	return c.JSON(job)
}

func (aqc *AdminQueueController) HandleRetry(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := aqc.queue.RetryFailed(c.UserContext(), id)
	switch {
	case errors.Is(err, jobqueue.ErrNotFailed), errors.Is(err, jobqueue.ErrJobNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Job is not in the failed list")
	case err != nil:
		return aqc.handleError(c, "Failed to retry job", err)
	}

	log.Infof("[Admin] Job %s requeued by %v", id, c.Locals(middleware.KeyAdminUser))
	return c.JSON(fiber.Map{"success": true, "job": job})
}

func (aqc *AdminQueueController) handleError(c *fiber.Ctx, message string, err error) error {
	log.Errorf("[Admin] %s: %v", message, err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_error", message)
}
