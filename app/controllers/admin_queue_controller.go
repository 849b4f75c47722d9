package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/viajamx/marketplace/internal/pkg/jobqueue"
)

// QueueInspector exposes job queue counters.
type QueueInspector interface {
	GetQueueSize(ctx context.Context) (int64, error)
	GetProcessingSize(ctx context.Context) (int64, error)
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
}

// AdminQueueController reports notification delivery backlog to admins.
type AdminQueueController struct {
	queue QueueInspector
}

func NewAdminQueueController(queue QueueInspector) *AdminQueueController {
	return &AdminQueueController{queue: queue}
}

// HandleAdminQueueStats returns pending/processing sizes and lifetime counters.
func (aqc *AdminQueueController) HandleAdminQueueStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	pending, err := aqc.queue.GetQueueSize(ctx)
	if err != nil {
		return aqc.handleError(c, err)
	}
	processing, err := aqc.queue.GetProcessingSize(ctx)
	if err != nil {
		return aqc.handleError(c, err)
	}
	stats, err := aqc.queue.GetJobStats(ctx)
	if err != nil {
		return aqc.handleError(c, err)
	}

	return c.JSON(fiber.Map{
		"pending":    pending,
		"processing": processing,
		"totals":     stats,
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (aqc *AdminQueueController) handleError(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error":   "queue_unavailable",
		"message": err.Error(),
	})
}
