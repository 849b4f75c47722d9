package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/viajamx/marketplace/internal/pkg/metrics/counter"
)

type WebhookStatsReader interface {
	Snapshot(ctx context.Context) ([]counter.Entry, error)
}

// AdminWebhookController reports how webhook deliveries were classified.
type AdminWebhookController struct {
	stats WebhookStatsReader
}

func NewAdminWebhookController(stats WebhookStatsReader) *AdminWebhookController {
	return &AdminWebhookController{stats: stats}
}

func (awc *AdminWebhookController) HandleAdminWebhookStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	entries, err := awc.stats.Snapshot(ctx)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":   "stats_unavailable",
			"message": err.Error(),
		})
	}

	var total int64
	for _, e := range entries {
		total += e.Count
	}
	return c.JSON(fiber.Map{
		"outcomes":   entries,
		"total":      total,
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	})
}
