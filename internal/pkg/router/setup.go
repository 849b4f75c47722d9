package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/viajamx/marketplace/app/controllers"
	"github.com/viajamx/marketplace/app/repository"
	"github.com/viajamx/marketplace/internal/pkg/metrics/counter"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the services the route tree hands to its controllers.
// Queue and WebhookCounter are optional. LimiterStorage may be nil, in which
// case the limiter keeps counters in memory.
type Dependencies struct {
	Billing        controllers.BillingService
	Repositories   *repository.Repositories
	Queue          controllers.QueueInspector
	WebhookCounter *counter.Counter
	LimiterStorage fiber.Storage
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// Webhooks go first so the API key middleware on /api never sees them.
	setup(app, NewWebhookRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
