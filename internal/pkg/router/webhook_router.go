package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/viajamx/marketplace/app/controllers"
)

// WebhookRouter exposes processor callbacks. They carry no API key; the
// controller authenticates them by signature.
type WebhookRouter struct {
	billing *controllers.BillingController
}

func NewWebhookRouter(deps Dependencies) *WebhookRouter {
	bc := controllers.NewBillingController(deps.Billing, deps.Repositories.Billing)
	if deps.WebhookCounter != nil {
		bc.RecordOutcomes(deps.WebhookCounter)
	}
	return &WebhookRouter{billing: bc}
}

func (w WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post("/webhooks/stripe", w.billing.HandleStripeWebhook)
}
