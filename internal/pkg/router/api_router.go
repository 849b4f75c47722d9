package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/viajamx/marketplace/app/controllers"
	"github.com/viajamx/marketplace/internal/pkg/env"
	"github.com/viajamx/marketplace/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("API_RATE_LIMIT", 60),
		Expiration: env.GetEnvDuration("API_RATE_WINDOW", time.Minute),
		Storage:    h.deps.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Keyed by credential when present so providers behind one NAT don't share a bucket.
			if key := c.Get("X-API-Key"); key != "" {
				return "key:" + key
			}
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests",
			})
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware(h.deps.Repositories.User))
	v1.Get("/me", controllers.HandleGetUserAccount)

	billingController := controllers.NewBillingController(h.deps.Billing, h.deps.Repositories.Billing)
	billing := v1.Group("/billing", middleware.RequireAuth)
	billing.Get("/plans", billingController.HandleBillingPlans)
	billing.Post("/checkout", middleware.RequireProvider, billingController.HandleBillingCheckout)
	billing.Put("/payment-method", middleware.RequireProvider, billingController.HandleBillingPaymentMethodUpdate)
	billing.Get("/subscription", billingController.HandleBillingSubscription)
	billing.Get("/invoices", billingController.HandleBillingInvoices)
	billing.Get("/invoices/:id", billingController.HandleBillingInvoice)
	billing.Get("/payment-methods", billingController.HandleBillingPaymentMethods)
	billing.Get("/notifications", billingController.HandleBillingNotifications)

	admin := v1.Group("/admin", middleware.RequireAdmin)
	if h.deps.Queue != nil {
		admin.Get("/queue/stats", controllers.NewAdminQueueController(h.deps.Queue).HandleAdminQueueStats)
	}
	if h.deps.WebhookCounter != nil {
		admin.Get("/webhooks/stats", controllers.NewAdminWebhookController(h.deps.WebhookCounter).HandleAdminWebhookStats)
	}
}
