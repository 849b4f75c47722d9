package billing

import (
	"strings"
	"time"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/env"
)

const (
	defaultWebhookTolerance = 5 * time.Minute
	defaultCurrency         = "mxn"
	invoiceDueIn            = 30 * 24 * time.Hour
	renewalReminderWindow   = 7 * 24 * time.Hour
)

// Config carries processor credentials and checkout URLs. It is passed into
// constructors; nothing in this package reads it from globals.
type Config struct {
	SecretKey        string
	WebhookSecret    string
	WebhookTolerance time.Duration
	SuccessURL       string
	CancelURL        string
	Currency         string
	PriceIDs         map[models.PlanType]string
}

// ConfigFromEnv builds a Config from STRIPE_* and BILLING_* settings.
func ConfigFromEnv() Config {
	return Config{
		SecretKey:        strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret:    strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		WebhookTolerance: env.GetEnvDuration("STRIPE_WEBHOOK_TOLERANCE", defaultWebhookTolerance),
		SuccessURL:       env.GetEnv("BILLING_SUCCESS_URL", "http://localhost:4000/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:        env.GetEnv("BILLING_CANCEL_URL", "http://localhost:4000/billing/cancel"),
		Currency:         strings.ToLower(env.GetEnv("BILLING_CURRENCY", defaultCurrency)),
		PriceIDs: map[models.PlanType]string{
			models.PlanBasic:      env.GetEnv("STRIPE_PRICE_BASIC", ""),
			models.PlanPremium:    env.GetEnv("STRIPE_PRICE_PREMIUM", ""),
			models.PlanEnterprise: env.GetEnv("STRIPE_PRICE_ENTERPRISE", ""),
		},
	}
}
