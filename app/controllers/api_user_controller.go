package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/app/repository"
	"github.com/viajamx/marketplace/internal/pkg/entitlements"
	"github.com/viajamx/marketplace/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account and plan information for the API key owner.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repos := repository.GetGlobalRepositories()
	account, err := repos.User.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	var subscription interface{}
	var active *models.Subscription
	sub, err := repos.Billing.GetActiveSubscription(account.ID)
	switch {
	case err == nil:
		active = sub
		subscription = fiber.Map{
			"plan_type":          sub.PlanType,
			"billing_cycle":      sub.BillingCycle,
			"payment_status":     sub.PaymentStatus,
			"auto_renew":         sub.AutoRenew,
			"current_period_end": sub.EndDate.UTC().Format(time.RFC3339),
			"next_billing_date":  formatTimePtr(sub.NextBillingDate),
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load subscription"})
	}

	return c.JSON(fiber.Map{
		"id":                   account.ID,
		"name":                 account.Name,
		"email":                account.Email,
		"role":                 account.Role,
		"status":               account.Status,
		"is_admin":             account.Role == models.ROLE_ADMIN,
		"billing_linked":       account.HasExternalCustomer(),
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"api_key_last_used_at": formatTimePtr(account.APIKeyLastUsedAt),
		"subscription":         subscription,
		"entitlements":         entitlements.ForSubscription(active, time.Now().UTC()),
	})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
