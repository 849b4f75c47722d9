package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/viajamx/marketplace/app/models"
)

// Plan is one row of the read-only plan catalog.
type Plan struct {
	Type            models.PlanType
	Name            string
	ExternalPriceID string
	AmountMinor     int64
	Currency        string
	Interval        models.BillingCycle
	Features        map[string]bool
}

// Amount converts the minor-unit price into the ledger's two-decimal amount.
func (p Plan) Amount() decimal.Decimal {
	return decimal.New(p.AmountMinor, -2)
}

// FeatureMap returns the feature flags in the shape stored on subscriptions.
func (p Plan) FeatureMap() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Features))
	for k, v := range p.Features {
		out[k] = v
	}
	return out
}

// Catalog maps plan types to plans.
type Catalog map[models.PlanType]Plan

// DefaultCatalog returns the marketplace provider plans priced in MXN.
func DefaultCatalog(currency string, priceIDs map[models.PlanType]string) Catalog {
	if currency == "" {
		currency = defaultCurrency
	}
	return Catalog{
		models.PlanBasic: {
			Type:            models.PlanBasic,
			Name:            "Básico",
			ExternalPriceID: priceIDs[models.PlanBasic],
			AmountMinor:     29900,
			Currency:        currency,
			Interval:        models.BillingCycleMonthly,
			Features: map[string]bool{
				"listings":          true,
				"featured_listings": false,
				"analytics":         false,
				"priority_support":  false,
			},
		},
		models.PlanPremium: {
			Type:            models.PlanPremium,
			Name:            "Premium",
			ExternalPriceID: priceIDs[models.PlanPremium],
			AmountMinor:     59900,
			Currency:        currency,
			Interval:        models.BillingCycleMonthly,
			Features: map[string]bool{
				"listings":          true,
				"featured_listings": true,
				"analytics":         true,
				"priority_support":  false,
			},
		},
		models.PlanEnterprise: {
			Type:            models.PlanEnterprise,
			Name:            "Empresarial",
			ExternalPriceID: priceIDs[models.PlanEnterprise],
			AmountMinor:     149900,
			Currency:        currency,
			Interval:        models.BillingCycleMonthly,
			Features: map[string]bool{
				"listings":          true,
				"featured_listings": true,
				"analytics":         true,
				"priority_support":  true,
			},
		},
	}
}

// Lookup resolves a plan type, case-insensitively.
func (c Catalog) Lookup(planType string) (Plan, error) {
	p, ok := c[models.PlanType(strings.ToLower(strings.TrimSpace(planType)))]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrInvalidPlan, planType)
	}
	return p, nil
}

// ByPriceID finds the plan billed with the given processor price.
func (c Catalog) ByPriceID(priceID string) (Plan, bool) {
	if priceID == "" {
		return Plan{}, false
	}
	for _, p := range c {
		if p.ExternalPriceID == priceID {
			return p, true
		}
	}
	return Plan{}, false
}

func normalizeBillingCycle(cycle string) (models.BillingCycle, bool) {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case "monthly", "month":
		return models.BillingCycleMonthly, true
	case "quarterly", "quarter":
		return models.BillingCycleQuarterly, true
	case "yearly", "year", "annual":
		return models.BillingCycleYearly, true
	default:
		return "", false
	}
}

// cycleFromRecurring maps a processor price recurrence to a billing cycle.
func cycleFromRecurring(interval string, count int64) (models.BillingCycle, bool) {
	if count <= 0 {
		count = 1
	}
	switch {
	case interval == "month" && count == 1:
		return models.BillingCycleMonthly, true
	case interval == "month" && count == 3:
		return models.BillingCycleQuarterly, true
	case interval == "year" && count == 1:
		return models.BillingCycleYearly, true
	default:
		return "", false
	}
}

func cycleMonths(cycle models.BillingCycle) int {
	switch cycle {
	case models.BillingCycleQuarterly:
		return 3
	case models.BillingCycleYearly:
		return 12
	default:
		return 1
	}
}

// addCycle advances t by one billing cycle.
func addCycle(t time.Time, cycle models.BillingCycle) time.Time {
	return t.AddDate(0, cycleMonths(cycle), 0)
}

// mapExternalStatus translates a processor subscription status into the local
// set. The second result reports a failed latest payment.
func mapExternalStatus(status string) (models.SubscriptionStatus, bool, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return models.SubscriptionStatusActive, false, true
	case "past_due":
		return models.SubscriptionStatusActive, true, true
	case "canceled", "cancelled":
		return models.SubscriptionStatusCancelled, false, true
	case "incomplete_expired":
		return models.SubscriptionStatusExpired, false, true
	case "unpaid":
		return models.SubscriptionStatusPending, true, true
	case "incomplete", "paused":
		return models.SubscriptionStatusPending, false, true
	default:
		return "", false, false
	}
}
