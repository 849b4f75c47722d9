package billing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/viajamx/marketplace/app/models"
)

// resolveCycle validates a requested billing cycle. An empty value falls back
// to the plan's catalog interval. Each plan has one processor price, so no
// other interval can be sold.
func resolveCycle(plan Plan, cycle string) (models.BillingCycle, error) {
	if cycle == "" {
		return plan.Interval, nil
	}
	c, ok := normalizeBillingCycle(cycle)
	if !ok {
		return "", fmt.Errorf("%w: unknown billing cycle %q", ErrInvalidPlan, cycle)
	}
	if c != plan.Interval {
		return "", fmt.Errorf("%w: plan %s is billed %s, not %s", ErrInvalidPlan, plan.Type, plan.Interval, c)
	}
	return c, nil
}

// CreateCheckoutSession starts a hosted checkout for a plan and records the
// draft invoice the resulting webhooks will settle. No invoice is written when
// the processor session cannot be created.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID uint, planType, cycle string) (*CheckoutResult, error) {
	plan, err := s.catalog.Lookup(planType)
	if err != nil {
		return nil, err
	}
	billingCycle, err := resolveCycle(plan, cycle)
	if err != nil {
		return nil, err
	}
	if plan.ExternalPriceID == "" {
		log.Warnf("[Billing] Plan %s has no processor price configured", plan.Type)
	}

	customer, err := s.GetOrCreateCustomer(ctx, userID)
	if err != nil {
		return nil, err
	}

	ref := uuid.NewString()
	metadata := map[string]string{
		"user_id":       strconv.FormatUint(uint64(userID), 10),
		"plan_type":     string(plan.Type),
		"billing_cycle": string(billingCycle),
		"checkout_ref":  ref,
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, CheckoutSessionRequest{
		CustomerID:        customer.ID,
		PriceID:           plan.ExternalPriceID,
		SuccessURL:        s.cfg.SuccessURL,
		CancelURL:         s.cfg.CancelURL,
		ClientReferenceID: ref,
		Metadata:          metadata,
		IdempotencyKey:    "checkout-" + ref,
	})
	if err != nil {
		log.Errorf("[Billing] Checkout session for user=%d plan=%s failed: %v", userID, plan.Type, err)
		return nil, fmt.Errorf("%w: %w", ErrExternalSessionFailed, err)
	}

	sessionID := session.ID
	inv := &models.Invoice{
		UserID:            userID,
		CheckoutSessionID: &sessionID,
		CheckoutRef:       &ref,
		Amount:            plan.Amount(),
		Currency:          plan.Currency,
		Status:            models.InvoiceStatusDraft,
		DueDate:           s.clock().Add(invoiceDueIn),
		Metadata: datatypes.JSONMap{
			"checkout_session_id": sessionID,
			"plan_type":           string(plan.Type),
			"billing_cycle":       string(billingCycle),
			"checkout_ref":        ref,
		},
	}
	if err := s.repo.CreateInvoice(inv); err != nil {
		return nil, fmt.Errorf("record draft invoice for session %s: %w", sessionID, err)
	}

	log.Infof("[Billing] Checkout session=%s created for user=%d plan=%s invoice=%d", sessionID, userID, plan.Type, inv.ID)
	return &CheckoutResult{
		SessionID:   sessionID,
		CheckoutURL: session.URL,
		InvoiceID:   inv.ID,
		Amount:      inv.Amount,
		Currency:    inv.Currency,
	}, nil
}
