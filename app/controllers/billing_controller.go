package controllers

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/app/repository"
	"github.com/viajamx/marketplace/internal/pkg/billing"
	"github.com/viajamx/marketplace/internal/pkg/usercontext"
)

const (
	webhookTimeout  = 15 * time.Second
	checkoutTimeout = 20 * time.Second
	defaultPageSize = 20
)

// BillingService is the part of billing.Service the HTTP layer calls.
type BillingService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (billing.Outcome, error)
	CreateCheckoutSession(ctx context.Context, userID uint, planType, cycle string) (*billing.CheckoutResult, error)
	UpdatePaymentMethod(ctx context.Context, userID uint, paymentMethodID string) (*models.PaymentMethod, error)
	Catalog() billing.Catalog
}

// OutcomeRecorder tallies webhook deliveries by event type and result.
type OutcomeRecorder interface {
	Add(ctx context.Context, eventType, outcome string) error
}

// BillingController serves the webhook endpoint and the billing API.
type BillingController struct {
	service  BillingService
	billing  repository.BillingRepository
	validate *validator.Validate
	outcomes OutcomeRecorder
}

func NewBillingController(service BillingService, billingRepo repository.BillingRepository) *BillingController {
	return &BillingController{
		service:  service,
		billing:  billingRepo,
		validate: validator.New(),
	}
}

// RecordOutcomes makes the webhook handler report every delivery to r.
func (bc *BillingController) RecordOutcomes(r OutcomeRecorder) *BillingController {
	bc.outcomes = r
	return bc
}

func (bc *BillingController) recordOutcome(eventType, outcome string) {
	if bc.outcomes == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bc.outcomes.Add(ctx, eventType, outcome); err != nil {
		log.Warnf("[Webhook] Failed to count outcome %s/%s: %v", eventType, outcome, err)
	}
}

type checkoutRequest struct {
	PlanType     string `json:"plan_type" validate:"required,max=32"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,max=20"`
}

type paymentMethodRequest struct {
	PaymentMethodID string `json:"payment_method_id" validate:"required,max=191"`
}

func apiError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// bindJSON decodes and validates a request body, writing the error response itself.
func (bc *BillingController) bindJSON(c *fiber.Ctx, out interface{}) (bool, error) {
	if err := c.BodyParser(out); err != nil {
		return false, apiError(c, fiber.StatusBadRequest, "invalid_request", "Request body must be JSON")
	}
	if err := bc.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		fields := fiber.Map{}
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		return false, c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Request validation failed",
			"fields":  fields,
		})
	}
	return true, nil
}

// HandleStripeWebhook verifies and applies one processor event. The status
// code drives the processor's retry: 2xx stops it, anything else retries.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	outcome, err := bc.service.HandleWebhook(ctx, payload, signature)
	switch {
	case err == nil:
		bc.recordOutcome(string(outcome.EventType), string(outcome.Status))
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"received":   true,
			"status":     outcome.Status,
			"event_type": outcome.EventType,
			"message":    outcome.Message,
		})
	case errors.Is(err, billing.ErrInvalidSignature):
		log.Warnf("[Webhook] Rejected delivery from %s: %v", c.IP(), err)
		bc.recordOutcome("", "rejected")
		return apiError(c, fiber.StatusBadRequest, "invalid_signature", "Signature verification failed")
	case errors.Is(err, billing.ErrEventInFlight):
		bc.recordOutcome("", "in_flight")
		return apiError(c, fiber.StatusConflict, "in_flight", "Event is being processed")
	default:
		log.Errorf("[Webhook] Processing failed: %v", err)
		bc.recordOutcome("", "failed")
		return apiError(c, fiber.StatusInternalServerError, "processing_failed", "Event could not be processed")
	}
}

// HandleBillingCheckout starts a hosted checkout for the caller.
func (bc *BillingController) HandleBillingCheckout(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req checkoutRequest
	if ok, err := bc.bindJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutTimeout)
	defer cancel()

	result, err := bc.service.CreateCheckoutSession(ctx, userCtx.UserID, req.PlanType, req.BillingCycle)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidPlan):
			return apiError(c, fiber.StatusUnprocessableEntity, "invalid_plan", err.Error())
		case errors.Is(err, billing.ErrUserNotFound):
			return apiError(c, fiber.StatusNotFound, "not_found", "User not found")
		case errors.Is(err, billing.ErrProcessorUnavailable):
			return apiError(c, fiber.StatusServiceUnavailable, "processor_unavailable", "Payment processor is unavailable, try again shortly")
		case errors.Is(err, billing.ErrCustomerCreationFailed):
			return apiError(c, fiber.StatusBadGateway, "customer_creation_failed", "Could not register the customer with the payment processor")
		case errors.Is(err, billing.ErrExternalSessionFailed):
			return apiError(c, fiber.StatusBadGateway, "session_failed", "Could not start the checkout session")
		default:
			log.Errorf("[Billing] Checkout for user=%d failed: %v", userCtx.UserID, err)
			return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Checkout failed")
		}
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

// HandleBillingPaymentMethodUpdate makes a processor payment method the caller's default.
func (bc *BillingController) HandleBillingPaymentMethodUpdate(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req paymentMethodRequest
	if ok, err := bc.bindJSON(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkoutTimeout)
	defer cancel()

	pm, err := bc.service.UpdatePaymentMethod(ctx, userCtx.UserID, strings.TrimSpace(req.PaymentMethodID))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrPaymentMethodRequired):
			return apiError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
		case errors.Is(err, billing.ErrPaymentMethodMismatch):
			return apiError(c, fiber.StatusForbidden, "payment_method_mismatch", "Payment method does not belong to this account")
		case errors.Is(err, billing.ErrUserNotFound):
			return apiError(c, fiber.StatusNotFound, "not_found", "User not found")
		case errors.Is(err, billing.ErrDefaultSyncFailed) && pm != nil:
			// Stored locally; the processor side is retried by resending the request.
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error":          "default_sync_failed",
				"message":        "Saved locally but the payment processor was not updated",
				"payment_method": pm,
			})
		case errors.Is(err, billing.ErrProcessorUnavailable):
			return apiError(c, fiber.StatusServiceUnavailable, "processor_unavailable", "Payment processor is unavailable, try again shortly")
		default:
			log.Errorf("[Billing] Payment method update for user=%d failed: %v", userCtx.UserID, err)
			return apiError(c, fiber.StatusBadGateway, "payment_method_failed", "Could not update the payment method")
		}
	}

	return c.JSON(fiber.Map{"payment_method": pm})
}

// HandleBillingPlans lists the plan catalog, cheapest first.
func (bc *BillingController) HandleBillingPlans(c *fiber.Ctx) error {
	catalog := bc.service.Catalog()
	sorted := make([]billing.Plan, 0, len(catalog))
	for _, p := range catalog {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AmountMinor < sorted[j].AmountMinor })

	plans := make([]fiber.Map, 0, len(sorted))
	for _, p := range sorted {
		plans = append(plans, fiber.Map{
			"plan_type": p.Type,
			"name":      p.Name,
			"amount":    p.Amount(),
			"currency":  p.Currency,
			"interval":  p.Interval,
			"features":  p.Features,
		})
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func (bc *BillingController) HandleBillingInvoices(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", defaultPageSize)

	invoices, total, err := bc.billing.ListInvoicesByUser(userCtx.UserID, offset, limit)
	if err != nil {
		log.Errorf("[Billing] Listing invoices for user=%d failed: %v", userCtx.UserID, err)
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load invoices")
	}
	return c.JSON(fiber.Map{
		"invoices": invoices,
		"total":    total,
		"offset":   offset,
		"limit":    limit,
	})
}

func (bc *BillingController) HandleBillingInvoice(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return apiError(c, fiber.StatusBadRequest, "invalid_request", "Invalid invoice id")
	}

	inv, err := bc.billing.GetInvoiceForUser(userCtx.UserID, uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError(c, fiber.StatusNotFound, "not_found", "Invoice not found")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load invoice")
	}
	return c.JSON(inv)
}

func (bc *BillingController) HandleBillingSubscription(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	sub, err := bc.billing.GetActiveSubscription(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apiError(c, fiber.StatusNotFound, "no_active_subscription", "No active subscription")
		}
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}
	return c.JSON(sub)
}

func (bc *BillingController) HandleBillingPaymentMethods(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	methods, err := bc.billing.ListPaymentMethods(userCtx.UserID)
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load payment methods")
	}
	return c.JSON(fiber.Map{"payment_methods": methods})
}

func (bc *BillingController) HandleBillingNotifications(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	notifications, err := bc.billing.ListNotifications(userCtx.UserID, c.QueryBool("unread", false), c.QueryInt("limit", defaultPageSize))
	if err != nil {
		return apiError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load notifications")
	}
	return c.JSON(fiber.Map{"notifications": notifications})
}
