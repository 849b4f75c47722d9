package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/audit"
)

const defaultFailureReason = "payment declined"

// Row locks are always taken user first, then invoice, then subscription.
// Every handler that touches a user's ledger rows holds that user's lock, which
// serialises concurrent deliveries for the same account.

func noop(msg string) Result {
	return Result{Outcome: Outcome{Status: OutcomeNoop, Message: msg}}
}

func ensureMetadata(m datatypes.JSONMap) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return m
}

func invoiceCheckoutRef(ev *Event) string {
	return ev.FirstMetadata("checkout_ref",
		"parent.subscription_details.metadata",
		"subscription_details.metadata",
		"metadata",
	)
}

func invoiceSubscriptionRef(ev *Event) string {
	if id := ev.RefID("subscription"); id != "" {
		return id
	}
	return ev.RefID("parent.subscription_details.subscription")
}

func invoicePaymentIntent(ev *Event) string {
	if id := ev.RefID("payment_intent"); id != "" {
		return id
	}
	return ev.RefID("payments.data.0.payment.payment_intent")
}

func minorToAmount(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// resolveInvoice finds the local invoice an invoice.* event refers to, without
// locking it. Lookup order: external invoice id, then the checkout reference
// for an invoice not bound yet, then a renewal of a known subscription.
func (s *Service) resolveInvoice(tx Repository, ev *Event) (*models.Invoice, error) {
	externalID := ev.String("id")
	if externalID == "" {
		return nil, fmt.Errorf("%w: invoice event without id", ErrEntityNotFoundLocally)
	}

	inv, err := tx.FindInvoiceByExternalID(externalID)
	if err == nil {
		return inv, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	if ref := invoiceCheckoutRef(ev); ref != "" {
		inv, err := tx.FindInvoiceByCheckoutRef(ref)
		switch {
		case err == nil && inv.ExternalInvoiceID == nil:
			return inv, nil
		case err != nil && !isNotFound(err):
			return nil, err
		}
	}

	if subRef := invoiceSubscriptionRef(ev); subRef != "" {
		sub, err := tx.FindSubscriptionByExternalID(subRef)
		if err == nil {
			return s.createRenewalInvoice(tx, ev, sub)
		}
		if !isNotFound(err) {
			return nil, err
		}
	}

	return nil, notFound(gorm.ErrRecordNotFound, "invoice", externalID)
}

// createRenewalInvoice records a processor-generated invoice for a
// subscription cycle that was not started by a local checkout.
func (s *Service) createRenewalInvoice(tx Repository, ev *Event, sub *models.Subscription) (*models.Invoice, error) {
	if _, err := tx.LockUser(sub.UserID); err != nil {
		return nil, notFound(err, "user", fmt.Sprint(sub.UserID))
	}

	// A duplicate delivery may have recorded the invoice while this one
	// waited for the user lock.
	externalID := ev.String("id")
	existing, err := tx.LockInvoiceByExternalID(externalID)
	if err == nil {
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	now := s.clock()
	amount := sub.Amount
	if minor, ok := ev.Int64("amount_due"); ok {
		amount = minorToAmount(minor)
	}
	currency := strings.ToLower(ev.String("currency"))
	if len(currency) != 3 {
		currency = sub.Currency
	}
	due := now
	if t, ok := ev.Time("due_date"); ok {
		due = t
	}

	subID := sub.ID
	inv := &models.Invoice{
		UserID:            sub.UserID,
		SubscriptionID:    &subID,
		ExternalInvoiceID: &externalID,
		Amount:            amount,
		Currency:          currency,
		Status:            models.InvoiceStatusOpen,
		DueDate:           due,
		Metadata: datatypes.JSONMap{
			"source":                   "renewal",
			"plan_type":                string(sub.PlanType),
			"billing_cycle":            string(sub.BillingCycle),
			"external_subscription_id": derefString(sub.ExternalSubscriptionID),
		},
	}
	if err := tx.CreateInvoice(inv); err != nil {
		return nil, fmt.Errorf("create renewal invoice %s: %w", externalID, err)
	}
	log.Infof("[Billing] Created renewal invoice id=%d external=%s for subscription id=%d", inv.ID, externalID, sub.ID)
	return inv, nil
}

// lockInvoiceForEvent takes the user and invoice locks and binds the
// external invoice id when the invoice was matched by checkout reference.
func (s *Service) lockInvoiceForEvent(tx Repository, ev *Event, found *models.Invoice) (*models.Invoice, error) {
	if _, err := tx.LockUser(found.UserID); err != nil {
		return nil, notFound(err, "user", fmt.Sprint(found.UserID))
	}
	inv, err := tx.LockInvoice(found.ID)
	if err != nil {
		return nil, notFound(err, "invoice", fmt.Sprint(found.ID))
	}

	externalID := ev.String("id")
	switch {
	case inv.ExternalInvoiceID == nil:
		inv.ExternalInvoiceID = &externalID
	case *inv.ExternalInvoiceID != externalID:
		return nil, fmt.Errorf("%w: invoice %d is bound to %s, not %s",
			ErrEntityNotFoundLocally, inv.ID, *inv.ExternalInvoiceID, externalID)
	}
	return inv, nil
}

// linkedSubscription locks the subscription an invoice event belongs to, or
// returns nil when none is known locally.
func (s *Service) linkedSubscription(tx Repository, ev *Event, inv *models.Invoice) (*models.Subscription, error) {
	var id uint
	if ref := invoiceSubscriptionRef(ev); ref != "" {
		sub, err := tx.FindSubscriptionByExternalID(ref)
		switch {
		case err == nil:
			id = sub.ID
		case !isNotFound(err):
			return nil, err
		}
	}
	if id == 0 && inv.SubscriptionID != nil {
		id = *inv.SubscriptionID
	}
	if id == 0 {
		return nil, nil
	}

	sub, err := tx.LockSubscription(id)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if sub.UserID != inv.UserID {
		log.Warnf("[Billing] Subscription id=%d belongs to user=%d, invoice id=%d to user=%d; not linking",
			sub.ID, sub.UserID, inv.ID, inv.UserID)
		return nil, nil
	}
	return sub, nil
}

// subscriptionAcceptsInvoiceEvent reports whether an invoice event may change
// its subscription. The invoice itself is settled either way.
func subscriptionAcceptsInvoiceEvent(sub *models.Subscription, ev *Event) bool {
	switch {
	case sub.IsTerminal():
		log.Infof("[Billing] Invoice event=%s for %s subscription id=%d leaves the subscription unchanged",
			ev.ID, sub.Status, sub.ID)
		return false
	case sub.StaleEvent(ev.Created):
		log.Infof("[Billing] Invoice event=%s predates the last update of subscription id=%d; subscription unchanged",
			ev.ID, sub.ID)
		return false
	}
	return true
}

// applyPaymentToSubscription activates the subscription a paid invoice belongs
// to and moves its period end forward, never back.
func (s *Service) applyPaymentToSubscription(tx Repository, ev *Event, sub *models.Subscription, paymentIntent string, now time.Time, res *Result) error {
	sub.Status = models.SubscriptionStatusActive
	sub.PaymentStatus = models.PaymentStatusCompleted
	if paymentIntent != "" {
		sub.TransactionID = &paymentIntent
	}
	if end, ok := ev.Time("lines.data.0.period.end"); ok {
		if end.After(sub.EndDate) {
			sub.EndDate = end
		}
	} else {
		extendByCycle(sub, now)
	}
	syncNextBilling(sub)
	sub.MarkEvent(ev.Created)
	if err := s.cancelOtherActive(tx, sub.UserID, sub.ID, now, res); err != nil {
		return err
	}
	if err := tx.SaveSubscription(sub); err != nil {
		return fmt.Errorf("save subscription %d: %w", sub.ID, err)
	}
	res.record(audit.Ref(audit.ActionSubscriptionUpdated, audit.EntitySubscription, sub.ID).
		ForUser(sub.UserID).
		With("event_id", ev.ID).
		With("payment_status", string(sub.PaymentStatus)).
		With("end_date", sub.EndDate.Format(time.RFC3339)))
	return nil
}

func (s *Service) handleInvoicePaymentSucceeded(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	found, err := s.resolveInvoice(tx, ev)
	if err != nil {
		return Result{}, err
	}
	inv, err := s.lockInvoiceForEvent(tx, ev, found)
	if err != nil {
		return Result{}, err
	}

	if inv.Status == models.InvoiceStatusPaid {
		return noop("invoice already paid"), nil
	}
	if !inv.CanTransitionTo(models.InvoiceStatusPaid) {
		log.Warnf("[Billing] Invoice id=%d is %s and cannot become paid (event=%s)", inv.ID, inv.Status, ev.ID)
		return noop(fmt.Sprintf("invoice is %s", inv.Status)), nil
	}

	now := s.clock()
	inv.Status = models.InvoiceStatusPaid
	inv.PaidAt = &now
	if minor, ok := ev.Int64("amount_paid"); ok {
		inv.Amount = minorToAmount(minor)
	}
	if cur := strings.ToLower(ev.String("currency")); len(cur) == 3 {
		inv.Currency = cur
	}
	inv.Metadata = ensureMetadata(inv.Metadata)
	paymentIntent := invoicePaymentIntent(ev)
	if paymentIntent != "" {
		inv.Metadata["payment_intent"] = paymentIntent
	}

	var res Result
	sub, err := s.linkedSubscription(tx, ev, inv)
	if err != nil {
		return Result{}, err
	}
	if sub != nil {
		if inv.SubscriptionID == nil {
			inv.SubscriptionID = &sub.ID
		}
		if subscriptionAcceptsInvoiceEvent(sub, ev) {
			if err := s.applyPaymentToSubscription(tx, ev, sub, paymentIntent, now, &res); err != nil {
				return Result{}, err
			}
		}
	}

	if err := tx.SaveInvoice(inv); err != nil {
		return Result{}, fmt.Errorf("save invoice %d: %w", inv.ID, err)
	}

	invCopy := *inv
	res.notify(Notice{Kind: NoticePaymentSucceeded, Invoice: &invCopy})
	return res, nil
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	found, err := s.resolveInvoice(tx, ev)
	if err != nil {
		return Result{}, err
	}
	inv, err := s.lockInvoiceForEvent(tx, ev, found)
	if err != nil {
		return Result{}, err
	}

	if inv.Status == models.InvoiceStatusUncollectible {
		return noop("invoice already uncollectible"), nil
	}
	if !inv.CanTransitionTo(models.InvoiceStatusUncollectible) {
		log.Infof("[Billing] Ignoring failed payment for invoice id=%d in status %s (event=%s)", inv.ID, inv.Status, ev.ID)
		return noop(fmt.Sprintf("invoice is %s", inv.Status)), nil
	}

	reason := ev.FirstString("last_finalization_error.message", "last_payment_error.message")
	if reason == "" {
		reason = defaultFailureReason
	}
	inv.Status = models.InvoiceStatusUncollectible
	inv.Metadata = ensureMetadata(inv.Metadata)
	inv.Metadata["failure_reason"] = reason

	var res Result
	sub, err := s.linkedSubscription(tx, ev, inv)
	if err != nil {
		return Result{}, err
	}
	if sub != nil {
		if inv.SubscriptionID == nil {
			inv.SubscriptionID = &sub.ID
		}
		if subscriptionAcceptsInvoiceEvent(sub, ev) {
			sub.PaymentStatus = models.PaymentStatusFailed
			sub.MarkEvent(ev.Created)
			if err := tx.SaveSubscription(sub); err != nil {
				return Result{}, fmt.Errorf("save subscription %d: %w", sub.ID, err)
			}
			res.record(audit.Ref(audit.ActionSubscriptionUpdated, audit.EntitySubscription, sub.ID).
				ForUser(sub.UserID).
				With("event_id", ev.ID).
				With("payment_status", string(sub.PaymentStatus)))
		}
	}

	if err := tx.SaveInvoice(inv); err != nil {
		return Result{}, fmt.Errorf("save invoice %d: %w", inv.ID, err)
	}

	invCopy := *inv
	res.notify(Notice{Kind: NoticePaymentFailed, Invoice: &invCopy, Reason: reason})
	return res, nil
}

// findCheckoutInvoice resolves a checkout.session.* event to its draft invoice.
func findCheckoutInvoice(tx Repository, ev *Event) (*models.Invoice, error) {
	sessionID := ev.String("id")
	inv, err := tx.FindInvoiceByCheckoutSessionID(sessionID)
	if err == nil {
		return inv, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	ref := ev.Metadata("metadata")["checkout_ref"]
	if ref == "" {
		ref = ev.String("client_reference_id")
	}
	if ref == "" {
		return nil, notFound(err, "invoice for checkout session", sessionID)
	}
	inv, err = tx.FindInvoiceByCheckoutRef(ref)
	if err != nil {
		return nil, notFound(err, "invoice for checkout ref", ref)
	}
	return inv, nil
}

func (s *Service) lockCheckoutInvoice(tx Repository, ev *Event) (*models.Invoice, error) {
	found, err := findCheckoutInvoice(tx, ev)
	if err != nil {
		return nil, err
	}
	if _, err := tx.LockUser(found.UserID); err != nil {
		return nil, notFound(err, "user", fmt.Sprint(found.UserID))
	}
	inv, err := tx.LockInvoice(found.ID)
	if err != nil {
		return nil, notFound(err, "invoice", fmt.Sprint(found.ID))
	}
	return inv, nil
}

func (s *Service) handleCheckoutSessionCompleted(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	inv, err := s.lockCheckoutInvoice(tx, ev)
	if err != nil {
		return Result{}, err
	}

	changed := false
	if externalID := ev.RefID("invoice"); externalID != "" && inv.ExternalInvoiceID == nil {
		other, err := tx.FindInvoiceByExternalID(externalID)
		switch {
		case err == nil && other.ID != inv.ID:
			log.Warnf("[Billing] External invoice %s already recorded as id=%d; not binding to checkout invoice id=%d",
				externalID, other.ID, inv.ID)
		case err != nil && !isNotFound(err):
			return Result{}, err
		default:
			inv.ExternalInvoiceID = &externalID
			changed = true
		}
	}
	inv.Metadata = ensureMetadata(inv.Metadata)
	if subID := ev.RefID("subscription"); subID != "" && inv.MetadataString("external_subscription_id") != subID {
		inv.Metadata["external_subscription_id"] = subID
		changed = true
	}
	if inv.Status == models.InvoiceStatusDraft {
		inv.Status = models.InvoiceStatusOpen
		changed = true
	}
	if !changed {
		return noop("checkout already recorded"), nil
	}

	if err := tx.SaveInvoice(inv); err != nil {
		return Result{}, fmt.Errorf("save invoice %d: %w", inv.ID, err)
	}
	return Result{}, nil
}

func (s *Service) handleCheckoutSessionExpired(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	inv, err := s.lockCheckoutInvoice(tx, ev)
	if err != nil {
		return Result{}, err
	}
	if inv.Status != models.InvoiceStatusDraft && inv.Status != models.InvoiceStatusOpen {
		return noop(fmt.Sprintf("invoice is %s", inv.Status)), nil
	}

	inv.Status = models.InvoiceStatusVoid
	inv.Metadata = ensureMetadata(inv.Metadata)
	inv.Metadata["void_reason"] = "checkout_expired"
	if err := tx.SaveInvoice(inv); err != nil {
		return Result{}, fmt.Errorf("save invoice %d: %w", inv.ID, err)
	}
	return Result{}, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
