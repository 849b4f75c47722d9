package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/audit"
)

// periodEnd reads the processor's current period end. Newer API versions
// report it per subscription item only.
func periodEnd(ev *Event) (time.Time, bool) {
	if t, ok := ev.Time("current_period_end"); ok {
		return t, true
	}
	return ev.Time("items.data.0.current_period_end")
}

func periodStart(ev *Event) (time.Time, bool) {
	if t, ok := ev.Time("current_period_start"); ok {
		return t, true
	}
	if t, ok := ev.Time("items.data.0.current_period_start"); ok {
		return t, true
	}
	return ev.Time("start_date")
}

// extendByCycle moves an elapsed period end forward by whole billing cycles
// until it lies in the future. A period that has not ended is left alone.
func extendByCycle(sub *models.Subscription, now time.Time) {
	if sub.EndDate.After(now) {
		return
	}
	end := sub.EndDate
	if end.IsZero() || end.Before(sub.StartDate) {
		end = sub.StartDate
	}
	if end.IsZero() {
		end = now
	}
	for !end.After(now) {
		end = addCycle(end, sub.BillingCycle)
	}
	sub.EndDate = end
}

func syncNextBilling(sub *models.Subscription) {
	if sub.AutoRenew && sub.IsActive() {
		next := sub.EndDate
		sub.NextBillingDate = &next
		return
	}
	sub.NextBillingDate = nil
}

func cancellationEnd(sub *models.Subscription, at time.Time) time.Time {
	if at.Before(sub.StartDate) {
		return sub.StartDate
	}
	return at
}

// cancelOtherActive cancels every active subscription of the user except
// keepID, so at most one stays active.
func (s *Service) cancelOtherActive(tx Repository, userID, keepID uint, now time.Time, res *Result) error {
	active, err := tx.LockActiveSubscriptions(userID)
	if err != nil {
		return fmt.Errorf("lock active subscriptions for user %d: %w", userID, err)
	}
	for i := range active {
		sub := &active[i]
		if sub.ID == keepID {
			continue
		}
		sub.Status = models.SubscriptionStatusCancelled
		sub.AutoRenew = false
		sub.NextBillingDate = nil
		sub.EndDate = cancellationEnd(sub, now)
		if err := tx.SaveSubscription(sub); err != nil {
			return fmt.Errorf("cancel superseded subscription %d: %w", sub.ID, err)
		}
		log.Infof("[Billing] Cancelled superseded subscription id=%d for user=%d", sub.ID, userID)
		res.record(audit.Ref(audit.ActionSubscriptionCancelled, audit.EntitySubscription, sub.ID).
			ForUser(userID).
			With("reason", "superseded"))
	}
	return nil
}

// newerActiveSubscription returns an active subscription of the user that
// already applied an event created after ev, or nil.
func (s *Service) newerActiveSubscription(tx Repository, userID uint, ev *Event) (*models.Subscription, error) {
	active, err := tx.LockActiveSubscriptions(userID)
	if err != nil {
		return nil, fmt.Errorf("lock active subscriptions for user %d: %w", userID, err)
	}
	for i := range active {
		if active[i].StaleEvent(ev.Created) {
			return &active[i], nil
		}
	}
	return nil, nil
}

// planForSubscription resolves the plan from checkout metadata first and the
// price id second.
func (s *Service) planForSubscription(ev *Event, md map[string]string) (Plan, bool) {
	if pt := md["plan_type"]; pt != "" {
		if p, err := s.catalog.Lookup(pt); err == nil {
			return p, true
		}
	}
	return s.catalog.ByPriceID(ev.String("items.data.0.price.id"))
}

// cycleForSubscription trusts the recurrence of the price actually billed
// over the cycle requested at checkout.
func cycleForSubscription(ev *Event, md map[string]string, plan Plan) models.BillingCycle {
	count, _ := ev.Int64("items.data.0.price.recurring.interval_count")
	if c, ok := cycleFromRecurring(ev.String("items.data.0.price.recurring.interval"), count); ok {
		return c
	}
	if c, ok := normalizeBillingCycle(md["billing_cycle"]); ok {
		return c
	}
	return plan.Interval
}

func (s *Service) handleSubscriptionCreated(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	externalID := ev.String("id")
	customerID := ev.RefID("customer")
	if externalID == "" || customerID == "" {
		return Result{}, fmt.Errorf("%w: subscription event without id or customer", ErrEntityNotFoundLocally)
	}

	found, err := tx.FindUserByExternalCustomerID(customerID)
	if err != nil {
		return Result{}, notFound(err, "user for customer", customerID)
	}
	user, err := tx.LockUser(found.ID)
	if err != nil {
		return Result{}, notFound(err, "user", fmt.Sprint(found.ID))
	}

	if _, err := tx.FindSubscriptionByExternalID(externalID); err == nil {
		return noop("subscription already recorded"), nil
	} else if !isNotFound(err) {
		return Result{}, err
	}

	md := ev.Metadata("metadata")
	if uid := md["user_id"]; uid != "" && uid != strconv.FormatUint(uint64(user.ID), 10) {
		log.Warnf("[Billing] Subscription %s metadata user_id=%s differs from customer owner=%d", externalID, uid, user.ID)
	}

	plan, ok := s.planForSubscription(ev, md)
	if !ok {
		log.Warnf("[Billing] Subscription %s has no known plan (metadata=%q price=%q)",
			externalID, md["plan_type"], ev.String("items.data.0.price.id"))
		return Result{Outcome: Outcome{Status: OutcomeIgnored, Message: "unknown plan"}}, nil
	}
	cycle := cycleForSubscription(ev, md, plan)

	now := s.clock()
	start, ok := periodStart(ev)
	if !ok {
		start = now
	}
	end, ok := periodEnd(ev)
	if !ok || !end.After(start) {
		end = addCycle(start, cycle)
	}
	amount := plan.Amount()
	if minor, ok := ev.Int64("items.data.0.price.unit_amount"); ok {
		amount = minorToAmount(minor)
	}
	currency := strings.ToLower(ev.String("currency"))
	if len(currency) != 3 {
		currency = plan.Currency
	}

	newer, err := s.newerActiveSubscription(tx, user.ID, ev)
	if err != nil {
		return Result{}, err
	}
	var res Result
	if newer == nil {
		if err := s.cancelOtherActive(tx, user.ID, 0, now, &res); err != nil {
			return Result{}, err
		}
	}

	sub := &models.Subscription{
		UserID:                 user.ID,
		ExternalSubscriptionID: &externalID,
		ExternalCustomerID:     customerID,
		PlanType:               plan.Type,
		Status:                 models.SubscriptionStatusActive,
		Amount:                 amount,
		Currency:               currency,
		StartDate:              start,
		EndDate:                end,
		BillingCycle:           cycle,
		AutoRenew:              !ev.Bool("cancel_at_period_end"),
		PaymentStatus:          models.PaymentStatusPending,
		Features:               plan.FeatureMap(),
	}
	sub.MarkEvent(ev.Created)
	if newer != nil {
		log.Warnf("[Billing] Subscription %s was created before active subscription id=%d; recording it as cancelled",
			externalID, newer.ID)
		sub.Status = models.SubscriptionStatusCancelled
		sub.AutoRenew = false
		sub.EndDate = cancellationEnd(sub, now)
	}
	syncNextBilling(sub)
	if err := tx.CreateSubscription(sub); err != nil {
		return Result{}, fmt.Errorf("create subscription %s: %w", externalID, err)
	}

	if ref := md["checkout_ref"]; ref != "" {
		if err := s.linkCheckoutInvoice(tx, ref, sub); err != nil {
			return Result{}, err
		}
	}

	res.record(audit.Ref(audit.ActionSubscriptionCreated, audit.EntitySubscription, sub.ID).
		ForUser(user.ID).
		With("external_subscription_id", externalID).
		With("plan_type", string(sub.PlanType)).
		With("billing_cycle", string(sub.BillingCycle)))
	if newer != nil {
		res.record(audit.Ref(audit.ActionSubscriptionCancelled, audit.EntitySubscription, sub.ID).
			ForUser(user.ID).
			With("reason", "superseded"))
	}
	return res, nil
}

// linkCheckoutInvoice attaches the checkout's invoice to the new subscription.
// If the first payment already landed, the subscription is marked paid.
func (s *Service) linkCheckoutInvoice(tx Repository, ref string, sub *models.Subscription) error {
	found, err := tx.FindInvoiceByCheckoutRef(ref)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if found.UserID != sub.UserID || found.SubscriptionID != nil {
		return nil
	}

	inv, err := tx.LockInvoice(found.ID)
	if err != nil {
		return err
	}
	inv.SubscriptionID = &sub.ID
	if err := tx.SaveInvoice(inv); err != nil {
		return fmt.Errorf("link invoice %d: %w", inv.ID, err)
	}
	if inv.Status == models.InvoiceStatusPaid {
		sub.PaymentStatus = models.PaymentStatusCompleted
		if pi := inv.MetadataString("payment_intent"); pi != "" {
			sub.TransactionID = &pi
		}
		if err := tx.SaveSubscription(sub); err != nil {
			return fmt.Errorf("save subscription %d: %w", sub.ID, err)
		}
	}
	return nil
}

type subscriptionSnapshot struct {
	status        models.SubscriptionStatus
	paymentStatus models.PaymentStatus
	planType      models.PlanType
	endDate       time.Time
	nextBilling   *time.Time
	autoRenew     bool
}

func snapshotOf(sub *models.Subscription) subscriptionSnapshot {
	return subscriptionSnapshot{
		status:        sub.Status,
		paymentStatus: sub.PaymentStatus,
		planType:      sub.PlanType,
		endDate:       sub.EndDate,
		nextBilling:   sub.NextBillingDate,
		autoRenew:     sub.AutoRenew,
	}
}

func (a subscriptionSnapshot) equal(b subscriptionSnapshot) bool {
	return a.status == b.status &&
		a.paymentStatus == b.paymentStatus &&
		a.planType == b.planType &&
		a.endDate.Equal(b.endDate) &&
		a.autoRenew == b.autoRenew &&
		timePtrEqual(a.nextBilling, b.nextBilling)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (s *Service) lockSubscriptionForEvent(tx Repository, ev *Event) (*models.Subscription, error) {
	externalID := ev.String("id")
	found, err := tx.FindSubscriptionByExternalID(externalID)
	if err != nil {
		return nil, notFound(err, "subscription", externalID)
	}
	if _, err := tx.LockUser(found.UserID); err != nil {
		return nil, notFound(err, "user", fmt.Sprint(found.UserID))
	}
	sub, err := tx.LockSubscription(found.ID)
	if err != nil {
		return nil, notFound(err, "subscription", externalID)
	}
	return sub, nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	sub, err := s.lockSubscriptionForEvent(tx, ev)
	if err != nil {
		return Result{}, err
	}
	if sub.IsTerminal() {
		log.Infof("[Billing] Ignoring update event=%s for %s subscription id=%d", ev.ID, sub.Status, sub.ID)
		return noop(fmt.Sprintf("subscription is %s", sub.Status)), nil
	}
	if sub.StaleEvent(ev.Created) {
		log.Infof("[Billing] Ignoring stale update event=%s for subscription id=%d", ev.ID, sub.ID)
		return noop("stale event"), nil
	}
	before := snapshotOf(sub)
	now := s.clock()

	status, paymentFailed, ok := mapExternalStatus(ev.String("status"))
	if !ok {
		log.Warnf("[Billing] Unknown subscription status %q for subscription id=%d; keeping %s",
			ev.String("status"), sub.ID, sub.Status)
		status = sub.Status
	}
	sub.Status = status
	if paymentFailed {
		sub.PaymentStatus = models.PaymentStatusFailed
	}

	if end, ok := periodEnd(ev); ok {
		if end.After(sub.EndDate) {
			sub.EndDate = end
		}
	} else if sub.IsActive() {
		extendByCycle(sub, now)
	}

	if p, ok := s.catalog.ByPriceID(ev.String("items.data.0.price.id")); ok && p.Type != sub.PlanType {
		sub.PlanType = p.Type
		sub.Features = p.FeatureMap()
		if minor, ok := ev.Int64("items.data.0.price.unit_amount"); ok {
			sub.Amount = minorToAmount(minor)
		} else {
			sub.Amount = p.Amount()
		}
	}

	sub.AutoRenew = !ev.Bool("cancel_at_period_end")
	syncNextBilling(sub)

	var res Result
	changed := !before.equal(snapshotOf(sub))

	if sub.IsActive() {
		until := sub.EndDate.Sub(now)
		if until > 0 && until <= renewalReminderWindow && !sub.ReminderSentFor(sub.EndDate) {
			remindFor := sub.EndDate
			sub.RenewalReminderSentFor = &remindFor
			subCopy := *sub
			res.notify(Notice{Kind: NoticeRenewalReminder, Subscription: &subCopy})
			changed = true
		}
	}

	marked := sub.MarkEvent(ev.Created)
	if !changed {
		if marked {
			if err := tx.SaveSubscription(sub); err != nil {
				return Result{}, fmt.Errorf("save subscription %d: %w", sub.ID, err)
			}
		}
		return noop("subscription unchanged"), nil
	}

	if sub.IsActive() && before.status != models.SubscriptionStatusActive {
		if err := s.cancelOtherActive(tx, sub.UserID, sub.ID, now, &res); err != nil {
			return Result{}, err
		}
	}
	if err := tx.SaveSubscription(sub); err != nil {
		return Result{}, fmt.Errorf("save subscription %d: %w", sub.ID, err)
	}

	action := audit.ActionSubscriptionUpdated
	if sub.Status == models.SubscriptionStatusCancelled && before.status != models.SubscriptionStatusCancelled {
		action = audit.ActionSubscriptionCancelled
	}
	res.record(audit.Ref(action, audit.EntitySubscription, sub.ID).
		ForUser(sub.UserID).
		With("event_id", ev.ID).
		With("status", string(sub.Status)).
		With("auto_renew", sub.AutoRenew).
		With("end_date", sub.EndDate.Format(time.RFC3339)))
	return res, nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	sub, err := s.lockSubscriptionForEvent(tx, ev)
	if err != nil {
		return Result{}, err
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		return noop("subscription already cancelled"), nil
	}

	endedAt, ok := ev.Time("ended_at")
	if !ok {
		endedAt, ok = ev.Time("canceled_at")
	}
	if !ok {
		endedAt = s.clock()
	}

	sub.Status = models.SubscriptionStatusCancelled
	sub.AutoRenew = false
	sub.NextBillingDate = nil
	sub.EndDate = cancellationEnd(sub, endedAt)
	sub.MarkEvent(ev.Created)
	if err := tx.SaveSubscription(sub); err != nil {
		return Result{}, fmt.Errorf("save subscription %d: %w", sub.ID, err)
	}

	var res Result
	res.record(audit.Ref(audit.ActionSubscriptionCancelled, audit.EntitySubscription, sub.ID).
		ForUser(sub.UserID).
		With("event_id", ev.ID).
		With("end_date", sub.EndDate.Format(time.RFC3339)))
	return res, nil
}
