// Package notification stores billing notices for users and mails them from
// the background job queue.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/jobqueue"
)

// Enqueuer is the part of the job queue the dispatcher needs.
type Enqueuer interface {
	EnqueueJob(ctx context.Context, jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
}

// Dispatcher records a notification row per billing notice and queues its
// email delivery.
type Dispatcher struct {
	db    *gorm.DB
	queue Enqueuer
}

func NewDispatcher(db *gorm.DB, queue Enqueuer) *Dispatcher {
	return &Dispatcher{db: db, queue: queue}
}

func (d *Dispatcher) PaymentSucceeded(ctx context.Context, inv *models.Invoice) error {
	return d.dispatch(ctx, inv.UserID, models.NotificationPaymentSucceeded, inv.ID, invoiceData(inv))
}

func (d *Dispatcher) PaymentFailed(ctx context.Context, inv *models.Invoice, reason string) error {
	data := invoiceData(inv)
	data["reason"] = reason
	return d.dispatch(ctx, inv.UserID, models.NotificationPaymentFailed, inv.ID, data)
}

func (d *Dispatcher) RenewalReminder(ctx context.Context, sub *models.Subscription) error {
	data := map[string]interface{}{
		"subscription_id": sub.ID,
		"plan_type":       string(sub.PlanType),
		"amount":          sub.Amount.StringFixed(2),
		"currency":        sub.Currency,
		"renews_at":       sub.EndDate.UTC().Format(time.RFC3339),
	}
	return d.dispatch(ctx, sub.UserID, models.NotificationRenewalReminder, sub.ID, data)
}

func invoiceData(inv *models.Invoice) map[string]interface{} {
	data := map[string]interface{}{
		"invoice_id": inv.ID,
		"amount":     inv.Amount.StringFixed(2),
		"currency":   inv.Currency,
	}
	if inv.ExternalInvoiceID != nil {
		data["external_invoice_id"] = *inv.ExternalInvoiceID
	}
	return data
}

func (d *Dispatcher) dispatch(ctx context.Context, userID uint, kind string, referenceID uint, data map[string]interface{}) error {
	n, err := models.CreateNotification(d.db.WithContext(ctx), userID, kind, data, referenceID)
	if err != nil {
		return fmt.Errorf("store %s notification: %w", kind, err)
	}

	payload := jobqueue.NotificationJobPayload{NotificationID: n.ID, UserID: userID, Kind: kind}
	if _, err := d.queue.EnqueueJob(ctx, jobqueue.JobTypeSendNotification, payload.ToMap()); err != nil {
		// The row is kept so the notice still shows up in the user's inbox.
		return fmt.Errorf("queue %s notification %d: %w", kind, n.ID, err)
	}
	log.Debugf("[Notification] Queued %s notification %d for user=%d", kind, n.ID, userID)
	return nil
}
