package audit

import (
	"context"
	"strconv"
)

// Action names an auditable billing transition.
type Action string

const (
	ActionCustomerCreated       Action = "customer.created"
	ActionPaymentMethodUpdated  Action = "payment_method.updated"
	ActionPaymentMethodRemoved  Action = "payment_method.removed"
	ActionSubscriptionCreated   Action = "subscription.created"
	ActionSubscriptionUpdated   Action = "subscription.updated"
	ActionSubscriptionCancelled Action = "subscription.cancelled"
	ActionWebhookReceived       Action = "webhook.received"
	ActionWebhookFailed         Action = "webhook.failed"
)

// Entity types used in entry references.
const (
	EntityUser          = "user"
	EntityInvoice       = "invoice"
	EntitySubscription  = "subscription"
	EntityPaymentMethod = "payment_method"
	EntityWebhookEvent  = "webhook_event"
)

// Entry is one audit record. The entity is a tagged reference, never a live object.
type Entry struct {
	Action     Action
	EntityType string
	EntityID   string
	UserID     uint
	Fields     map[string]interface{}
}

// Ref builds an entry for a numeric entity id.
func Ref(action Action, entityType string, id uint) Entry {
	return Entry{Action: action, EntityType: entityType, EntityID: strconv.FormatUint(uint64(id), 10)}
}

// With returns a copy of e carrying one more field.
func (e Entry) With(key string, value interface{}) Entry {
	fields := make(map[string]interface{}, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// ForUser returns a copy of e attributed to userID.
func (e Entry) ForUser(userID uint) Entry {
	e.UserID = userID
	return e
}

// Logger is the sink billing code writes audit entries to.
type Logger interface {
	Log(ctx context.Context, entry Entry) error
}
