package billing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/viajamx/marketplace/app/models"
)

// Notifier delivers user-facing billing notifications. Calls happen after the
// ledger change has committed; failures are logged, never rolled back.
type Notifier interface {
	PaymentSucceeded(ctx context.Context, inv *models.Invoice) error
	PaymentFailed(ctx context.Context, inv *models.Invoice, reason string) error
	RenewalReminder(ctx context.Context, sub *models.Subscription) error
}

// InFlightGuard serialises concurrent deliveries of the same event id.
// Acquire reports false when another holder owns id; otherwise release
// gives the id back, unless the hold has already expired.
type InFlightGuard interface {
	Acquire(ctx context.Context, id string) (release func(context.Context) error, acquired bool, err error)
}

// CheckoutResult is returned to the client that started a checkout.
type CheckoutResult struct {
	SessionID   string          `json:"session_id"`
	CheckoutURL string          `json:"checkout_url"`
	InvoiceID   uint            `json:"invoice_id"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
}

type nopNotifier struct{}

func (nopNotifier) PaymentSucceeded(context.Context, *models.Invoice) error      { return nil }
func (nopNotifier) PaymentFailed(context.Context, *models.Invoice, string) error { return nil }
func (nopNotifier) RenewalReminder(context.Context, *models.Subscription) error  { return nil }
