package billing

import "context"

// Gateway is the outbound side of the payment processor.
type Gateway interface {
	CreateCustomer(ctx context.Context, req CustomerRequest) (*ExternalCustomer, error)
	GetCustomer(ctx context.Context, customerID string) (*ExternalCustomer, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	GetPaymentMethod(ctx context.Context, paymentMethodID string) (*ExternalPaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
}

type CustomerRequest struct {
	Email          string
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

type ExternalCustomer struct {
	ID                     string
	Email                  string
	Name                   string
	DefaultPaymentMethodID string
	Deleted                bool
	Metadata               map[string]string
}

type CheckoutSessionRequest struct {
	CustomerID        string
	PriceID           string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
	IdempotencyKey    string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type ExternalPaymentMethod struct {
	ID         string
	CustomerID string
	Type       string
	Brand      string
	Last4      string
	ExpMonth   int64
	ExpYear    int64
}
