package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v82"
)

const (
	breakerMaxRequests      = 1
	breakerInterval         = 60 * time.Second
	breakerTimeout          = 30 * time.Second
	breakerFailureThreshold = 5
)

// ErrProcessorUnavailable is returned while the circuit breaker is open.
var ErrProcessorUnavailable = errors.New("payment processor temporarily unavailable")

// StripeGateway talks to Stripe through a per-instance client. Every call goes
// through one circuit breaker so an outage fails fast.
type StripeGateway struct {
	client  *stripe.Client
	breaker *gobreaker.CircuitBreaker[any]
}

func NewStripeGateway(cfg Config) *StripeGateway {
	return &StripeGateway{
		client:  stripe.NewClient(cfg.SecretKey),
		breaker: newBreaker("stripe"),
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnf("[Billing] Circuit breaker %s changed from %s to %s", name, from.String(), to.String())
		},
		IsSuccessful: countsAsHealthy,
	})
}

// countsAsHealthy keeps request errors (bad ids, declined cards) from tripping
// the breaker. Only transport failures, rate limits and 5xx count.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := stripeErr.HTTPStatusCode
		return code >= 400 && code < 500 && code != http.StatusTooManyRequests
	}
	return false
}

func execute[T any](cb *gobreaker.CircuitBreaker[any], op string, fn func() (T, error)) (T, error) {
	var zero T
	res, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s: %w", op, ErrProcessorUnavailable)
		}
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	out, _ := res.(T)
	return out, nil
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, req CustomerRequest) (*ExternalCustomer, error) {
	return execute(g.breaker, "create customer", func() (*ExternalCustomer, error) {
		params := &stripe.CustomerCreateParams{
			Email: stripe.String(req.Email),
			Name:  stripe.String(req.Name),
		}
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		c, err := g.client.V1Customers.Create(ctx, params)
		if err != nil {
			return nil, err
		}
		return customerFromStripe(c), nil
	})
}

func (g *StripeGateway) GetCustomer(ctx context.Context, customerID string) (*ExternalCustomer, error) {
	return execute(g.breaker, "retrieve customer", func() (*ExternalCustomer, error) {
		c, err := g.client.V1Customers.Retrieve(ctx, customerID, nil)
		if err != nil {
			return nil, err
		}
		return customerFromStripe(c), nil
	})
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	return execute(g.breaker, "create checkout session", func() (*CheckoutSession, error) {
		params := &stripe.CheckoutSessionCreateParams{
			Customer: stripe.String(req.CustomerID),
			Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			LineItems: []*stripe.CheckoutSessionCreateLineItemParams{
				{
					Price:    stripe.String(req.PriceID),
					Quantity: stripe.Int64(1),
				},
			},
			SuccessURL:        stripe.String(req.SuccessURL),
			CancelURL:         stripe.String(req.CancelURL),
			ClientReferenceID: stripe.String(req.ClientReferenceID),
			SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
				Metadata: req.Metadata,
			},
		}
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		s, err := g.client.V1CheckoutSessions.Create(ctx, params)
		if err != nil {
			return nil, err
		}
		return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
	})
}

func (g *StripeGateway) GetPaymentMethod(ctx context.Context, paymentMethodID string) (*ExternalPaymentMethod, error) {
	return execute(g.breaker, "retrieve payment method", func() (*ExternalPaymentMethod, error) {
		pm, err := g.client.V1PaymentMethods.Retrieve(ctx, paymentMethodID, nil)
		if err != nil {
			return nil, err
		}
		return paymentMethodFromStripe(pm), nil
	})
}

func (g *StripeGateway) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	_, err := execute(g.breaker, "set default payment method", func() (*stripe.Customer, error) {
		return g.client.V1Customers.Update(ctx, customerID, &stripe.CustomerUpdateParams{
			InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
				DefaultPaymentMethod: stripe.String(paymentMethodID),
			},
		})
	})
	return err
}

func customerFromStripe(c *stripe.Customer) *ExternalCustomer {
	if c == nil {
		return nil
	}
	out := &ExternalCustomer{
		ID:       c.ID,
		Email:    c.Email,
		Name:     c.Name,
		Deleted:  c.Deleted,
		Metadata: c.Metadata,
	}
	if c.InvoiceSettings != nil && c.InvoiceSettings.DefaultPaymentMethod != nil {
		out.DefaultPaymentMethodID = c.InvoiceSettings.DefaultPaymentMethod.ID
	}
	return out
}

func paymentMethodFromStripe(pm *stripe.PaymentMethod) *ExternalPaymentMethod {
	if pm == nil {
		return nil
	}
	out := &ExternalPaymentMethod{
		ID:   pm.ID,
		Type: string(pm.Type),
	}
	if pm.Customer != nil {
		out.CustomerID = pm.Customer.ID
	}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = pm.Card.ExpMonth
		out.ExpYear = pm.Card.ExpYear
	}
	return out
}
