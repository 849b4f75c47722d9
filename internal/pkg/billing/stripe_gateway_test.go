package billing

import (
	"errors"
	"net/http"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := newBreaker("test")
	boom := errors.New("connection reset")

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := execute(cb, "op", func() (string, error) { return "", boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	calls := 0
	_, err := execute(cb, "op", func() (string, error) {
		calls++
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrProcessorUnavailable)
	assert.Equal(t, 0, calls)
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	cb := newBreaker("test")
	notFound := &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such customer"}

	for i := 0; i < breakerFailureThreshold*2; i++ {
		_, err := execute(cb, "op", func() (string, error) { return "", notFound })
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	got, err := execute(cb, "op", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestCountsAsHealthy(t *testing.T) {
	assert.True(t, countsAsHealthy(nil))
	assert.True(t, countsAsHealthy(&stripe.Error{HTTPStatusCode: http.StatusBadRequest}))
	assert.False(t, countsAsHealthy(&stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}))
	assert.False(t, countsAsHealthy(&stripe.Error{HTTPStatusCode: http.StatusBadGateway}))
	assert.False(t, countsAsHealthy(errors.New("dial tcp: timeout")))
}

func TestStripeMapping(t *testing.T) {
	c := customerFromStripe(&stripe.Customer{
		ID:    "cus_1",
		Email: "ana@example.com",
		InvoiceSettings: &stripe.CustomerInvoiceSettings{
			DefaultPaymentMethod: &stripe.PaymentMethod{ID: "pm_1"},
		},
	})
	assert.Equal(t, "cus_1", c.ID)
	assert.Equal(t, "pm_1", c.DefaultPaymentMethodID)

	pm := paymentMethodFromStripe(&stripe.PaymentMethod{
		ID:       "pm_1",
		Type:     stripe.PaymentMethodTypeCard,
		Customer: &stripe.Customer{ID: "cus_1"},
		Card: &stripe.PaymentMethodCard{
			Brand:    stripe.PaymentMethodCardBrand("visa"),
			Last4:    "4242",
			ExpMonth: 12,
			ExpYear:  2030,
		},
	})
	assert.Equal(t, "cus_1", pm.CustomerID)
	assert.Equal(t, "card", pm.Type)
	assert.Equal(t, "visa", pm.Brand)
	assert.Equal(t, "4242", pm.Last4)
	assert.Nil(t, paymentMethodFromStripe(nil))
}
