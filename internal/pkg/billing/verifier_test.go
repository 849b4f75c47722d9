package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierAcceptsSignedPayload(t *testing.T) {
	v := NewVerifier(testWebhookSecret, 5*time.Minute)
	payload, header := signedEvent(t, "evt_1", EventInvoicePaymentSucceeded, map[string]interface{}{
		"id":          "in_1",
		"object":      "invoice",
		"amount_paid": 29900,
	})

	ev, err := v.Verify(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventInvoicePaymentSucceeded, ev.Type)
	assert.Equal(t, "in_1", ev.String("id"))
	amount, ok := ev.Int64("amount_paid")
	assert.True(t, ok)
	assert.Equal(t, int64(29900), amount)
	assert.False(t, ev.Created.IsZero())
}

func TestVerifierRejections(t *testing.T) {
	object := map[string]interface{}{"id": "in_1", "object": "invoice"}

	t.Run("tampered body", func(t *testing.T) {
		v := NewVerifier(testWebhookSecret, 5*time.Minute)
		payload, header := signedEvent(t, "evt_1", EventInvoicePaymentSucceeded, object)
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = ' '
		_, err := v.Verify(tampered, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		v := NewVerifier("whsec_other", 5*time.Minute)
		payload, header := signedEvent(t, "evt_1", EventInvoicePaymentSucceeded, object)
		_, err := v.Verify(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("stale timestamp", func(t *testing.T) {
		v := NewVerifier(testWebhookSecret, 5*time.Minute)
		payload := eventPayload(t, "evt_1", EventInvoicePaymentSucceeded, object)
		header := signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour))
		_, err := v.Verify(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		v := NewVerifier(testWebhookSecret, 5*time.Minute)
		payload := eventPayload(t, "evt_1", EventInvoicePaymentSucceeded, object)
		_, err := v.Verify(payload, "")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("unconfigured secret", func(t *testing.T) {
		v := NewVerifier("", 5*time.Minute)
		payload, header := signedEvent(t, "evt_1", EventInvoicePaymentSucceeded, object)
		_, err := v.Verify(payload, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("garbage header", func(t *testing.T) {
		v := NewVerifier(testWebhookSecret, 5*time.Minute)
		payload := eventPayload(t, "evt_1", EventInvoicePaymentSucceeded, object)
		_, err := v.Verify(payload, "t=abc,v1=nothex")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}
