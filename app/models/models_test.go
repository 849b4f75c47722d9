package models

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceCanTransitionTo(t *testing.T) {
	tests := []struct {
		from    InvoiceStatus
		to      InvoiceStatus
		allowed bool
	}{
		{InvoiceStatusDraft, InvoiceStatusOpen, true},
		{InvoiceStatusDraft, InvoiceStatusPaid, true},
		{InvoiceStatusDraft, InvoiceStatusVoid, true},
		{InvoiceStatusOpen, InvoiceStatusPaid, true},
		{InvoiceStatusOpen, InvoiceStatusUncollectible, true},
		{InvoiceStatusOpen, InvoiceStatusDraft, false},
		{InvoiceStatusPaid, InvoiceStatusOpen, false},
		{InvoiceStatusPaid, InvoiceStatusUncollectible, false},
		{InvoiceStatusPaid, InvoiceStatusPaid, true},
		{InvoiceStatusVoid, InvoiceStatusPaid, false},
		{InvoiceStatusUncollectible, InvoiceStatusPaid, true},
		{InvoiceStatusUncollectible, InvoiceStatusOpen, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			inv := &Invoice{Status: tt.from}
			assert.Equal(t, tt.allowed, inv.CanTransitionTo(tt.to))
		})
	}
}

func TestInvoiceIsTerminal(t *testing.T) {
	assert.False(t, (&Invoice{Status: InvoiceStatusDraft}).IsTerminal())
	assert.False(t, (&Invoice{Status: InvoiceStatusOpen}).IsTerminal())
	assert.True(t, (&Invoice{Status: InvoiceStatusPaid}).IsTerminal())
	assert.True(t, (&Invoice{Status: InvoiceStatusVoid}).IsTerminal())
	assert.True(t, (&Invoice{Status: InvoiceStatusUncollectible}).IsTerminal())
}

func TestInvoiceValidate(t *testing.T) {
	valid := Invoice{UserID: 1, Amount: decimal.RequireFromString("299.00"), Currency: "mxn", Status: InvoiceStatusDraft}
	require.NoError(t, valid.Validate())

	negative := valid
	negative.Amount = decimal.RequireFromString("-1")
	assert.ErrorIs(t, negative.Validate(), ErrNegativeAmount)

	upper := valid
	upper.Currency = "MXN"
	assert.Error(t, upper.Validate())

	unknown := valid
	unknown.Status = "refunded"
	assert.Error(t, unknown.Validate())
}

func TestInvoiceMetadataString(t *testing.T) {
	inv := &Invoice{}
	assert.Equal(t, "", inv.MetadataString("plan_type"))
	inv.Metadata = map[string]interface{}{"plan_type": "premium", "count": 3}
	assert.Equal(t, "premium", inv.MetadataString("plan_type"))
	assert.Equal(t, "", inv.MetadataString("count"))
}

func TestSubscriptionValidate(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sub := Subscription{
		UserID:        1,
		PlanType:      PlanBasic,
		Status:        SubscriptionStatusActive,
		Currency:      "mxn",
		BillingCycle:  BillingCycleMonthly,
		PaymentStatus: PaymentStatusCompleted,
		StartDate:     start,
		EndDate:       start.AddDate(0, 1, 0),
	}
	require.NoError(t, sub.Validate())

	backwards := sub
	backwards.EndDate = start.Add(-time.Hour)
	assert.ErrorIs(t, backwards.Validate(), ErrInvalidPeriod)

	badPlan := sub
	badPlan.PlanType = "gold"
	assert.Error(t, badPlan.Validate())
}

func TestSubscriptionReminderSentFor(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{}
	assert.False(t, sub.ReminderSentFor(end))

	sub.RenewalReminderSentFor = &end
	assert.True(t, sub.ReminderSentFor(end.In(time.FixedZone("CST", -6*3600))))
	assert.False(t, sub.ReminderSentFor(end.AddDate(0, 1, 0)))
}

func TestSubscriptionIsTerminal(t *testing.T) {
	for status, want := range map[SubscriptionStatus]bool{
		SubscriptionStatusActive:    false,
		SubscriptionStatusPending:   false,
		SubscriptionStatusCancelled: true,
		SubscriptionStatusExpired:   true,
	} {
		sub := &Subscription{Status: status}
		assert.Equal(t, want, sub.IsTerminal(), status)
	}
}

func TestSubscriptionEventOrdering(t *testing.T) {
	applied := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	sub := &Subscription{}
	assert.False(t, sub.StaleEvent(applied))
	assert.False(t, sub.MarkEvent(time.Time{}))
	assert.Nil(t, sub.LastEventAt)

	require.True(t, sub.MarkEvent(applied.In(time.FixedZone("CST", -6*3600))))
	require.NotNil(t, sub.LastEventAt)
	assert.Equal(t, time.UTC, sub.LastEventAt.Location())

	assert.True(t, sub.StaleEvent(applied.Add(-time.Second)))
	assert.False(t, sub.StaleEvent(applied))
	assert.False(t, sub.StaleEvent(time.Time{}))

	assert.False(t, sub.MarkEvent(applied))
	assert.False(t, sub.MarkEvent(applied.Add(-time.Minute)))
	assert.True(t, sub.LastEventAt.Equal(applied))

	assert.True(t, sub.MarkEvent(applied.Add(time.Second)))
	assert.True(t, sub.LastEventAt.Equal(applied.Add(time.Second)))
}

func TestPaymentMethodValidate(t *testing.T) {
	last4 := "4242"
	pm := PaymentMethod{UserID: 1, ExternalPaymentMethodID: "pm_1", Type: PaymentMethodTypeCard, Last4: &last4}
	require.NoError(t, pm.Validate())

	bad := "42a2"
	pm.Last4 = &bad
	assert.Error(t, pm.Validate())
}

func TestUserAPIKey(t *testing.T) {
	u := &User{}
	raw, err := u.IssueAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(raw, apiKeyPrefix))
	require.NotNil(t, u.APIKeyHash)
	assert.Equal(t, HashAPIKey(raw), *u.APIKeyHash)
	assert.Equal(t, HashAPIKey(raw), HashAPIKey("  "+raw+"\n"))
	assert.Len(t, *u.APIKeyHash, 64)

	again, err := u.IssueAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, raw, again)
}

func TestUserHasExternalCustomer(t *testing.T) {
	u := &User{}
	assert.False(t, u.HasExternalCustomer())
	blank := "  "
	u.ExternalCustomerID = &blank
	assert.False(t, u.HasExternalCustomer())
	id := "cus_1"
	u.ExternalCustomerID = &id
	assert.True(t, u.HasExternalCustomer())
}

func TestWebhookEventIsSettled(t *testing.T) {
	now := time.Now()
	assert.False(t, (&BillingWebhookEvent{}).IsSettled())
	assert.True(t, (&BillingWebhookEvent{ProcessedAt: &now}).IsSettled())
	assert.False(t, (&BillingWebhookEvent{ProcessedAt: &now, ProcessingError: "deadlock"}).IsSettled())
}
