package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/database/dbtest"
)

func TestCreateWebhookEventIfNotExists(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)

	event := &models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_1",
		EventType:       string(EventInvoicePaymentSucceeded),
		PayloadJSON:     `{"id":"evt_1"}`,
	}
	created, stored, err := repo.CreateWebhookEventIfNotExists(event)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, stored.IsSettled())

	require.NoError(t, repo.MarkWebhookProcessed(stored.ID, string(OutcomeProcessed), ""))

	created, stored, err = repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_1",
		EventType:       string(EventInvoicePaymentSucceeded),
		PayloadJSON:     `{"id":"evt_1"}`,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, stored.IsSettled())
	assert.Equal(t, string(OutcomeProcessed), stored.Outcome)
}

func TestTransactionRollsBack(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	user := dbtest.CreateUser(t, db, "tx@viaja.mx")

	err := repo.Transaction(context.Background(), func(tx Repository) error {
		if err := tx.CreateInvoice(&models.Invoice{
			UserID:   user.ID,
			Amount:   decimal.New(100, -2),
			Currency: "mxn",
			Status:   models.InvoiceStatusDraft,
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	var n int64
	require.NoError(t, db.Model(&models.Invoice{}).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestClearDefaultPaymentMethods(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	user := dbtest.CreateUser(t, db, "defaults@viaja.mx")

	var ids []uint
	for _, ext := range []string{"pm_1", "pm_2", "pm_3"} {
		pm := &models.PaymentMethod{UserID: user.ID, ExternalPaymentMethodID: ext, Type: "card", IsDefault: true}
		require.NoError(t, repo.SavePaymentMethod(pm))
		ids = append(ids, pm.ID)
	}
	require.NoError(t, repo.ClearDefaultPaymentMethods(user.ID, ids[1]))

	var defaults []models.PaymentMethod
	require.NoError(t, db.Where("is_default = ?", true).Find(&defaults).Error)
	require.Len(t, defaults, 1)
	assert.Equal(t, ids[1], defaults[0].ID)

	n, err := repo.CountPaymentMethods(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestInvoiceValidationRejectsNegativeAmount(t *testing.T) {
	db := dbtest.Open(t)
	repo := NewRepository(db)
	user := dbtest.CreateUser(t, db, "neg@viaja.mx")

	err := repo.CreateInvoice(&models.Invoice{
		UserID:   user.ID,
		Amount:   decimal.New(-1, 0),
		Currency: "mxn",
		Status:   models.InvoiceStatusDraft,
	})
	assert.ErrorIs(t, err, models.ErrNegativeAmount)
}
