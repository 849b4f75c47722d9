package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2/log"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/audit"
)

func (s *Service) loadUser(userID uint) (*models.User, error) {
	user, err := s.repo.GetUser(userID)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
		}
		return nil, err
	}
	return user, nil
}

// GetOrCreateCustomer returns the processor customer of a user, creating and
// storing it on first use. The stored id is never reassigned; when two
// requests race, both end up with the id that was stored first.
func (s *Service) GetOrCreateCustomer(ctx context.Context, userID uint) (*ExternalCustomer, error) {
	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}

	if user.HasExternalCustomer() {
		c, err := s.gateway.GetCustomer(ctx, *user.ExternalCustomerID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCustomerCreationFailed, err)
		}
		return c, nil
	}

	created, err := s.gateway.CreateCustomer(ctx, CustomerRequest{
		Email:          user.Email,
		Name:           user.Name,
		Metadata:       map[string]string{"user_id": strconv.FormatUint(uint64(user.ID), 10)},
		IdempotencyKey: fmt.Sprintf("customer-user-%d", user.ID),
	})
	if err != nil {
		log.Errorf("[Billing] Creating customer for user=%d failed: %v", user.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrCustomerCreationFailed, err)
	}

	assigned, err := s.repo.AssignExternalCustomerID(user.ID, created.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: store customer id: %v", ErrCustomerCreationFailed, err)
	}
	if !assigned {
		stored, err := s.repo.GetUser(user.ID)
		if err != nil {
			return nil, err
		}
		if !stored.HasExternalCustomer() {
			return nil, fmt.Errorf("%w: customer id for user %d was not stored", ErrCustomerCreationFailed, user.ID)
		}
		if *stored.ExternalCustomerID != created.ID {
			log.Warnf("[Billing] Customer %s for user=%d lost the race to %s", created.ID, user.ID, *stored.ExternalCustomerID)
			return s.gateway.GetCustomer(ctx, *stored.ExternalCustomerID)
		}
		return created, nil
	}

	s.writeAudit(ctx, audit.Ref(audit.ActionCustomerCreated, audit.EntityUser, user.ID).
		ForUser(user.ID).
		With("external_customer_id", created.ID))
	return created, nil
}

// UpdatePaymentMethod makes an already attached processor payment method the
// user's default. The local ledger is updated first; a failure to sync the
// default back to the processor leaves the local change in place and is
// reported as ErrDefaultSyncFailed so the caller can retry.
func (s *Service) UpdatePaymentMethod(ctx context.Context, userID uint, paymentMethodID string) (*models.PaymentMethod, error) {
	if paymentMethodID == "" {
		return nil, ErrPaymentMethodRequired
	}
	user, err := s.loadUser(userID)
	if err != nil {
		return nil, err
	}
	if !user.HasExternalCustomer() {
		return nil, fmt.Errorf("%w: user %d has no processor customer", ErrPaymentMethodMismatch, userID)
	}
	customerID := *user.ExternalCustomerID

	external, err := s.gateway.GetPaymentMethod(ctx, paymentMethodID)
	if err != nil {
		return nil, fmt.Errorf("retrieve payment method %s: %w", paymentMethodID, err)
	}
	if external.CustomerID != customerID {
		log.Warnf("[Billing] Payment method %s belongs to customer %q, not %s (user=%d)",
			paymentMethodID, external.CustomerID, customerID, userID)
		return nil, ErrPaymentMethodMismatch
	}

	var pm *models.PaymentMethod
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		if _, err := tx.LockUser(userID); err != nil {
			return err
		}
		row, _, err := upsertPaymentMethod(tx, userID, paymentMethodID)
		if err != nil {
			return err
		}
		if row.UserID != userID {
			return ErrPaymentMethodMismatch
		}
		cardDetailsFromExternal(external).apply(row)
		row.IsDefault = true
		if err := tx.SavePaymentMethod(row); err != nil {
			return err
		}
		if err := tx.ClearDefaultPaymentMethods(userID, row.ID); err != nil {
			return err
		}
		pm = row
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentMethodMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("store default payment method: %w", err)
	}

	s.writeAudit(ctx, audit.Ref(audit.ActionPaymentMethodUpdated, audit.EntityPaymentMethod, pm.ID).
		ForUser(userID).
		With("external_payment_method_id", paymentMethodID).
		With("is_default", true))

	if err := s.gateway.SetDefaultPaymentMethod(ctx, customerID, paymentMethodID); err != nil {
		log.Errorf("[Billing] Syncing default payment method %s for customer %s failed: %v", paymentMethodID, customerID, err)
		return pm, fmt.Errorf("%w: %w", ErrDefaultSyncFailed, err)
	}
	return pm, nil
}
