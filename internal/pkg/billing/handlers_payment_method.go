package billing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/audit"
)

// cardDetails is the display subset of a processor payment method.
type cardDetails struct {
	Type     string
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

func cardDetailsFromEvent(ev *Event) cardDetails {
	month, _ := ev.Int64("card.exp_month")
	year, _ := ev.Int64("card.exp_year")
	return cardDetails{
		Type:     ev.String("type"),
		Brand:    ev.String("card.brand"),
		Last4:    ev.String("card.last4"),
		ExpMonth: month,
		ExpYear:  year,
	}
}

func cardDetailsFromExternal(pm *ExternalPaymentMethod) cardDetails {
	return cardDetails{
		Type:     pm.Type,
		Brand:    pm.Brand,
		Last4:    pm.Last4,
		ExpMonth: pm.ExpMonth,
		ExpYear:  pm.ExpYear,
	}
}

func isFourDigits(s string) bool {
	if len(s) != 4 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// apply copies the details onto pm and reports whether anything changed.
func (d cardDetails) apply(pm *models.PaymentMethod) bool {
	changed := false
	if d.Type != "" && pm.Type != d.Type {
		pm.Type = d.Type
		changed = true
	}
	if pm.Type == "" {
		pm.Type = models.PaymentMethodTypeCard
		changed = true
	}
	if isFourDigits(d.Last4) && derefString(pm.Last4) != d.Last4 {
		last4 := d.Last4
		pm.Last4 = &last4
		changed = true
	}
	if d.Brand != "" && derefString(pm.Brand) != d.Brand {
		brand := d.Brand
		pm.Brand = &brand
		changed = true
	}
	if d.ExpMonth > 0 && d.ExpYear > 0 {
		if pm.Metadata == nil {
			pm.Metadata = datatypes.JSONMap{}
		}
		if metadataInt(pm.Metadata, "exp_month") != d.ExpMonth || metadataInt(pm.Metadata, "exp_year") != d.ExpYear {
			pm.Metadata["exp_month"] = d.ExpMonth
			pm.Metadata["exp_year"] = d.ExpYear
			changed = true
		}
	}
	return changed
}

// metadataInt reads a number from a JSON map whether it was set in memory or
// decoded from the database.
func metadataInt(m datatypes.JSONMap, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// upsertPaymentMethod loads or creates the local row for an external payment
// method owned by userID. It reports whether the row is new.
func upsertPaymentMethod(tx Repository, userID uint, externalID string) (*models.PaymentMethod, bool, error) {
	pm, err := tx.FindPaymentMethodByExternalID(externalID)
	if err == nil {
		return pm, false, nil
	}
	if !isNotFound(err) {
		return nil, false, err
	}
	return &models.PaymentMethod{
		UserID:                  userID,
		ExternalPaymentMethodID: externalID,
		Type:                    models.PaymentMethodTypeCard,
	}, true, nil
}

func (s *Service) handlePaymentMethodAttached(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	externalID := ev.String("id")
	customerID := ev.RefID("customer")
	if externalID == "" || customerID == "" {
		return Result{}, fmt.Errorf("%w: payment method event without id or customer", ErrEntityNotFoundLocally)
	}

	found, err := tx.FindUserByExternalCustomerID(customerID)
	if err != nil {
		return Result{}, notFound(err, "user for customer", customerID)
	}
	user, err := tx.LockUser(found.ID)
	if err != nil {
		return Result{}, notFound(err, "user", fmt.Sprint(found.ID))
	}

	pm, isNew, err := upsertPaymentMethod(tx, user.ID, externalID)
	if err != nil {
		return Result{}, err
	}
	claimed := isNew
	if !isNew && pm.UserID != user.ID {
		log.Warnf("[Billing] Payment method %s moved from user=%d to user=%d", externalID, pm.UserID, user.ID)
		pm.UserID = user.ID
		pm.IsDefault = false
		claimed = true
	}
	changed := cardDetailsFromEvent(ev).apply(pm)
	if !claimed && !changed {
		return noop("payment method unchanged"), nil
	}

	// The user's first method becomes the default.
	if claimed {
		count, err := tx.CountPaymentMethods(user.ID)
		if err != nil {
			return Result{}, err
		}
		pm.IsDefault = count == 0
	}
	if err := tx.SavePaymentMethod(pm); err != nil {
		return Result{}, fmt.Errorf("save payment method %s: %w", externalID, err)
	}
	if pm.IsDefault {
		if err := tx.ClearDefaultPaymentMethods(user.ID, pm.ID); err != nil {
			return Result{}, err
		}
	}

	var res Result
	res.record(audit.Ref(audit.ActionPaymentMethodUpdated, audit.EntityPaymentMethod, pm.ID).
		ForUser(user.ID).
		With("external_payment_method_id", externalID).
		With("is_default", pm.IsDefault))
	return res, nil
}

func (s *Service) handlePaymentMethodDetached(ctx context.Context, tx Repository, ev *Event) (Result, error) {
	externalID := ev.String("id")
	found, err := tx.FindPaymentMethodByExternalID(externalID)
	if err != nil {
		return Result{}, notFound(err, "payment method", externalID)
	}
	if _, err := tx.LockUser(found.UserID); err != nil {
		return Result{}, notFound(err, "user", fmt.Sprint(found.UserID))
	}
	pm, err := tx.FindPaymentMethodByExternalID(externalID)
	if err != nil {
		return Result{}, notFound(err, "payment method", externalID)
	}
	if err := tx.DeletePaymentMethod(pm); err != nil {
		return Result{}, fmt.Errorf("delete payment method %s: %w", externalID, err)
	}

	var res Result
	res.record(audit.Ref(audit.ActionPaymentMethodRemoved, audit.EntityPaymentMethod, pm.ID).
		ForUser(pm.UserID).
		With("external_payment_method_id", externalID).
		With("was_default", pm.IsDefault))
	return res, nil
}
