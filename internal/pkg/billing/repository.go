package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/viajamx/marketplace/app/models"
)

// Repository provides DB operations used by the billing service. Lock* methods
// take a row lock and are only meaningful inside Transaction.
type Repository interface {
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	GetUser(id uint) (*models.User, error)
	LockUser(id uint) (*models.User, error)
	FindUserByExternalCustomerID(customerID string) (*models.User, error)
	AssignExternalCustomerID(userID uint, customerID string) (bool, error)

	CreateInvoice(inv *models.Invoice) error
	SaveInvoice(inv *models.Invoice) error
	FindInvoiceByExternalID(externalID string) (*models.Invoice, error)
	FindInvoiceByCheckoutRef(ref string) (*models.Invoice, error)
	FindInvoiceByCheckoutSessionID(sessionID string) (*models.Invoice, error)
	LockInvoice(id uint) (*models.Invoice, error)
	LockInvoiceByExternalID(externalID string) (*models.Invoice, error)

	CreateSubscription(sub *models.Subscription) error
	SaveSubscription(sub *models.Subscription) error
	FindSubscriptionByExternalID(externalID string) (*models.Subscription, error)
	LockSubscription(id uint) (*models.Subscription, error)
	LockActiveSubscriptions(userID uint) ([]models.Subscription, error)

	FindPaymentMethodByExternalID(externalID string) (*models.PaymentMethod, error)
	CountPaymentMethods(userID uint) (int64, error)
	SavePaymentMethod(pm *models.PaymentMethod) error
	ClearDefaultPaymentMethods(userID, exceptID uint) error
	DeletePaymentMethod(pm *models.PaymentMethod) error

	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, outcome, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) forUpdate() *gorm.DB {
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) LockUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.forUpdate().First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) FindUserByExternalCustomerID(customerID string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("external_customer_id = ?", customerID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// AssignExternalCustomerID stores the processor customer id only if none is set
// yet. It reports whether this call won.
func (r *gormRepository) AssignExternalCustomerID(userID uint, customerID string) (bool, error) {
	res := r.db.Session(&gorm.Session{SkipHooks: true}).
		Model(&models.User{}).
		Where("id = ? AND external_customer_id IS NULL", userID).
		Update("external_customer_id", customerID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *gormRepository) CreateInvoice(inv *models.Invoice) error {
	return r.db.Create(inv).Error
}

func (r *gormRepository) SaveInvoice(inv *models.Invoice) error {
	return r.db.Save(inv).Error
}

func (r *gormRepository) findInvoice(query string, arg interface{}) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.Where(query, arg).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) FindInvoiceByExternalID(externalID string) (*models.Invoice, error) {
	return r.findInvoice("external_invoice_id = ?", externalID)
}

func (r *gormRepository) FindInvoiceByCheckoutRef(ref string) (*models.Invoice, error) {
	return r.findInvoice("checkout_ref = ?", ref)
}

func (r *gormRepository) FindInvoiceByCheckoutSessionID(sessionID string) (*models.Invoice, error) {
	return r.findInvoice("checkout_session_id = ?", sessionID)
}

func (r *gormRepository) LockInvoice(id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.forUpdate().First(&inv, id).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// LockInvoiceByExternalID is a locking read, so it also sees rows committed
// after the transaction's snapshot was taken.
func (r *gormRepository) LockInvoiceByExternalID(externalID string) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.forUpdate().Where("external_invoice_id = ?", externalID).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

func (r *gormRepository) CreateSubscription(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *gormRepository) SaveSubscription(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *gormRepository) FindSubscriptionByExternalID(externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.Where("external_subscription_id = ?", externalID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) LockSubscription(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.forUpdate().First(&sub, id).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormRepository) LockActiveSubscriptions(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.forUpdate().
		Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) FindPaymentMethodByExternalID(externalID string) (*models.PaymentMethod, error) {
	var pm models.PaymentMethod
	if err := r.db.Where("external_payment_method_id = ?", externalID).First(&pm).Error; err != nil {
		return nil, err
	}
	return &pm, nil
}

func (r *gormRepository) CountPaymentMethods(userID uint) (int64, error) {
	var n int64
	err := r.db.Model(&models.PaymentMethod{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

func (r *gormRepository) SavePaymentMethod(pm *models.PaymentMethod) error {
	return r.db.Save(pm).Error
}

// ClearDefaultPaymentMethods unsets the default flag on every method of the
// user except exceptID.
func (r *gormRepository) ClearDefaultPaymentMethods(userID, exceptID uint) error {
	return r.db.Session(&gorm.Session{SkipHooks: true}).
		Model(&models.PaymentMethod{}).
		Where("user_id = ? AND id <> ? AND is_default = ?", userID, exceptID, true).
		Update("is_default", false).Error
}

func (r *gormRepository) DeletePaymentMethod(pm *models.PaymentMethod) error {
	return r.db.Delete(pm).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, outcome, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"outcome":          outcome,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
