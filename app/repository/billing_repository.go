package repository

import (
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
)

const maxPageSize = 100

type billingRepository struct {
	db *gorm.DB
}

// NewBillingRepository creates the read-only billing repository.
func NewBillingRepository(db *gorm.DB) BillingRepository {
	return &billingRepository{db: db}
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// ListInvoicesByUser returns one page of invoices, newest first, and the total count.
func (r *billingRepository) ListInvoicesByUser(userID uint, offset, limit int) ([]models.Invoice, int64, error) {
	var total int64
	if err := r.db.Model(&models.Invoice{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	var invoices []models.Invoice
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(clampLimit(limit)).
		Find(&invoices).Error
	return invoices, total, err
}

func (r *billingRepository) GetInvoiceForUser(userID, invoiceID uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := r.db.Where("id = ? AND user_id = ?", invoiceID, userID).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetActiveSubscription returns gorm.ErrRecordNotFound when the user has no active plan.
func (r *billingRepository) GetActiveSubscription(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ? AND status = ?", userID, models.SubscriptionStatusActive).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *billingRepository) ListSubscriptionsByUser(userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Find(&subs).Error
	return subs, err
}

// ListPaymentMethods lists the default method first.
func (r *billingRepository) ListPaymentMethods(userID uint) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	err := r.db.Where("user_id = ?", userID).Order("is_default DESC, id ASC").Find(&methods).Error
	return methods, err
}

func (r *billingRepository) ListNotifications(userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	q := r.db.Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var notifications []models.Notification
	err := q.Order("id DESC").Limit(clampLimit(limit)).Find(&notifications).Error
	return notifications, err
}
