package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	TouchAPIKey(userID uint, at time.Time) error
}

// BillingRepository serves the read side of the billing API.
type BillingRepository interface {
	ListInvoicesByUser(userID uint, offset, limit int) ([]models.Invoice, int64, error)
	GetInvoiceForUser(userID, invoiceID uint) (*models.Invoice, error)
	GetActiveSubscription(userID uint) (*models.Subscription, error)
	ListSubscriptionsByUser(userID uint) ([]models.Subscription, error)
	ListPaymentMethods(userID uint) ([]models.PaymentMethod, error)
	ListNotifications(userID uint, unreadOnly bool, limit int) ([]models.Notification, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User    UserRepository
	Billing BillingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:    NewUserRepository(db),
		Billing: NewBillingRepository(db),
	}
}
