package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusOpen          InvoiceStatus = "open"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusVoid          InvoiceStatus = "void"
	InvoiceStatusUncollectible InvoiceStatus = "uncollectible"
)

var ErrNegativeAmount = errors.New("amount must not be negative")

// Invoice is the local ledger record of one billable charge. Drafts are written
// by checkout, every later transition comes from processor webhooks.
type Invoice struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	UserID            uint              `gorm:"not null;index" json:"user_id" validate:"required"`
	SubscriptionID    *uint             `gorm:"index" json:"subscription_id,omitempty"`
	ExternalInvoiceID *string           `gorm:"type:varchar(191);uniqueIndex" json:"external_invoice_id,omitempty"`
	CheckoutSessionID *string           `gorm:"type:varchar(191);uniqueIndex" json:"checkout_session_id,omitempty"`
	CheckoutRef       *string           `gorm:"type:varchar(64);uniqueIndex" json:"checkout_ref,omitempty"`
	Amount            decimal.Decimal   `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	Currency          string            `gorm:"type:varchar(3);not null" json:"currency" validate:"required,len=3,lowercase"`
	Status            InvoiceStatus     `gorm:"type:varchar(20);not null;default:'draft';index" json:"status" validate:"oneof=draft open paid void uncollectible"`
	DueDate           time.Time         `gorm:"type:timestamp" json:"due_date"`
	PaidAt            *time.Time        `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	Metadata          datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Invoice) Validate() error {
	if i.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	return validator.New().Struct(i)
}

func (i *Invoice) BeforeSave(tx *gorm.DB) error {
	return i.Validate()
}

// IsTerminal reports whether the invoice has settled for its billing cycle.
func (i *Invoice) IsTerminal() bool {
	switch i.Status {
	case InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving to next is allowed. Terminal invoices
// never return to draft or open; an uncollectible invoice may still become paid
// when a late charge succeeds.
func (i *Invoice) CanTransitionTo(next InvoiceStatus) bool {
	if i.Status == next {
		return true
	}
	switch i.Status {
	case InvoiceStatusDraft:
		return next == InvoiceStatusOpen || next == InvoiceStatusPaid || next == InvoiceStatusVoid || next == InvoiceStatusUncollectible
	case InvoiceStatusOpen:
		return next == InvoiceStatusPaid || next == InvoiceStatusVoid || next == InvoiceStatusUncollectible
	case InvoiceStatusUncollectible:
		return next == InvoiceStatusPaid
	default:
		return false
	}
}

// MetadataString returns a string metadata value or "" when absent.
func (i *Invoice) MetadataString(key string) string {
	if i.Metadata == nil {
		return ""
	}
	if v, ok := i.Metadata[key].(string); ok {
		return v
	}
	return ""
}
