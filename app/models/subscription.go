package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PlanType string

const (
	PlanBasic      PlanType = "basic"
	PlanPremium    PlanType = "premium"
	PlanEnterprise PlanType = "enterprise"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
)

type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleYearly    BillingCycle = "yearly"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

var ErrInvalidPeriod = errors.New("end_date must not be before start_date")

// Subscription mirrors a processor subscription for a provider account. Status
// is whatever the processor last reported; it is never decided locally.
type Subscription struct {
	ID                     uint               `gorm:"primaryKey" json:"id"`
	UserID                 uint               `gorm:"not null;index:idx_subscriptions_user_status,priority:1" json:"user_id" validate:"required"`
	ExternalSubscriptionID *string            `gorm:"type:varchar(191);uniqueIndex" json:"external_subscription_id,omitempty"`
	ExternalCustomerID     string             `gorm:"type:varchar(191);index" json:"external_customer_id"`
	PlanType               PlanType           `gorm:"type:varchar(20);not null" json:"plan_type" validate:"oneof=basic premium enterprise"`
	Status                 SubscriptionStatus `gorm:"type:varchar(20);not null;default:'pending';index:idx_subscriptions_user_status,priority:2" json:"status" validate:"oneof=active cancelled expired pending"`
	Amount                 decimal.Decimal    `gorm:"type:decimal(10,2);not null;default:0" json:"amount"`
	Currency               string             `gorm:"type:varchar(3);not null" json:"currency" validate:"required,len=3,lowercase"`
	StartDate              time.Time          `gorm:"type:timestamp" json:"start_date"`
	EndDate                time.Time          `gorm:"type:timestamp" json:"end_date"`
	NextBillingDate        *time.Time         `gorm:"type:timestamp;default:null" json:"next_billing_date,omitempty"`
	BillingCycle           BillingCycle       `gorm:"type:varchar(20);not null;default:'monthly'" json:"billing_cycle" validate:"oneof=monthly quarterly yearly"`
	AutoRenew              bool               `gorm:"not null" json:"auto_renew"`
	PaymentStatus          PaymentStatus      `gorm:"type:varchar(20);not null;default:'pending'" json:"payment_status" validate:"oneof=pending completed failed"`
	TransactionID          *string            `gorm:"type:varchar(191)" json:"transaction_id,omitempty"`
	Features               datatypes.JSONMap  `gorm:"type:json" json:"features,omitempty"`
	Notes                  string             `gorm:"type:text" json:"notes"`
	RenewalReminderSentFor *time.Time         `gorm:"type:timestamp;default:null" json:"-"`
	LastEventAt            *time.Time         `gorm:"type:timestamp;default:null" json:"-"`
	CreatedAt              time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *Subscription) Validate() error {
	if s.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	if !s.StartDate.IsZero() && !s.EndDate.IsZero() && s.EndDate.Before(s.StartDate) {
		return ErrInvalidPeriod
	}
	return validator.New().Struct(s)
}

func (s *Subscription) BeforeSave(tx *gorm.DB) error {
	return s.Validate()
}

func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// IsTerminal reports whether the processor has ended the subscription for
// good. A terminal subscription is never reactivated.
func (s *Subscription) IsTerminal() bool {
	return s.Status == SubscriptionStatusCancelled || s.Status == SubscriptionStatusExpired
}

// StaleEvent reports whether an event created at t predates the last event
// already applied to the subscription.
func (s *Subscription) StaleEvent(t time.Time) bool {
	return !t.IsZero() && s.LastEventAt != nil && t.Before(*s.LastEventAt)
}

// MarkEvent records t as the newest applied event time and reports whether
// it moved forward.
func (s *Subscription) MarkEvent(t time.Time) bool {
	if t.IsZero() || (s.LastEventAt != nil && !t.After(*s.LastEventAt)) {
		return false
	}
	at := t.UTC()
	s.LastEventAt = &at
	return true
}

// ReminderSentFor reports whether a renewal reminder already went out for periodEnd.
func (s *Subscription) ReminderSentFor(periodEnd time.Time) bool {
	return s.RenewalReminderSentFor != nil && s.RenewalReminderSentFor.Unix() == periodEnd.Unix()
}
