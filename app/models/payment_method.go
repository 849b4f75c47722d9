package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentMethodTypeCard        = "card"
	PaymentMethodTypeBankAccount = "bank_account"
)

type PaymentMethod struct {
	ID                      uint              `gorm:"primaryKey" json:"id"`
	UserID                  uint              `gorm:"not null;index" json:"user_id" validate:"required"`
	ExternalPaymentMethodID string            `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_payment_method_id" validate:"required"`
	Type                    string            `gorm:"type:varchar(50);not null;default:'card'" json:"type" validate:"required,max=50"`
	Last4                   *string           `gorm:"type:varchar(4)" json:"last4,omitempty" validate:"omitempty,len=4,numeric"`
	Brand                   *string           `gorm:"type:varchar(50)" json:"brand,omitempty"`
	IsDefault               bool              `gorm:"default:false;index" json:"is_default"`
	Metadata                datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	CreatedAt               time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *PaymentMethod) Validate() error {
	return validator.New().Struct(p)
}

func (p *PaymentMethod) BeforeSave(tx *gorm.DB) error {
	return p.Validate()
}
