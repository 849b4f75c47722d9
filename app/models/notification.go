package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	NotificationPaymentSucceeded = "payment_succeeded"
	NotificationPaymentFailed    = "payment_failed"
	NotificationRenewalReminder  = "renewal_reminder"
)

type Notification struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	UserID      uint              `gorm:"index" json:"user_id"`
	Type        string            `gorm:"type:varchar(50)" json:"type" validate:"oneof=payment_succeeded payment_failed renewal_reminder"`
	Data        datatypes.JSONMap `gorm:"type:json" json:"data,omitempty"`
	IsRead      bool              `gorm:"default:false" json:"is_read"`
	ReferenceID uint              `json:"reference_id"`
	SentAt      *time.Time        `gorm:"type:timestamp;default:null" json:"sent_at,omitempty"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt    `gorm:"index" json:"-"`
}

// MarkAsRead flags the notification as read.
func (n *Notification) MarkAsRead(db *gorm.DB) error {
	n.IsRead = true
	return db.Model(n).Update("is_read", true).Error
}

// MarkAsSent records the email delivery time.
func (n *Notification) MarkAsSent(db *gorm.DB, at time.Time) error {
	n.SentAt = &at
	return db.Model(n).Update("sent_at", at).Error
}

// CreateNotification stores an unread notification and returns it.
func CreateNotification(db *gorm.DB, userID uint, notificationType string, data map[string]interface{}, referenceID uint) (*Notification, error) {
	notification := Notification{
		UserID:      userID,
		Type:        notificationType,
		Data:        datatypes.JSONMap(data),
		ReferenceID: referenceID,
		IsRead:      false,
	}

	if err := db.Create(&notification).Error; err != nil {
		return nil, err
	}
	return &notification, nil
}
