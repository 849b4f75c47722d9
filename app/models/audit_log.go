package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is an append-only record written by the audit sink. The entity is
// referenced by type name and id; nothing resolves it back.
type AuditLog struct {
	ID         uint              `gorm:"primaryKey" json:"id"`
	Action     string            `gorm:"type:varchar(64);not null;index" json:"action"`
	EntityType string            `gorm:"type:varchar(64);index:idx_audit_logs_entity,priority:1" json:"entity_type"`
	EntityID   string            `gorm:"type:varchar(191);index:idx_audit_logs_entity,priority:2" json:"entity_id"`
	UserID     *uint             `gorm:"index" json:"user_id,omitempty"`
	Fields     datatypes.JSONMap `gorm:"type:json" json:"fields,omitempty"`
	CreatedAt  time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}
