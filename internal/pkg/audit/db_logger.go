package audit

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/viajamx/marketplace/app/models"
)

// DBLogger persists entries to the audit_logs table.
type DBLogger struct {
	db *gorm.DB
}

func NewDBLogger(db *gorm.DB) *DBLogger {
	return &DBLogger{db: db}
}

func (l *DBLogger) Log(ctx context.Context, entry Entry) error {
	row := models.AuditLog{
		Action:     string(entry.Action),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
	}
	if entry.UserID != 0 {
		uid := entry.UserID
		row.UserID = &uid
	}
	if len(entry.Fields) > 0 {
		row.Fields = datatypes.JSONMap(entry.Fields)
	}
	return l.db.WithContext(ctx).Create(&row).Error
}
