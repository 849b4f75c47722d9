// Package dbtest opens throwaway sqlite databases with the full schema applied.
package dbtest

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/viajamx/marketplace/app/models"
	"github.com/viajamx/marketplace/internal/pkg/database"
)

// Open returns an in-memory database. A single connection is used so every
// query, including those in concurrent goroutines, sees the same memory db.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUser inserts an active user with the given email.
func CreateUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{
		Name:   "Proveedor " + email,
		Email:  email,
		Role:   models.ROLE_PROVIDER,
		Status: models.STATUS_ACTIVE,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateCustomerUser inserts a user already linked to a processor customer.
func CreateCustomerUser(t *testing.T, db *gorm.DB, email, customerID string) *models.User {
	t.Helper()

	user := CreateUser(t, db, email)
	require.NoError(t, db.Model(user).Update("external_customer_id", customerID).Error)
	user.ExternalCustomerID = &customerID
	return user
}
