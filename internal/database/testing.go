package database

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenTest opens a private in-memory SQLite ledger with the full schema
// migrated. Used by unit tests; production always connects to Postgres.
func OpenTest() (*gorm.DB, error) {
	// A named shared-cache DSN keeps every pooled connection on the same
	// in-memory database while isolating concurrent test ledgers.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
