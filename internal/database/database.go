package database

import (
	"fmt"

	"momentum-trader-go/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema and seeds the singleton rows.
// Existing data is preserved: bars and trade history accumulate across
// restarts, so tables are never dropped.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Ticker{},
		&models.DailyBar{},
		&models.ScanResult{},
		&models.Position{},
		&models.Trade{},
		&models.Settings{},
		&models.UpdateStatus{},
		&models.SchedulerCheckpoint{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	// Seed the singleton settings and update-status rows on first run.
	var settings models.Settings
	if err := db.FirstOrCreate(&settings, models.Settings{}).Error; err != nil {
		return fmt.Errorf("failed to seed settings: %w", err)
	}
	var status models.UpdateStatus
	if err := db.FirstOrCreate(&status, models.UpdateStatus{}).Error; err != nil {
		return fmt.Errorf("failed to seed update status: %w", err)
	}

	return nil
}
