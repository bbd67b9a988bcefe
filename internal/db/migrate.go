package db

import (
	"poolpilot/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Wallet{},
		&models.Pool{},
		&models.Rule{},
		&models.Investment{},
		&models.ScanState{},
	)
}
