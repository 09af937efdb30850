package db

import (
	"aitrader/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Simulation{},
		&models.SimulationTrade{},
		&models.SimulationAccount{},
		&models.Notification{},
	)
}
