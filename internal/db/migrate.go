package db

import (
	"tradesignal/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.User{},
		&models.BrokerAccount{},
		&models.RawSignal{},
		&models.Order{},
		&models.OrderHistory{},
		&models.OrderIDCounter{},
		&models.TaskFailure{},
	)
}
