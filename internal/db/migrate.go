package db

import (
	"flippredict/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Market{},
		&models.MarketOption{},
		&models.MarketResolution{},
		&models.Balance{},
		&models.Position{},
		&models.LPPosition{},
		&models.OpenOrder{},
		&models.TradeOrder{},
		&models.SettlementLog{},
		&models.PricePoint{},
	)
}
