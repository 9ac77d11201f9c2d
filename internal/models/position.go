package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a user's holding on one side of a market. Uniquely identified
// by (user_address, market_id, side); created on first buy, deleted on full
// sell or settlement.
type Position struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	UserAddress string `gorm:"type:varchar(100);not null;uniqueIndex:uniq_position,priority:1"`
	MarketID    string `gorm:"type:text;not null;uniqueIndex:uniq_position,priority:2;index"`
	Side        string `gorm:"type:varchar(100);not null;uniqueIndex:uniq_position,priority:3"`

	Shares  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	AvgCost decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}
