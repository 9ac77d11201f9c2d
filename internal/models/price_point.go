package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one sample of a market's price history. A final point with
// the CTF 1/0 prices is written when the market resolves.
type PricePoint struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID string `gorm:"type:text;not null;index"`

	YesPrice decimal.Decimal `gorm:"type:numeric(20,10);not null"`
	NoPrice  decimal.Decimal `gorm:"type:numeric(20,10);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (PricePoint) TableName() string {
	return "price_points"
}
