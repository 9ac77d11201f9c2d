package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketOption is one LMSR outcome leg of a multi-option market.
// OptionKey is the "option_*" token used as a position side.
type MarketOption struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID string `gorm:"type:text;not null;uniqueIndex:uniq_market_option,priority:1"`

	OptionKey string `gorm:"type:varchar(100);not null;uniqueIndex:uniq_market_option,priority:2"`
	Label     string `gorm:"type:text;not null"`

	Quantity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Price    decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (MarketOption) TableName() string {
	return "market_options"
}
