package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LPPosition is a liquidity provider's stake in a market pool.
type LPPosition struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	UserAddress string `gorm:"type:varchar(100);not null;uniqueIndex:uniq_lp_position,priority:1"`
	MarketID    string `gorm:"type:text;not null;uniqueIndex:uniq_lp_position,priority:2;index"`

	LPShares  decimal.Decimal `gorm:"column:lp_shares;type:numeric(30,10);not null;default:0"`
	Deposited decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (LPPosition) TableName() string {
	return "lp_positions"
}
