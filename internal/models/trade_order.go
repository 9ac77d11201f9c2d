package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeOrder is the execution receipt returned by the trading API for an
// AMM/LMSR fill. Kind is "buy" or "sell".
type TradeOrder struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	UserAddress string `gorm:"type:varchar(100);not null;index"`
	MarketID    string `gorm:"type:text;not null;index"`

	Side string `gorm:"type:varchar(100);not null"`
	Kind string `gorm:"type:varchar(10);not null"`

	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Shares decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price  decimal.Decimal `gorm:"type:numeric(20,10);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (TradeOrder) TableName() string {
	return "trade_orders"
}
