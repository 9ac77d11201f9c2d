package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the per-user USDT ledger. Available must never go negative;
// every mutation runs inside a transaction holding the row FOR UPDATE.
type Balance struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	UserAddress string `gorm:"type:varchar(100);not null;uniqueIndex"`

	Available decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Locked    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Balance) TableName() string {
	return "balances"
}
