package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusOpen      = "open"
	OrderStatusFilled    = "filled"
	OrderStatusExpired   = "expired"
	OrderStatusCancelled = "cancelled"
)

// OpenOrder is a resting limit order. Matching is price-time priority:
// among same-price orders the earliest created_at fills first. All open
// orders of a market flip to expired when the market resolves.
type OpenOrder struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID    string `gorm:"type:text;not null;index"`
	UserAddress string `gorm:"type:varchar(100);not null;index"`

	Side  string `gorm:"type:varchar(10);not null"`
	Kind  string `gorm:"type:varchar(10);not null;default:'buy'"`
	Price decimal.Decimal `gorm:"type:numeric(20,10);not null"`

	Size      decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Remaining decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Status string `gorm:"type:varchar(20);not null;default:'open';index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (OpenOrder) TableName() string {
	return "open_orders"
}
