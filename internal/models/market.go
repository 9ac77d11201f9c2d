package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market status lifecycle: active -> pending_resolution/settling -> resolved -> settled.
// A settled market is terminal and never resurrected.
const (
	MarketStatusActive            = "active"
	MarketStatusPendingResolution = "pending_resolution"
	MarketStatusSettling          = "settling"
	MarketStatusResolved          = "resolved"
	MarketStatusSettled           = "settled"
)

const (
	MarketTypeBinary = "binary"
	MarketTypeMulti  = "multi"
)

const (
	SideYes = "yes"
	SideNo  = "no"
)

type Market struct {
	ID       string `gorm:"primaryKey;type:text"`
	Title    string `gorm:"type:text;not null"`
	Category string `gorm:"type:varchar(50);index"`

	MarketType string `gorm:"type:varchar(10);not null;default:'binary'"`
	Status     string `gorm:"type:varchar(20);not null;default:'active';index"`

	YesReserve decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	NoReserve  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	YesPrice   decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0.5"`
	NoPrice    decimal.Decimal `gorm:"type:numeric(20,10);not null;default:0.5"`

	Volume         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TotalLiquidity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	TotalLPShares  decimal.Decimal `gorm:"column:total_lp_shares;type:numeric(30,10);not null;default:0"`

	// LMSR liquidity parameter, fixed at creation for multi-option markets.
	LMSRB decimal.Decimal `gorm:"column:lmsr_b;type:numeric(20,10);not null;default:0"`

	EndTime   time.Time `gorm:"type:timestamptz;not null;index"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Market) TableName() string {
	return "markets"
}

// IsBinarySide reports whether s is one of the two binary sides.
func IsBinarySide(s string) bool {
	return s == SideYes || s == SideNo
}
