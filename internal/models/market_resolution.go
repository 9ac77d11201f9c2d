package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	ResolutionTypeManual     = "manual"
	ResolutionTypePriceAbove = "price_above"
	ResolutionTypePriceBelow = "price_below"
)

// MarketResolution is 1:1 with Market. Once Outcome is set it is immutable;
// the repository upsert preserves an existing outcome so re-running a
// resolution yields the same result.
type MarketResolution struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID string `gorm:"type:text;not null;uniqueIndex"`

	ResolutionType string           `gorm:"type:varchar(20);not null;default:'manual'"`
	OraclePair     string           `gorm:"type:varchar(50)"`
	TokenAddress   string           `gorm:"type:varchar(100)"`
	TargetPrice    *decimal.Decimal `gorm:"type:numeric(30,10)"`

	Outcome       string           `gorm:"type:varchar(100);index"`
	ResolvedPrice *decimal.Decimal `gorm:"type:numeric(30,10)"`
	ResolvedAt    *time.Time       `gorm:"type:timestamptz"`
	ResolvedBy    string           `gorm:"type:varchar(100)"`
	Details       datatypes.JSON   `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (MarketResolution) TableName() string {
	return "market_resolutions"
}
