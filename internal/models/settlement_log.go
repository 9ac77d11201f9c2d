package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	SettlementActionLPSettle     = "lp_settle"
	SettlementActionSettleWinner = "settle_winner"
	SettlementActionSettleLoser  = "settle_loser"
)

// SettlementLog is the append-only audit trail of every balance-affecting
// settlement action. Rows are only inserted, never mutated; after positions
// are deleted this is the authoritative source for win-rate aggregation.
type SettlementLog struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID    string `gorm:"type:text;not null;index"`
	Action      string `gorm:"type:varchar(20);not null;index"`
	UserAddress string `gorm:"type:varchar(100);not null;index"`

	Amount  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Details datatypes.JSON  `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (SettlementLog) TableName() string {
	return "settlement_logs"
}
