package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"flippredict/internal/models"
)

type ListMarketsParams struct {
	Limit    int
	Offset   int
	Status   *string
	Category *string
	OrderBy  string
	Asc      *bool
}

type ListTradeOrdersParams struct {
	Limit       int
	Offset      int
	UserAddress *string
	MarketID    *string
}

// Repository is the storage surface of the trading and settlement core.
//
// Methods suffixed Tx run inside a caller-owned transaction; the ForUpdate
// variants take row locks. The global lock order is balance before market —
// every code path that locks both must acquire them in that order.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	// SavepointTx and RollbackToSavepointTx bound per-item work inside a
	// batch transaction so one failed item can be rolled back alone.
	SavepointTx(ctx context.Context, tx *gorm.DB, name string) error
	RollbackToSavepointTx(ctx context.Context, tx *gorm.DB, name string) error

	// Markets.
	CreateMarketTx(ctx context.Context, tx *gorm.DB, item *models.Market) error
	GetMarketByID(ctx context.Context, id string) (*models.Market, error)
	ListMarkets(ctx context.Context, params ListMarketsParams) ([]models.Market, error)
	CountMarkets(ctx context.Context, params ListMarketsParams) (int64, error)
	ListExpiredActiveMarkets(ctx context.Context, now time.Time, limit int) ([]models.Market, error)
	// LockExpiredActiveMarketsTx re-selects expired active markets with
	// FOR UPDATE SKIP LOCKED: concurrent keeper instances each claim
	// distinct rows and never block on one another.
	LockExpiredActiveMarketsTx(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]models.Market, error)
	GetMarketForUpdateTx(ctx context.Context, tx *gorm.DB, id string) (*models.Market, error)
	SaveMarketTx(ctx context.Context, tx *gorm.DB, item *models.Market) error

	// Multi-option legs.
	CreateMarketOptionsTx(ctx context.Context, tx *gorm.DB, items []models.MarketOption) error
	ListMarketOptions(ctx context.Context, marketID string) ([]models.MarketOption, error)
	ListMarketOptionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.MarketOption, error)
	SaveMarketOptionTx(ctx context.Context, tx *gorm.DB, item *models.MarketOption) error

	// Resolutions.
	GetResolutionByMarketID(ctx context.Context, marketID string) (*models.MarketResolution, error)
	GetResolutionByMarketIDTx(ctx context.Context, tx *gorm.DB, marketID string) (*models.MarketResolution, error)
	// UpsertResolutionTx inserts or updates the 1:1 resolution row but never
	// overwrites an already-set outcome: resolving twice yields the same
	// outcome.
	UpsertResolutionTx(ctx context.Context, tx *gorm.DB, item *models.MarketResolution) error

	// Balances.
	GetBalance(ctx context.Context, userAddress string) (*models.Balance, error)
	GetBalanceForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress string) (*models.Balance, error)
	SaveBalanceTx(ctx context.Context, tx *gorm.DB, item *models.Balance) error
	// CreditBalanceTx upserts the row and adds amount to available, holding
	// the row FOR UPDATE for the rest of the transaction.
	CreditBalanceTx(ctx context.Context, tx *gorm.DB, userAddress string, amount decimal.Decimal) error

	// Positions.
	GetPositionForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress, marketID, side string) (*models.Position, error)
	SavePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error
	DeletePositionTx(ctx context.Context, tx *gorm.DB, id uint64) error
	ListPositionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.Position, error)
	DeletePositionsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) error
	ListPositionsByUser(ctx context.Context, userAddress string) ([]models.Position, error)
	ListPositionsByMarket(ctx context.Context, marketID string) ([]models.Position, error)

	// LP positions.
	GetLPPositionForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress, marketID string) (*models.LPPosition, error)
	SaveLPPositionTx(ctx context.Context, tx *gorm.DB, item *models.LPPosition) error
	DeleteLPPositionTx(ctx context.Context, tx *gorm.DB, id uint64) error
	ListLPPositionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.LPPosition, error)
	DeleteLPPositionsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) error

	// Limit order book persistence.
	InsertOpenOrder(ctx context.Context, item *models.OpenOrder) error
	GetOpenOrderByID(ctx context.Context, id uint64) (*models.OpenOrder, error)
	GetOpenOrderForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.OpenOrder, error)
	UpdateOpenOrderFillTx(ctx context.Context, tx *gorm.DB, id uint64, remaining decimal.Decimal, status string) error
	UpdateOpenOrderStatus(ctx context.Context, id uint64, status string) error
	ListOpenOrdersByMarket(ctx context.Context, marketID string, status string) ([]models.OpenOrder, error)
	ListOpenOrdersByStatus(ctx context.Context, status string) ([]models.OpenOrder, error)
	// ExpireOpenOrdersByMarket flips every still-open order of a market to
	// expired; called right after the market resolves.
	ExpireOpenOrdersByMarket(ctx context.Context, marketID string) (int64, error)
	ExpireOpenOrdersForResolvedMarkets(ctx context.Context) (int64, error)

	// Trade receipts.
	InsertTradeOrderTx(ctx context.Context, tx *gorm.DB, item *models.TradeOrder) error
	ListTradeOrders(ctx context.Context, params ListTradeOrdersParams) ([]models.TradeOrder, error)

	// Settlement audit log (append-only).
	InsertSettlementLogTx(ctx context.Context, tx *gorm.DB, item *models.SettlementLog) error
	ListSettlementLogs(ctx context.Context, marketID string) ([]models.SettlementLog, error)
	ListSettlementLogsByUser(ctx context.Context, userAddress string) ([]models.SettlementLog, error)

	// Price history.
	InsertPricePoint(ctx context.Context, item *models.PricePoint) error
	InsertPricePointTx(ctx context.Context, tx *gorm.DB, item *models.PricePoint) error
	ListPricePoints(ctx context.Context, marketID string, limit int) ([]models.PricePoint, error)
}
