package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flippredict/internal/models"
	"flippredict/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) SavepointTx(ctx context.Context, tx *gorm.DB, name string) error {
	if tx == nil {
		return nil
	}
	return tx.WithContext(ctx).SavePoint(name).Error
}

func (s *Store) RollbackToSavepointTx(ctx context.Context, tx *gorm.DB, name string) error {
	if tx == nil {
		return nil
	}
	return tx.WithContext(ctx).RollbackTo(name).Error
}

// --- markets ----------------------------------------------------------------

func (s *Store) CreateMarketTx(ctx context.Context, tx *gorm.DB, item *models.Market) error {
	if tx == nil || item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) GetMarketByID(ctx context.Context, id string) (*models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Market
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListMarkets(ctx context.Context, params repository.ListMarketsParams) ([]models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.marketQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Market
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountMarkets(ctx context.Context, params repository.ListMarketsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.marketQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) marketQuery(ctx context.Context, params repository.ListMarketsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Market{})
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.Category != nil && strings.TrimSpace(*params.Category) != "" {
		query = query.Where("category = ?", strings.TrimSpace(*params.Category))
	}
	return query
}

func (s *Store) ListExpiredActiveMarkets(ctx context.Context, now time.Time, limit int) ([]models.Market, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Market
	err := s.db.WithContext(ctx).
		Where("status = ?", models.MarketStatusActive).
		Where("end_time <= ?", now).
		Order("end_time asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) LockExpiredActiveMarketsTx(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]models.Market, error) {
	var items []models.Market
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.MarketStatusActive).
		Where("end_time <= ?", now).
		Order("end_time asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetMarketForUpdateTx(ctx context.Context, tx *gorm.DB, id string) (*models.Market, error) {
	var item models.Market
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveMarketTx(ctx context.Context, tx *gorm.DB, item *models.Market) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Save(item).Error
}

// --- market options ---------------------------------------------------------

func (s *Store) CreateMarketOptionsTx(ctx context.Context, tx *gorm.DB, items []models.MarketOption) error {
	if tx == nil || len(items) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&items).Error
}

func (s *Store) ListMarketOptions(ctx context.Context, marketID string) ([]models.MarketOption, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.MarketOption
	err := s.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListMarketOptionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.MarketOption, error) {
	var items []models.MarketOption
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("market_id = ?", marketID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SaveMarketOptionTx(ctx context.Context, tx *gorm.DB, item *models.MarketOption) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Save(item).Error
}

// --- resolutions ------------------------------------------------------------

func (s *Store) GetResolutionByMarketID(ctx context.Context, marketID string) (*models.MarketResolution, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return getResolution(s.db.WithContext(ctx), marketID)
}

func (s *Store) GetResolutionByMarketIDTx(ctx context.Context, tx *gorm.DB, marketID string) (*models.MarketResolution, error) {
	return getResolution(tx.WithContext(ctx), marketID)
}

func getResolution(db *gorm.DB, marketID string) (*models.MarketResolution, error) {
	var item models.MarketResolution
	err := db.Where("market_id = ?", marketID).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertResolutionTx(ctx context.Context, tx *gorm.DB, item *models.MarketResolution) error {
	if item == nil {
		return nil
	}
	existing, err := getResolution(tx.WithContext(ctx), item.MarketID)
	if err != nil {
		return err
	}
	if existing == nil {
		return tx.WithContext(ctx).Create(item).Error
	}
	// An already-set outcome is immutable: re-running a resolution keeps
	// the first result.
	if strings.TrimSpace(existing.Outcome) != "" {
		item.ID = existing.ID
		item.Outcome = existing.Outcome
		item.ResolvedPrice = existing.ResolvedPrice
		item.ResolvedAt = existing.ResolvedAt
		item.ResolvedBy = existing.ResolvedBy
		item.Details = existing.Details
		item.CreatedAt = existing.CreatedAt
		return nil
	}
	item.ID = existing.ID
	item.CreatedAt = existing.CreatedAt
	return tx.WithContext(ctx).Save(item).Error
}

// --- balances ---------------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, userAddress string) (*models.Balance, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Balance
	err := s.db.WithContext(ctx).Where("user_address = ?", userAddress).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetBalanceForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress string) (*models.Balance, error) {
	var item models.Balance
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_address = ?", userAddress).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveBalanceTx(ctx context.Context, tx *gorm.DB, item *models.Balance) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Save(item).Error
}

func (s *Store) CreditBalanceTx(ctx context.Context, tx *gorm.DB, userAddress string, amount decimal.Decimal) error {
	balance, err := s.GetBalanceForUpdateTx(ctx, tx, userAddress)
	if err != nil {
		return err
	}
	if balance == nil {
		return tx.WithContext(ctx).Create(&models.Balance{
			UserAddress: userAddress,
			Available:   amount,
			Locked:      decimal.Zero,
		}).Error
	}
	balance.Available = balance.Available.Add(amount)
	return tx.WithContext(ctx).Save(balance).Error
}

// --- positions --------------------------------------------------------------

func (s *Store) GetPositionForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress, marketID, side string) (*models.Position, error) {
	var item models.Position
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_address = ? AND market_id = ? AND side = ?", userAddress, marketID, side).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SavePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Save(item).Error
}

func (s *Store) DeletePositionTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	return tx.WithContext(ctx).Delete(&models.Position{}, id).Error
}

func (s *Store) ListPositionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.Position, error) {
	var items []models.Position
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("market_id = ?", marketID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeletePositionsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) error {
	return tx.WithContext(ctx).Where("market_id = ?", marketID).Delete(&models.Position{}).Error
}

func (s *Store) ListPositionsByUser(ctx context.Context, userAddress string) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	err := s.db.WithContext(ctx).
		Where("user_address = ?", userAddress).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListPositionsByMarket(ctx context.Context, marketID string) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Position
	err := s.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- LP positions -----------------------------------------------------------

func (s *Store) GetLPPositionForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress, marketID string) (*models.LPPosition, error) {
	var item models.LPPosition
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_address = ? AND market_id = ?", userAddress, marketID).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveLPPositionTx(ctx context.Context, tx *gorm.DB, item *models.LPPosition) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Save(item).Error
}

func (s *Store) DeleteLPPositionTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	return tx.WithContext(ctx).Delete(&models.LPPosition{}, id).Error
}

func (s *Store) ListLPPositionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.LPPosition, error) {
	var items []models.LPPosition
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("market_id = ?", marketID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteLPPositionsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) error {
	return tx.WithContext(ctx).Where("market_id = ?", marketID).Delete(&models.LPPosition{}).Error
}

// --- open orders ------------------------------------------------------------

func (s *Store) InsertOpenOrder(ctx context.Context, item *models.OpenOrder) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetOpenOrderByID(ctx context.Context, id uint64) (*models.OpenOrder, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.OpenOrder
	err := s.db.WithContext(ctx).First(&item, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOpenOrderForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.OpenOrder, error) {
	if tx == nil {
		return nil, nil
	}
	var item models.OpenOrder
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateOpenOrderFillTx(ctx context.Context, tx *gorm.DB, id uint64, remaining decimal.Decimal, status string) error {
	if tx == nil {
		return nil
	}
	return tx.WithContext(ctx).
		Model(&models.OpenOrder{}).
		Where("id = ?", id).
		Updates(map[string]any{"remaining": remaining, "status": status}).Error
}

func (s *Store) UpdateOpenOrderStatus(ctx context.Context, id uint64, status string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.OpenOrder{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (s *Store) ListOpenOrdersByMarket(ctx context.Context, marketID string, status string) ([]models.OpenOrder, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Where("market_id = ?", marketID)
	if strings.TrimSpace(status) != "" {
		query = query.Where("status = ?", status)
	}
	var items []models.OpenOrder
	if err := query.Order("created_at asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOpenOrdersByStatus(ctx context.Context, status string) ([]models.OpenOrder, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.OpenOrder
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ExpireOpenOrdersByMarket(ctx context.Context, marketID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.OpenOrder{}).
		Where("market_id = ?", marketID).
		Where("status = ?", models.OrderStatusOpen).
		Update("status", models.OrderStatusExpired)
	return res.RowsAffected, res.Error
}

func (s *Store) ExpireOpenOrdersForResolvedMarkets(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.OpenOrder{}).
		Where("status = ?", models.OrderStatusOpen).
		Where("market_id IN (?)", s.db.Model(&models.Market{}).
			Select("id").
			Where("status IN ?", []string{
				models.MarketStatusResolved,
				models.MarketStatusSettling,
				models.MarketStatusSettled,
			})).
		Update("status", models.OrderStatusExpired)
	return res.RowsAffected, res.Error
}

// --- trade receipts ---------------------------------------------------------

func (s *Store) InsertTradeOrderTx(ctx context.Context, tx *gorm.DB, item *models.TradeOrder) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) ListTradeOrders(ctx context.Context, params repository.ListTradeOrdersParams) ([]models.TradeOrder, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.TradeOrder{})
	if params.UserAddress != nil && strings.TrimSpace(*params.UserAddress) != "" {
		query = query.Where("user_address = ?", strings.TrimSpace(*params.UserAddress))
	}
	if params.MarketID != nil && strings.TrimSpace(*params.MarketID) != "" {
		query = query.Where("market_id = ?", strings.TrimSpace(*params.MarketID))
	}
	var items []models.TradeOrder
	err := query.Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 100)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- settlement logs --------------------------------------------------------

func (s *Store) InsertSettlementLogTx(ctx context.Context, tx *gorm.DB, item *models.SettlementLog) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) ListSettlementLogs(ctx context.Context, marketID string) ([]models.SettlementLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SettlementLog
	err := s.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListSettlementLogsByUser(ctx context.Context, userAddress string) ([]models.SettlementLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SettlementLog
	err := s.db.WithContext(ctx).
		Where("user_address = ?", userAddress).
		Order("id asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- price history ----------------------------------------------------------

func (s *Store) InsertPricePoint(ctx context.Context, item *models.PricePoint) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) InsertPricePointTx(ctx context.Context, tx *gorm.DB, item *models.PricePoint) error {
	if item == nil {
		return nil
	}
	return tx.WithContext(ctx).Create(item).Error
}

func (s *Store) ListPricePoints(ctx context.Context, marketID string, limit int) ([]models.PricePoint, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.PricePoint
	err := s.db.WithContext(ctx).
		Where("market_id = ?", marketID).
		Order("created_at desc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	col := strings.TrimSpace(orderBy)
	if col == "" {
		col = fallback
	}
	dir := "desc"
	if asc != nil && *asc {
		dir = "asc"
	}
	return query.Order(col + " " + dir)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 || limit > 1000 {
		return fallback
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
