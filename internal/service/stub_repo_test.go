package service

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"flippredict/internal/models"
	"flippredict/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Savepoints snapshot the whole state, so batch rollback behavior can be
// exercised without a database.
type stubState struct {
	markets     map[string]models.Market
	options     map[string][]models.MarketOption
	resolutions map[string]models.MarketResolution
	balances    map[string]models.Balance
	positions   map[uint64]models.Position
	lps         map[uint64]models.LPPosition
	orders      map[uint64]models.OpenOrder
	trades      []models.TradeOrder
	logs        []models.SettlementLog
	points      []models.PricePoint
}

func (st stubState) clone() stubState {
	return stubState{
		markets:     maps.Clone(st.markets),
		options:     maps.Clone(st.options),
		resolutions: maps.Clone(st.resolutions),
		balances:    maps.Clone(st.balances),
		positions:   maps.Clone(st.positions),
		lps:         maps.Clone(st.lps),
		orders:      maps.Clone(st.orders),
		trades:      slices.Clone(st.trades),
		logs:        slices.Clone(st.logs),
		points:      slices.Clone(st.points),
	}
}

type stubRepo struct {
	st     stubState
	saved  map[string]stubState
	nextID uint64

	// hiddenFromList keeps a market out of ListExpiredActiveMarkets while
	// LockExpiredActiveMarketsTx still claims it, simulating a market that
	// expired between the prefetch pass and the lock.
	hiddenFromList map[string]bool
	// failLogInsertFor injects a settlement log insert failure for one
	// market, so per-market rollback isolation can be observed.
	failLogInsertFor map[string]error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		st: stubState{
			markets:     map[string]models.Market{},
			options:     map[string][]models.MarketOption{},
			resolutions: map[string]models.MarketResolution{},
			balances:    map[string]models.Balance{},
			positions:   map[uint64]models.Position{},
			lps:         map[uint64]models.LPPosition{},
			orders:      map[uint64]models.OpenOrder{},
		},
		saved:            map[string]stubState{},
		hiddenFromList:   map[string]bool{},
		failLogInsertFor: map[string]error{},
	}
}

func (s *stubRepo) id() uint64 {
	s.nextID++
	return s.nextID
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	snapshot := s.st.clone()
	if err := fn(nil); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

func (s *stubRepo) SavepointTx(ctx context.Context, tx *gorm.DB, name string) error {
	s.saved[name] = s.st.clone()
	return nil
}

func (s *stubRepo) RollbackToSavepointTx(ctx context.Context, tx *gorm.DB, name string) error {
	if st, ok := s.saved[name]; ok {
		s.st = st
	}
	return nil
}

// --- markets ---

func (s *stubRepo) CreateMarketTx(ctx context.Context, tx *gorm.DB, item *models.Market) error {
	s.st.markets[item.ID] = *item
	return nil
}

func (s *stubRepo) GetMarketByID(ctx context.Context, id string) (*models.Market, error) {
	if m, ok := s.st.markets[id]; ok {
		return &m, nil
	}
	return nil, nil
}

func (s *stubRepo) ListMarkets(ctx context.Context, params repository.ListMarketsParams) ([]models.Market, error) {
	var out []models.Market
	for _, m := range s.st.markets {
		if params.Status != nil && m.Status != *params.Status {
			continue
		}
		if params.Category != nil && m.Category != *params.Category {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}
	return out, nil
}

func (s *stubRepo) CountMarkets(ctx context.Context, params repository.ListMarketsParams) (int64, error) {
	items, _ := s.ListMarkets(ctx, repository.ListMarketsParams{Status: params.Status, Category: params.Category})
	return int64(len(items)), nil
}

func (s *stubRepo) expiredActive(now time.Time, limit int, includeHidden bool) []models.Market {
	var out []models.Market
	for _, m := range s.st.markets {
		if m.Status != models.MarketStatusActive || m.EndTime.After(now) {
			continue
		}
		if !includeHidden && s.hiddenFromList[m.ID] {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *stubRepo) ListExpiredActiveMarkets(ctx context.Context, now time.Time, limit int) ([]models.Market, error) {
	return s.expiredActive(now, limit, false), nil
}

func (s *stubRepo) LockExpiredActiveMarketsTx(ctx context.Context, tx *gorm.DB, now time.Time, limit int) ([]models.Market, error) {
	return s.expiredActive(now, limit, true), nil
}

func (s *stubRepo) GetMarketForUpdateTx(ctx context.Context, tx *gorm.DB, id string) (*models.Market, error) {
	return s.GetMarketByID(ctx, id)
}

func (s *stubRepo) SaveMarketTx(ctx context.Context, tx *gorm.DB, item *models.Market) error {
	s.st.markets[item.ID] = *item
	return nil
}

// --- multi-option legs ---

func (s *stubRepo) CreateMarketOptionsTx(ctx context.Context, tx *gorm.DB, items []models.MarketOption) error {
	for _, o := range items {
		o.ID = s.id()
		s.st.options[o.MarketID] = append(slices.Clone(s.st.options[o.MarketID]), o)
	}
	return nil
}

func (s *stubRepo) ListMarketOptions(ctx context.Context, marketID string) ([]models.MarketOption, error) {
	return slices.Clone(s.st.options[marketID]), nil
}

func (s *stubRepo) ListMarketOptionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.MarketOption, error) {
	return s.ListMarketOptions(ctx, marketID)
}

func (s *stubRepo) SaveMarketOptionTx(ctx context.Context, tx *gorm.DB, item *models.MarketOption) error {
	options := slices.Clone(s.st.options[item.MarketID])
	for i := range options {
		if options[i].OptionKey == item.OptionKey {
			options[i] = *item
		}
	}
	s.st.options[item.MarketID] = options
	return nil
}

// --- resolutions ---

func (s *stubRepo) GetResolutionByMarketID(ctx context.Context, marketID string) (*models.MarketResolution, error) {
	if r, ok := s.st.resolutions[marketID]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *stubRepo) GetResolutionByMarketIDTx(ctx context.Context, tx *gorm.DB, marketID string) (*models.MarketResolution, error) {
	return s.GetResolutionByMarketID(ctx, marketID)
}

func (s *stubRepo) UpsertResolutionTx(ctx context.Context, tx *gorm.DB, item *models.MarketResolution) error {
	existing, ok := s.st.resolutions[item.MarketID]
	if ok && existing.Outcome != "" {
		item.Outcome = existing.Outcome
		item.ResolvedPrice = existing.ResolvedPrice
		item.ResolvedAt = existing.ResolvedAt
		item.ResolvedBy = existing.ResolvedBy
		item.Details = existing.Details
		return nil
	}
	s.st.resolutions[item.MarketID] = *item
	return nil
}

// --- balances ---

func (s *stubRepo) GetBalance(ctx context.Context, userAddress string) (*models.Balance, error) {
	if b, ok := s.st.balances[userAddress]; ok {
		return &b, nil
	}
	return nil, nil
}

func (s *stubRepo) GetBalanceForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress string) (*models.Balance, error) {
	return s.GetBalance(ctx, userAddress)
}

func (s *stubRepo) SaveBalanceTx(ctx context.Context, tx *gorm.DB, item *models.Balance) error {
	s.st.balances[item.UserAddress] = *item
	return nil
}

func (s *stubRepo) CreditBalanceTx(ctx context.Context, tx *gorm.DB, userAddress string, amount decimal.Decimal) error {
	b := s.st.balances[userAddress]
	b.UserAddress = userAddress
	b.Available = b.Available.Add(amount)
	s.st.balances[userAddress] = b
	return nil
}

// --- positions ---

func (s *stubRepo) GetPositionForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress, marketID, side string) (*models.Position, error) {
	for _, p := range s.st.positions {
		if p.UserAddress == userAddress && p.MarketID == marketID && p.Side == side {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) SavePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.st.positions[item.ID] = *item
	return nil
}

func (s *stubRepo) DeletePositionTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	delete(s.st.positions, id)
	return nil
}

func (s *stubRepo) ListPositionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.Position, error) {
	return s.ListPositionsByMarket(ctx, marketID)
}

func (s *stubRepo) DeletePositionsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) error {
	for id, p := range s.st.positions {
		if p.MarketID == marketID {
			delete(s.st.positions, id)
		}
	}
	return nil
}

func (s *stubRepo) ListPositionsByUser(ctx context.Context, userAddress string) ([]models.Position, error) {
	var out []models.Position
	for _, p := range s.st.positions {
		if p.UserAddress == userAddress {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) ListPositionsByMarket(ctx context.Context, marketID string) ([]models.Position, error) {
	var out []models.Position
	for _, p := range s.st.positions {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- LP positions ---

func (s *stubRepo) GetLPPositionForUpdateTx(ctx context.Context, tx *gorm.DB, userAddress, marketID string) (*models.LPPosition, error) {
	for _, lp := range s.st.lps {
		if lp.UserAddress == userAddress && lp.MarketID == marketID {
			return &lp, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) SaveLPPositionTx(ctx context.Context, tx *gorm.DB, item *models.LPPosition) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	s.st.lps[item.ID] = *item
	return nil
}

func (s *stubRepo) DeleteLPPositionTx(ctx context.Context, tx *gorm.DB, id uint64) error {
	delete(s.st.lps, id)
	return nil
}

func (s *stubRepo) ListLPPositionsForUpdateTx(ctx context.Context, tx *gorm.DB, marketID string) ([]models.LPPosition, error) {
	var out []models.LPPosition
	for _, lp := range s.st.lps {
		if lp.MarketID == marketID {
			out = append(out, lp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) DeleteLPPositionsByMarketTx(ctx context.Context, tx *gorm.DB, marketID string) error {
	for id, lp := range s.st.lps {
		if lp.MarketID == marketID {
			delete(s.st.lps, id)
		}
	}
	return nil
}

// --- open orders ---

func (s *stubRepo) InsertOpenOrder(ctx context.Context, item *models.OpenOrder) error {
	if item.ID == 0 {
		item.ID = s.id()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.st.orders[item.ID] = *item
	return nil
}

func (s *stubRepo) GetOpenOrderByID(ctx context.Context, id uint64) (*models.OpenOrder, error) {
	if o, ok := s.st.orders[id]; ok {
		return &o, nil
	}
	return nil, nil
}

func (s *stubRepo) GetOpenOrderForUpdateTx(ctx context.Context, tx *gorm.DB, id uint64) (*models.OpenOrder, error) {
	return s.GetOpenOrderByID(ctx, id)
}

func (s *stubRepo) UpdateOpenOrderFillTx(ctx context.Context, tx *gorm.DB, id uint64, remaining decimal.Decimal, status string) error {
	if o, ok := s.st.orders[id]; ok {
		o.Remaining = remaining
		o.Status = status
		s.st.orders[id] = o
	}
	return nil
}

func (s *stubRepo) UpdateOpenOrderStatus(ctx context.Context, id uint64, status string) error {
	if o, ok := s.st.orders[id]; ok {
		o.Status = status
		s.st.orders[id] = o
	}
	return nil
}

func (s *stubRepo) ListOpenOrdersByMarket(ctx context.Context, marketID string, status string) ([]models.OpenOrder, error) {
	var out []models.OpenOrder
	for _, o := range s.st.orders {
		if o.MarketID == marketID && (status == "" || o.Status == status) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) ListOpenOrdersByStatus(ctx context.Context, status string) ([]models.OpenOrder, error) {
	var out []models.OpenOrder
	for _, o := range s.st.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) ExpireOpenOrdersByMarket(ctx context.Context, marketID string) (int64, error) {
	var n int64
	for id, o := range s.st.orders {
		if o.MarketID == marketID && o.Status == models.OrderStatusOpen {
			o.Status = models.OrderStatusExpired
			s.st.orders[id] = o
			n++
		}
	}
	return n, nil
}

func (s *stubRepo) ExpireOpenOrdersForResolvedMarkets(ctx context.Context) (int64, error) {
	var n int64
	for id, o := range s.st.orders {
		m, ok := s.st.markets[o.MarketID]
		if !ok || o.Status != models.OrderStatusOpen {
			continue
		}
		switch m.Status {
		case models.MarketStatusResolved, models.MarketStatusSettled:
			o.Status = models.OrderStatusExpired
			s.st.orders[id] = o
			n++
		}
	}
	return n, nil
}

// --- trade receipts ---

func (s *stubRepo) InsertTradeOrderTx(ctx context.Context, tx *gorm.DB, item *models.TradeOrder) error {
	s.st.trades = append(s.st.trades, *item)
	return nil
}

func (s *stubRepo) ListTradeOrders(ctx context.Context, params repository.ListTradeOrdersParams) ([]models.TradeOrder, error) {
	var out []models.TradeOrder
	for _, tr := range s.st.trades {
		if params.UserAddress != nil && tr.UserAddress != *params.UserAddress {
			continue
		}
		if params.MarketID != nil && tr.MarketID != *params.MarketID {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

// --- settlement logs ---

func (s *stubRepo) InsertSettlementLogTx(ctx context.Context, tx *gorm.DB, item *models.SettlementLog) error {
	if err := s.failLogInsertFor[item.MarketID]; err != nil {
		return err
	}
	item.ID = s.id()
	s.st.logs = append(s.st.logs, *item)
	return nil
}

func (s *stubRepo) ListSettlementLogs(ctx context.Context, marketID string) ([]models.SettlementLog, error) {
	var out []models.SettlementLog
	for _, l := range s.st.logs {
		if l.MarketID == marketID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *stubRepo) ListSettlementLogsByUser(ctx context.Context, userAddress string) ([]models.SettlementLog, error) {
	var out []models.SettlementLog
	for _, l := range s.st.logs {
		if l.UserAddress == userAddress {
			out = append(out, l)
		}
	}
	return out, nil
}

// --- price history ---

func (s *stubRepo) InsertPricePoint(ctx context.Context, item *models.PricePoint) error {
	item.ID = s.id()
	s.st.points = append(s.st.points, *item)
	return nil
}

func (s *stubRepo) InsertPricePointTx(ctx context.Context, tx *gorm.DB, item *models.PricePoint) error {
	return s.InsertPricePoint(ctx, item)
}

func (s *stubRepo) ListPricePoints(ctx context.Context, marketID string, limit int) ([]models.PricePoint, error) {
	var out []models.PricePoint
	for _, p := range s.st.points {
		if p.MarketID == marketID {
			out = append(out, p)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
