package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"flippredict/internal/engine/orderbook"
	"flippredict/internal/metrics"
	"flippredict/internal/models"
	"flippredict/internal/repository"
)

// OrderBookService places, matches and cancels limit orders. The in-memory
// books are the matching venue; the open_orders table is the durable state
// the books are rebuilt from at startup.
//
// Funds are not escrowed at placement, only validated; each fill settles
// buyer and seller atomically in one transaction, with the two balance rows
// locked in address order so concurrent fills cannot deadlock.
type OrderBookService struct {
	Repo   repository.Repository
	Books  *orderbook.Manager
	Logger *zap.Logger
}

// PlaceLimitResult reports the immediate outcome of a limit order.
type PlaceLimitResult struct {
	Order models.OpenOrder `json:"order"`
	Fills []orderbook.Fill `json:"fills"`
}

var one = decimal.NewFromInt(1)

// PlaceLimit validates, matches and (if not fully filled) rests a limit
// order. Marketable parts execute immediately against the best resting
// orders at their prices.
func (s *OrderBookService) PlaceLimit(ctx context.Context, userAddress, marketID, side, kind string, price, size decimal.Decimal) (*PlaceLimitResult, error) {
	userAddress = strings.TrimSpace(userAddress)
	if !models.IsBinarySide(side) {
		return nil, ErrInvalidSide
	}
	if kind != orderbook.KindBuy && kind != orderbook.KindSell {
		return nil, ErrInvalidSide
	}
	if !price.IsPositive() || price.GreaterThanOrEqual(one) {
		return nil, ErrInvalidPrice
	}
	if !size.IsPositive() {
		return nil, ErrInvalidAmount
	}

	market, err := s.Repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	if market.Status != models.MarketStatusActive {
		return nil, ErrMarketNotActive
	}
	if market.MarketType != models.MarketTypeBinary {
		return nil, ErrMarketNotBinary
	}

	if kind == orderbook.KindBuy {
		balance, err := s.Repo.GetBalance(ctx, userAddress)
		if err != nil {
			return nil, err
		}
		if balance == nil || balance.Available.LessThan(price.Mul(size)) {
			return nil, ErrInsufficientBalance
		}
	} else {
		positions, err := s.Repo.ListPositionsByUser(ctx, userAddress)
		if err != nil {
			return nil, err
		}
		var held decimal.Decimal
		for _, p := range positions {
			if p.MarketID == marketID && p.Side == side {
				held = p.Shares
				break
			}
		}
		if held.LessThan(size) {
			return nil, ErrInsufficientShares
		}
	}

	order := &models.OpenOrder{
		MarketID:    marketID,
		UserAddress: userAddress,
		Side:        side,
		Kind:        kind,
		Price:       price,
		Size:        size,
		Remaining:   size,
		Status:      models.OrderStatusOpen,
	}
	if err := s.Repo.InsertOpenOrder(ctx, order); err != nil {
		return nil, err
	}

	fills, taker := s.Books.Match(*order)
	takerRemaining := order.Size
	for i, f := range fills {
		takerRemaining = takerRemaining.Sub(f.Size)
		if err := s.settleFill(ctx, taker, f, takerRemaining); err != nil {
			// Fills settled so far stand; put the unsettled makers back on
			// the book and void the rest of the taker so a restart cannot
			// re-execute it at full size.
			s.unwindFills(ctx, taker, fills[i:])
			if s.Logger != nil {
				s.Logger.Error("fill settlement failed",
					zap.Uint64("taker_order_id", taker.ID),
					zap.Uint64("maker_order_id", f.MakerOrderID),
					zap.Error(err))
			}
			return nil, err
		}
		metrics.TradesExecuted.WithLabelValues("limit_fill").Inc()
	}
	return &PlaceLimitResult{Order: taker, Fills: fills}, nil
}

// unwindFills reverses the in-memory consequences of unsettled fills after
// a settlement failure. Each maker's durable row is untouched by the rolled
// back transaction, so it is re-rested from there; the taker is cancelled
// at its durable remaining, which reflects only the committed fills.
func (s *OrderBookService) unwindFills(ctx context.Context, taker models.OpenOrder, unsettled []orderbook.Fill) {
	for _, f := range unsettled {
		maker, err := s.Repo.GetOpenOrderByID(ctx, f.MakerOrderID)
		if err != nil || maker == nil {
			if s.Logger != nil {
				s.Logger.Error("maker restore failed",
					zap.Uint64("maker_order_id", f.MakerOrderID), zap.Error(err))
			}
			continue
		}
		if maker.Status == models.OrderStatusOpen && maker.Remaining.IsPositive() {
			s.Books.Add(*maker)
		}
	}
	s.Books.Cancel(taker.MarketID, taker.Side, taker.ID)
	if err := s.Repo.UpdateOpenOrderStatus(ctx, taker.ID, models.OrderStatusCancelled); err != nil && s.Logger != nil {
		s.Logger.Error("taker cancel failed",
			zap.Uint64("taker_order_id", taker.ID), zap.Error(err))
	}
}

// settleFill moves money and shares between taker and maker for one fill
// and updates both durable order rows, all in one transaction. The two
// order rows are locked in id order so concurrent fills cannot deadlock.
func (s *OrderBookService) settleFill(ctx context.Context, taker models.OpenOrder, fill orderbook.Fill, takerRemaining decimal.Decimal) error {
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		orderRows := map[uint64]*models.OpenOrder{}
		for _, id := range sortedOrderIDs(taker.ID, fill.MakerOrderID) {
			row, err := s.Repo.GetOpenOrderForUpdateTx(ctx, tx, id)
			if err != nil {
				return err
			}
			if row == nil {
				return ErrOrderNotFound
			}
			orderRows[id] = row
		}
		maker := orderRows[fill.MakerOrderID]
		if maker.Status != models.OrderStatusOpen || maker.Remaining.LessThan(fill.Size) {
			return ErrOrderNotFound
		}

		buyer, seller := taker.UserAddress, maker.UserAddress
		if taker.Kind == orderbook.KindSell {
			buyer, seller = maker.UserAddress, taker.UserAddress
		}
		cost := fill.Price.Mul(fill.Size)

		// Balance rows locked in address order so two concurrent fills
		// between the same parties cannot deadlock.
		balances := map[string]*models.Balance{}
		for _, addr := range sortedAddresses(buyer, seller) {
			b, err := s.Repo.GetBalanceForUpdateTx(ctx, tx, addr)
			if err != nil {
				return err
			}
			if b == nil {
				b = &models.Balance{UserAddress: addr, Available: decimal.Zero, Locked: decimal.Zero}
			}
			balances[addr] = b
		}
		buyerBal := balances[buyer]
		if buyerBal.Available.LessThan(cost) {
			return ErrInsufficientBalance
		}
		buyerBal.Available = buyerBal.Available.Sub(cost)
		if err := s.Repo.SaveBalanceTx(ctx, tx, buyerBal); err != nil {
			return err
		}
		sellerBal := balances[seller]
		sellerBal.Available = sellerBal.Available.Add(cost)
		if err := s.Repo.SaveBalanceTx(ctx, tx, sellerBal); err != nil {
			return err
		}

		sellerPos, err := s.Repo.GetPositionForUpdateTx(ctx, tx, seller, taker.MarketID, taker.Side)
		if err != nil {
			return err
		}
		if sellerPos == nil || sellerPos.Shares.LessThan(fill.Size) {
			return ErrInsufficientShares
		}
		sellerPos.Shares = sellerPos.Shares.Sub(fill.Size)
		if sellerPos.Shares.IsPositive() {
			if err := s.Repo.SavePositionTx(ctx, tx, sellerPos); err != nil {
				return err
			}
		} else {
			if err := s.Repo.DeletePositionTx(ctx, tx, sellerPos.ID); err != nil {
				return err
			}
		}

		buyerPos, err := s.Repo.GetPositionForUpdateTx(ctx, tx, buyer, taker.MarketID, taker.Side)
		if err != nil {
			return err
		}
		if buyerPos == nil {
			buyerPos = &models.Position{
				UserAddress: buyer,
				MarketID:    taker.MarketID,
				Side:        taker.Side,
				Shares:      fill.Size,
				AvgCost:     fill.Price,
			}
		} else {
			buyerPos.AvgCost = WeightedAvgCost(buyerPos.Shares, buyerPos.AvgCost, fill.Size, fill.Price)
			buyerPos.Shares = buyerPos.Shares.Add(fill.Size)
		}
		if err := s.Repo.SavePositionTx(ctx, tx, buyerPos); err != nil {
			return err
		}

		for _, r := range []struct {
			user string
			kind string
		}{{buyer, orderbook.KindBuy}, {seller, orderbook.KindSell}} {
			if err := s.Repo.InsertTradeOrderTx(ctx, tx, &models.TradeOrder{
				ID:          uuid.NewString(),
				UserAddress: r.user,
				MarketID:    taker.MarketID,
				Side:        taker.Side,
				Kind:        r.kind,
				Amount:      cost,
				Shares:      fill.Size,
				Price:       fill.Price,
			}); err != nil {
				return err
			}
		}

		remaining := maker.Remaining.Sub(fill.Size)
		status := models.OrderStatusOpen
		if !remaining.IsPositive() {
			remaining = decimal.Zero
			status = models.OrderStatusFilled
		}
		if err := s.Repo.UpdateOpenOrderFillTx(ctx, tx, maker.ID, remaining, status); err != nil {
			return err
		}

		takerStatus := models.OrderStatusOpen
		if !takerRemaining.IsPositive() {
			takerRemaining = decimal.Zero
			takerStatus = models.OrderStatusFilled
		}
		return s.Repo.UpdateOpenOrderFillTx(ctx, tx, taker.ID, takerRemaining, takerStatus)
	})
}

func sortedOrderIDs(a, b uint64) []uint64 {
	if a < b {
		return []uint64{a, b}
	}
	return []uint64{b, a}
}

// Cancel removes the caller's resting order from the book and marks the row
// cancelled. Orders belonging to someone else are rejected.
func (s *OrderBookService) Cancel(ctx context.Context, userAddress string, orderID uint64) error {
	order, err := s.Repo.GetOpenOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if order.UserAddress != strings.TrimSpace(userAddress) {
		return ErrNotOrderOwner
	}
	if order.Status != models.OrderStatusOpen {
		return ErrOrderNotFound
	}
	s.Books.Cancel(order.MarketID, order.Side, orderID)
	return s.Repo.UpdateOpenOrderStatus(ctx, orderID, models.OrderStatusCancelled)
}

// Snapshot returns the aggregated book for one (market, side).
func (s *OrderBookService) Snapshot(marketID, side string, depth int) (orderbook.Snapshot, error) {
	if !models.IsBinarySide(side) {
		return orderbook.Snapshot{}, ErrInvalidSide
	}
	return s.Books.Snapshot(marketID, side, depth), nil
}

// ListOrders returns the open orders of a market.
func (s *OrderBookService) ListOrders(ctx context.Context, marketID string) ([]models.OpenOrder, error) {
	return s.Repo.ListOpenOrdersByMarket(ctx, marketID, models.OrderStatusOpen)
}

// Bootstrap rebuilds the in-memory books from the open_orders table.
// Called once at startup before the HTTP surface accepts orders.
func (s *OrderBookService) Bootstrap(ctx context.Context) error {
	orders, err := s.Repo.ListOpenOrdersByStatus(ctx, models.OrderStatusOpen)
	if err != nil {
		return err
	}
	for _, o := range orders {
		s.Books.Add(o)
	}
	if s.Logger != nil {
		s.Logger.Info("order books restored", zap.Int("orders", len(orders)))
	}
	return nil
}

// SweepExpired expires open orders whose market has already resolved, as a
// safety net behind the per-resolution expiry.
func (s *OrderBookService) SweepExpired(ctx context.Context) error {
	n, err := s.Repo.ExpireOpenOrdersForResolvedMarkets(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.OrdersExpired.Add(float64(n))
		if s.Logger != nil {
			s.Logger.Info("expired stale open orders", zap.Int64("count", n))
		}
	}
	return nil
}

func sortedAddresses(a, b string) []string {
	if a == b {
		return []string{a}
	}
	if a < b {
		return []string{a, b}
	}
	return []string{b, a}
}
