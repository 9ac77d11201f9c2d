package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"flippredict/internal/engine/amm"
	"flippredict/internal/engine/lmsr"
	"flippredict/internal/metrics"
	"flippredict/internal/models"
	"flippredict/internal/repository"
)

// TradeService executes buys and sells against the AMM pools (binary
// markets) or the LMSR cost function (multi-option markets).
//
// Every execution runs in a single transaction with row locks taken in the
// fixed global order: the user's balance first, then the market row. On any
// failure the whole transaction rolls back; no partial state is observable.
type TradeService struct {
	Repo      repository.Repository
	Logger    *zap.Logger
	Broadcast Broadcaster
}

// TradeResult is the execution receipt returned to the API.
type TradeResult struct {
	OrderID     string          `json:"orderId"`
	Shares      decimal.Decimal `json:"shares"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	NewYesPrice decimal.Decimal `json:"newYesPrice"`
	NewNoPrice  decimal.Decimal `json:"newNoPrice"`
}

// ExecuteBuy spends amount of the user's available balance on side and
// returns the shares received at the AMM price.
func (s *TradeService) ExecuteBuy(ctx context.Context, userAddress, marketID, side string, amount decimal.Decimal) (*TradeResult, error) {
	userAddress = strings.TrimSpace(userAddress)
	if !models.IsBinarySide(side) {
		return nil, ErrInvalidSide
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *TradeResult
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		balance, err := s.Repo.GetBalanceForUpdateTx(ctx, tx, userAddress)
		if err != nil {
			return err
		}
		if balance == nil || balance.Available.LessThan(amount) {
			return ErrInsufficientBalance
		}

		market, err := s.lockActiveMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if market.MarketType != models.MarketTypeBinary {
			return ErrMarketNotBinary
		}

		swap, err := amm.Buy(market.YesReserve, market.NoReserve, side, amount)
		if err != nil {
			return err
		}

		balance.Available = balance.Available.Sub(amount)
		if err := s.Repo.SaveBalanceTx(ctx, tx, balance); err != nil {
			return err
		}

		if err := s.accumulatePosition(ctx, tx, userAddress, marketID, side, swap.Shares, swap.AvgPrice); err != nil {
			return err
		}

		market.YesReserve = swap.NewYesReserve
		market.NoReserve = swap.NewNoReserve
		market.YesPrice = swap.NewYesPrice
		market.NoPrice = swap.NewNoPrice
		market.Volume = market.Volume.Add(amount)
		if err := s.Repo.SaveMarketTx(ctx, tx, market); err != nil {
			return err
		}

		result = &TradeResult{
			OrderID:     uuid.NewString(),
			Shares:      swap.Shares,
			Amount:      amount,
			Price:       swap.AvgPrice,
			NewYesPrice: swap.NewYesPrice,
			NewNoPrice:  swap.NewNoPrice,
		}
		return s.Repo.InsertTradeOrderTx(ctx, tx, &models.TradeOrder{
			ID:          result.OrderID,
			UserAddress: userAddress,
			MarketID:    marketID,
			Side:        side,
			Kind:        "buy",
			Amount:      amount,
			Shares:      swap.Shares,
			Price:       swap.AvgPrice,
		})
	})
	if err != nil {
		metrics.TradeErrors.WithLabelValues("buy").Inc()
		return nil, err
	}

	metrics.TradesExecuted.WithLabelValues("buy").Inc()
	s.publishPrice(marketID, result.NewYesPrice, result.NewNoPrice)
	return result, nil
}

// ExecuteSell swaps shares of the user's position back into the pool and
// credits the proceeds to their balance.
func (s *TradeService) ExecuteSell(ctx context.Context, userAddress, marketID, side string, shares decimal.Decimal) (*TradeResult, error) {
	userAddress = strings.TrimSpace(userAddress)
	if !models.IsBinarySide(side) {
		return nil, ErrInvalidSide
	}
	if !shares.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *TradeResult
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		// Balance locked first even though the sell only credits it:
		// the global lock order is balance, then market.
		balance, err := s.Repo.GetBalanceForUpdateTx(ctx, tx, userAddress)
		if err != nil {
			return err
		}

		market, err := s.lockActiveMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if market.MarketType != models.MarketTypeBinary {
			return ErrMarketNotBinary
		}

		position, err := s.Repo.GetPositionForUpdateTx(ctx, tx, userAddress, marketID, side)
		if err != nil {
			return err
		}
		if position == nil || position.Shares.LessThan(shares) {
			return ErrInsufficientShares
		}

		swap, err := amm.Sell(market.YesReserve, market.NoReserve, side, shares)
		if err != nil {
			return err
		}

		if balance == nil {
			balance = &models.Balance{UserAddress: userAddress, Available: decimal.Zero, Locked: decimal.Zero}
		}
		balance.Available = balance.Available.Add(swap.Amount)
		if err := s.Repo.SaveBalanceTx(ctx, tx, balance); err != nil {
			return err
		}

		position.Shares = position.Shares.Sub(shares)
		if position.Shares.IsPositive() {
			if err := s.Repo.SavePositionTx(ctx, tx, position); err != nil {
				return err
			}
		} else {
			if err := s.Repo.DeletePositionTx(ctx, tx, position.ID); err != nil {
				return err
			}
		}

		market.YesReserve = swap.NewYesReserve
		market.NoReserve = swap.NewNoReserve
		market.YesPrice = swap.NewYesPrice
		market.NoPrice = swap.NewNoPrice
		market.Volume = market.Volume.Add(swap.Amount)
		if err := s.Repo.SaveMarketTx(ctx, tx, market); err != nil {
			return err
		}

		result = &TradeResult{
			OrderID:     uuid.NewString(),
			Shares:      shares,
			Amount:      swap.Amount,
			Price:       swap.AvgPrice,
			NewYesPrice: swap.NewYesPrice,
			NewNoPrice:  swap.NewNoPrice,
		}
		return s.Repo.InsertTradeOrderTx(ctx, tx, &models.TradeOrder{
			ID:          result.OrderID,
			UserAddress: userAddress,
			MarketID:    marketID,
			Side:        side,
			Kind:        "sell",
			Amount:      swap.Amount,
			Shares:      shares,
			Price:       swap.AvgPrice,
		})
	})
	if err != nil {
		metrics.TradeErrors.WithLabelValues("sell").Inc()
		return nil, err
	}

	metrics.TradesExecuted.WithLabelValues("sell").Inc()
	s.publishPrice(marketID, result.NewYesPrice, result.NewNoPrice)
	return result, nil
}

// ExecuteBuyOption buys shares of one outcome of a multi-option market at
// the LMSR cost C(q+delta) - C(q).
func (s *TradeService) ExecuteBuyOption(ctx context.Context, userAddress, marketID, optionKey string, shares decimal.Decimal) (*TradeResult, error) {
	userAddress = strings.TrimSpace(userAddress)
	optionKey = strings.TrimSpace(optionKey)
	if optionKey == "" {
		return nil, ErrUnknownOption
	}
	if !shares.IsPositive() {
		return nil, ErrInvalidAmount
	}

	var result *TradeResult
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		balance, err := s.Repo.GetBalanceForUpdateTx(ctx, tx, userAddress)
		if err != nil {
			return err
		}
		if balance == nil {
			return ErrInsufficientBalance
		}

		market, err := s.lockActiveMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if market.MarketType != models.MarketTypeMulti {
			return ErrMarketNotMulti
		}

		options, err := s.Repo.ListMarketOptionsForUpdateTx(ctx, tx, marketID)
		if err != nil {
			return err
		}
		idx := -1
		q := make([]float64, len(options))
		for i, o := range options {
			q[i] = o.Quantity.InexactFloat64()
			if o.OptionKey == optionKey {
				idx = i
			}
		}
		if idx < 0 {
			return ErrUnknownOption
		}

		b := market.LMSRB.InexactFloat64()
		costF, err := lmsr.CostToBuy(q, b, idx, shares.InexactFloat64())
		if err != nil {
			return err
		}
		cost := decimal.NewFromFloat(costF).Round(10)
		if !cost.IsPositive() {
			return ErrInvalidAmount
		}
		if balance.Available.LessThan(cost) {
			return ErrInsufficientBalance
		}

		balance.Available = balance.Available.Sub(cost)
		if err := s.Repo.SaveBalanceTx(ctx, tx, balance); err != nil {
			return err
		}

		avgPrice := cost.Div(shares)
		if err := s.accumulatePosition(ctx, tx, userAddress, marketID, optionKey, shares, avgPrice); err != nil {
			return err
		}

		q[idx] += shares.InexactFloat64()
		prices, err := lmsr.Prices(q, b)
		if err != nil {
			return err
		}
		for i := range options {
			options[i].Price = decimal.NewFromFloat(prices[i]).Round(10)
			if i == idx {
				options[i].Quantity = options[i].Quantity.Add(shares)
			}
			if err := s.Repo.SaveMarketOptionTx(ctx, tx, &options[i]); err != nil {
				return err
			}
		}

		market.Volume = market.Volume.Add(cost)
		if err := s.Repo.SaveMarketTx(ctx, tx, market); err != nil {
			return err
		}

		result = &TradeResult{
			OrderID: uuid.NewString(),
			Shares:  shares,
			Amount:  cost,
			Price:   avgPrice,
		}
		return s.Repo.InsertTradeOrderTx(ctx, tx, &models.TradeOrder{
			ID:          result.OrderID,
			UserAddress: userAddress,
			MarketID:    marketID,
			Side:        optionKey,
			Kind:        "buy",
			Amount:      cost,
			Shares:      shares,
			Price:       avgPrice,
		})
	})
	if err != nil {
		metrics.TradeErrors.WithLabelValues("buy_option").Inc()
		return nil, err
	}

	metrics.TradesExecuted.WithLabelValues("buy_option").Inc()
	return result, nil
}

// AddLiquidity deposits amount into the pool, growing both reserves
// proportionally and minting LP shares. This is the only operation (with
// RemoveLiquidity) allowed to change k.
func (s *TradeService) AddLiquidity(ctx context.Context, userAddress, marketID string, amount decimal.Decimal) error {
	userAddress = strings.TrimSpace(userAddress)
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		balance, err := s.Repo.GetBalanceForUpdateTx(ctx, tx, userAddress)
		if err != nil {
			return err
		}
		if balance == nil || balance.Available.LessThan(amount) {
			return ErrInsufficientBalance
		}

		market, err := s.lockActiveMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if market.MarketType != models.MarketTypeBinary {
			return ErrMarketNotBinary
		}

		change, err := amm.AddLiquidity(market.YesReserve, market.NoReserve, market.TotalLiquidity, market.TotalLPShares, amount)
		if err != nil {
			return err
		}

		balance.Available = balance.Available.Sub(amount)
		if err := s.Repo.SaveBalanceTx(ctx, tx, balance); err != nil {
			return err
		}

		lp, err := s.Repo.GetLPPositionForUpdateTx(ctx, tx, userAddress, marketID)
		if err != nil {
			return err
		}
		if lp == nil {
			lp = &models.LPPosition{UserAddress: userAddress, MarketID: marketID}
		}
		lp.LPShares = lp.LPShares.Add(change.LPShares)
		lp.Deposited = lp.Deposited.Add(amount)
		if err := s.Repo.SaveLPPositionTx(ctx, tx, lp); err != nil {
			return err
		}

		market.YesReserve = change.NewYesReserve
		market.NoReserve = change.NewNoReserve
		market.TotalLiquidity = market.TotalLiquidity.Add(amount)
		market.TotalLPShares = market.TotalLPShares.Add(change.LPShares)
		market.YesPrice, market.NoPrice = amm.Prices(change.NewYesReserve, change.NewNoReserve)
		return s.Repo.SaveMarketTx(ctx, tx, market)
	})
}

// RemoveLiquidity burns the user's LP shares pro rata and credits the
// withdrawn amount back to their balance.
func (s *TradeService) RemoveLiquidity(ctx context.Context, userAddress, marketID string, lpShares decimal.Decimal) error {
	userAddress = strings.TrimSpace(userAddress)
	if !lpShares.IsPositive() {
		return ErrInvalidAmount
	}
	return s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		balance, err := s.Repo.GetBalanceForUpdateTx(ctx, tx, userAddress)
		if err != nil {
			return err
		}

		market, err := s.lockActiveMarket(ctx, tx, marketID)
		if err != nil {
			return err
		}

		lp, err := s.Repo.GetLPPositionForUpdateTx(ctx, tx, userAddress, marketID)
		if err != nil {
			return err
		}
		if lp == nil || lp.LPShares.LessThan(lpShares) {
			return ErrInsufficientLPShares
		}

		change, err := amm.RemoveLiquidity(market.YesReserve, market.NoReserve, market.TotalLiquidity, market.TotalLPShares, lpShares)
		if err != nil {
			return err
		}

		if balance == nil {
			balance = &models.Balance{UserAddress: userAddress, Available: decimal.Zero, Locked: decimal.Zero}
		}
		balance.Available = balance.Available.Add(change.AmountOut)
		if err := s.Repo.SaveBalanceTx(ctx, tx, balance); err != nil {
			return err
		}

		lp.LPShares = lp.LPShares.Sub(lpShares)
		if lp.LPShares.IsPositive() {
			if err := s.Repo.SaveLPPositionTx(ctx, tx, lp); err != nil {
				return err
			}
		} else {
			if err := s.Repo.DeleteLPPositionTx(ctx, tx, lp.ID); err != nil {
				return err
			}
		}

		market.YesReserve = change.NewYesReserve
		market.NoReserve = change.NewNoReserve
		market.TotalLiquidity = market.TotalLiquidity.Sub(change.AmountOut)
		market.TotalLPShares = market.TotalLPShares.Sub(lpShares)
		market.YesPrice, market.NoPrice = amm.Prices(change.NewYesReserve, change.NewNoReserve)
		return s.Repo.SaveMarketTx(ctx, tx, market)
	})
}

func (s *TradeService) lockActiveMarket(ctx context.Context, tx *gorm.DB, marketID string) (*models.Market, error) {
	market, err := s.Repo.GetMarketForUpdateTx(ctx, tx, marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	if market.Status != models.MarketStatusActive {
		return nil, ErrMarketNotActive
	}
	return market, nil
}

func (s *TradeService) accumulatePosition(ctx context.Context, tx *gorm.DB, userAddress, marketID, side string, shares, price decimal.Decimal) error {
	position, err := s.Repo.GetPositionForUpdateTx(ctx, tx, userAddress, marketID, side)
	if err != nil {
		return err
	}
	if position == nil {
		position = &models.Position{
			UserAddress: userAddress,
			MarketID:    marketID,
			Side:        side,
			Shares:      shares,
			AvgCost:     price,
		}
		return s.Repo.SavePositionTx(ctx, tx, position)
	}
	position.AvgCost = WeightedAvgCost(position.Shares, position.AvgCost, shares, price)
	position.Shares = position.Shares.Add(shares)
	return s.Repo.SavePositionTx(ctx, tx, position)
}

func (s *TradeService) publishPrice(marketID string, yesPrice, noPrice decimal.Decimal) {
	if s.Broadcast == nil {
		return
	}
	s.Broadcast.PublishPriceUpdate(marketID, yesPrice, noPrice)
}

// WeightedAvgCost recomputes the average entry price when a position
// accumulates: (oldShares*oldAvg + addShares*addAvg) / (oldShares+addShares).
func WeightedAvgCost(oldShares, oldAvg, addShares, addAvg decimal.Decimal) decimal.Decimal {
	total := oldShares.Add(addShares)
	if !total.IsPositive() {
		return decimal.Zero
	}
	return oldShares.Mul(oldAvg).Add(addShares.Mul(addAvg)).Div(total)
}
