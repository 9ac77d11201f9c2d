package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flippredict/internal/models"
	"flippredict/internal/repository"
)

// SettlementEngine pays out a resolved market: liquidity providers get the
// remaining pool pro rata, winning positions redeem at 1.0 per share, losing
// positions expire worthless. Every balance-affecting step is recorded in
// the append-only settlement log before positions are deleted.
type SettlementEngine struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

// SettlementSummary reports what a settlement paid out.
type SettlementSummary struct {
	MarketID    string          `json:"marketId"`
	Outcome     string          `json:"outcome"`
	LPPayout    decimal.Decimal `json:"lpPayout"`
	WinnerCount int             `json:"winnerCount"`
	LoserCount  int             `json:"loserCount"`
	TotalPayout decimal.Decimal `json:"totalPayout"`
}

// SettleTx settles market inside the caller's transaction. The caller must
// already hold the market row lock and have recorded the resolution outcome.
// On return the market is in status settled with zero reserves and no open
// positions or LP stakes.
func (e *SettlementEngine) SettleTx(ctx context.Context, tx *gorm.DB, market *models.Market, winningSide string) (*SettlementSummary, error) {
	if e == nil || e.Repo == nil {
		return nil, gorm.ErrInvalidDB
	}
	winningSide = strings.TrimSpace(winningSide)
	if !validOutcome(market, winningSide) {
		return nil, ErrInvalidOutcome
	}

	market.Status = models.MarketStatusSettling
	if err := e.Repo.SaveMarketTx(ctx, tx, market); err != nil {
		return nil, err
	}

	summary := &SettlementSummary{
		MarketID:    market.ID,
		Outcome:     winningSide,
		LPPayout:    decimal.Zero,
		TotalPayout: decimal.Zero,
	}

	if err := e.settleLiquidityTx(ctx, tx, market, summary); err != nil {
		return nil, err
	}
	if err := e.settlePositionsTx(ctx, tx, market, winningSide, summary); err != nil {
		return nil, err
	}

	market.YesReserve = decimal.Zero
	market.NoReserve = decimal.Zero
	market.TotalLiquidity = decimal.Zero
	market.TotalLPShares = decimal.Zero
	market.Status = models.MarketStatusSettled
	if err := e.Repo.SaveMarketTx(ctx, tx, market); err != nil {
		return nil, err
	}

	if e.Logger != nil {
		e.Logger.Info("market settled",
			zap.String("market_id", market.ID),
			zap.String("outcome", winningSide),
			zap.Int("winners", summary.WinnerCount),
			zap.Int("losers", summary.LoserCount),
			zap.String("total_payout", summary.TotalPayout.String()))
	}
	return summary, nil
}

func (e *SettlementEngine) settleLiquidityTx(ctx context.Context, tx *gorm.DB, market *models.Market, summary *SettlementSummary) error {
	lps, err := e.Repo.ListLPPositionsForUpdateTx(ctx, tx, market.ID)
	if err != nil {
		return err
	}
	if len(lps) == 0 {
		return nil
	}
	if !market.TotalLPShares.IsPositive() {
		return e.Repo.DeleteLPPositionsByMarketTx(ctx, tx, market.ID)
	}

	for _, lp := range lps {
		payout := market.TotalLiquidity.Mul(lp.LPShares).Div(market.TotalLPShares)
		if payout.IsPositive() {
			if err := e.Repo.CreditBalanceTx(ctx, tx, lp.UserAddress, payout); err != nil {
				return err
			}
		}
		details, _ := json.Marshal(map[string]string{
			"lp_shares": lp.LPShares.String(),
			"deposited": lp.Deposited.String(),
		})
		if err := e.Repo.InsertSettlementLogTx(ctx, tx, &models.SettlementLog{
			MarketID:    market.ID,
			Action:      models.SettlementActionLPSettle,
			UserAddress: lp.UserAddress,
			Amount:      payout,
			Details:     datatypes.JSON(details),
		}); err != nil {
			return err
		}
		summary.LPPayout = summary.LPPayout.Add(payout)
		summary.TotalPayout = summary.TotalPayout.Add(payout)
	}
	return e.Repo.DeleteLPPositionsByMarketTx(ctx, tx, market.ID)
}

func (e *SettlementEngine) settlePositionsTx(ctx context.Context, tx *gorm.DB, market *models.Market, winningSide string, summary *SettlementSummary) error {
	positions, err := e.Repo.ListPositionsForUpdateTx(ctx, tx, market.ID)
	if err != nil {
		return err
	}
	for _, p := range positions {
		action, payout := ClassifyPosition(p.Side, winningSide, p.Shares)
		if payout.IsPositive() {
			if err := e.Repo.CreditBalanceTx(ctx, tx, p.UserAddress, payout); err != nil {
				return err
			}
			summary.WinnerCount++
			summary.TotalPayout = summary.TotalPayout.Add(payout)
		} else {
			summary.LoserCount++
		}
		details, _ := json.Marshal(map[string]string{
			"side":     p.Side,
			"shares":   p.Shares.String(),
			"avg_cost": p.AvgCost.String(),
		})
		if err := e.Repo.InsertSettlementLogTx(ctx, tx, &models.SettlementLog{
			MarketID:    market.ID,
			Action:      action,
			UserAddress: p.UserAddress,
			Amount:      payout,
			Details:     datatypes.JSON(details),
		}); err != nil {
			return err
		}
	}
	return e.Repo.DeletePositionsByMarketTx(ctx, tx, market.ID)
}

// ClassifyPosition decides the settlement action and payout for a position
// given the winning side. Winners redeem 1.0 per share; losers get nothing.
func ClassifyPosition(side, winningSide string, shares decimal.Decimal) (action string, payout decimal.Decimal) {
	if side == winningSide {
		return models.SettlementActionSettleWinner, shares
	}
	return models.SettlementActionSettleLoser, decimal.Zero
}

// Preview computes the would-be payouts for an outcome without writing
// anything. It reads positions and LP stakes with plain selects, so a
// concurrent trade can make the preview stale; it is informational only.
func (e *SettlementEngine) Preview(ctx context.Context, marketID, winningSide string) (*SettlementSummary, error) {
	market, err := e.Repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	if !validOutcome(market, winningSide) {
		return nil, ErrInvalidOutcome
	}

	summary := &SettlementSummary{
		MarketID:    marketID,
		Outcome:     winningSide,
		LPPayout:    market.TotalLiquidity,
		TotalPayout: market.TotalLiquidity,
	}
	positions, err := e.Repo.ListPositionsByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	for _, p := range positions {
		_, payout := ClassifyPosition(p.Side, winningSide, p.Shares)
		if payout.IsPositive() {
			summary.WinnerCount++
			summary.TotalPayout = summary.TotalPayout.Add(payout)
		} else {
			summary.LoserCount++
		}
	}
	return summary, nil
}

// Proof is the post-settlement audit bundle: the immutable resolution
// record plus every settlement log and the payout totals recomputed from
// them. Available once the market has resolved.
type Proof struct {
	Resolution *models.MarketResolution `json:"resolution"`
	Logs       []models.SettlementLog   `json:"logs"`
	Summary    SettlementSummary        `json:"summary"`
}

func (e *SettlementEngine) Proof(ctx context.Context, marketID string) (*Proof, error) {
	market, err := e.Repo.GetMarketByID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	resolution, err := e.Repo.GetResolutionByMarketID(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if resolution == nil || resolution.Outcome == "" {
		return nil, ErrMarketNotFound
	}
	logs, err := e.Repo.ListSettlementLogs(ctx, marketID)
	if err != nil {
		return nil, err
	}

	summary := SettlementSummary{
		MarketID:    marketID,
		Outcome:     resolution.Outcome,
		LPPayout:    decimal.Zero,
		TotalPayout: decimal.Zero,
	}
	for _, l := range logs {
		switch l.Action {
		case models.SettlementActionLPSettle:
			summary.LPPayout = summary.LPPayout.Add(l.Amount)
			summary.TotalPayout = summary.TotalPayout.Add(l.Amount)
		case models.SettlementActionSettleWinner:
			summary.WinnerCount++
			summary.TotalPayout = summary.TotalPayout.Add(l.Amount)
		case models.SettlementActionSettleLoser:
			summary.LoserCount++
		}
	}
	return &Proof{Resolution: resolution, Logs: logs, Summary: summary}, nil
}

func validOutcome(market *models.Market, winningSide string) bool {
	if market.MarketType == models.MarketTypeBinary {
		return models.IsBinarySide(winningSide)
	}
	return winningSide != "" && !models.IsBinarySide(winningSide)
}
