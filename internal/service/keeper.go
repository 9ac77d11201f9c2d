package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"flippredict/internal/engine/orderbook"
	"flippredict/internal/metrics"
	"flippredict/internal/models"
	"flippredict/internal/oracle"
	"flippredict/internal/repository"
)

// ResolutionKeeper sweeps expired active markets, resolves the ones whose
// oracle rule can be answered and settles them in the same transaction.
//
// Oracle fetches happen before the transaction opens so no network call
// ever runs while row locks are held. Inside the transaction markets are
// claimed with FOR UPDATE SKIP LOCKED and each one is wrapped in a
// savepoint, so one bad market never poisons the rest of the batch.
type ResolutionKeeper struct {
	Repo       repository.Repository
	Oracle     *oracle.Chain
	Settlement *SettlementEngine
	Books      *orderbook.Manager
	Broadcast  Broadcaster
	Hooks      []ResolutionHook
	Logger     *zap.Logger

	BatchLimit   int
	FetchTimeout time.Duration

	running atomic.Bool
}

// ResolveResult reports what happened to one claimed market in a cycle.
// Outcome is empty when the market was parked in pending_resolution.
type ResolveResult struct {
	MarketID string
	Outcome  string
	Err      error
}

const defaultBatchLimit = 50

// RunOnce executes a single keeper cycle and reports per-market results.
// Overlapping cycles are skipped rather than queued.
func (k *ResolutionKeeper) RunOnce(ctx context.Context) ([]ResolveResult, error) {
	if !k.running.CompareAndSwap(false, true) {
		if k.Logger != nil {
			k.Logger.Debug("keeper cycle still running, skipping")
		}
		return nil, nil
	}
	defer k.running.Store(false)

	start := time.Now()
	defer func() {
		metrics.KeeperCycleDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.KeeperCycles.Inc()

	limit := k.BatchLimit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	now := time.Now().UTC()

	candidates, err := k.Repo.ListExpiredActiveMarkets(ctx, now, limit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	quotes := k.prefetchQuotes(ctx, candidates)

	var results []ResolveResult
	err = k.Repo.InTx(ctx, func(tx *gorm.DB) error {
		claimed, err := k.Repo.LockExpiredActiveMarketsTx(ctx, tx, now, limit)
		if err != nil {
			return err
		}
		for i := range claimed {
			market := &claimed[i]
			sp := fmt.Sprintf("resolve_%d", i)
			if err := k.Repo.SavepointTx(ctx, tx, sp); err != nil {
				return err
			}
			outcome, err := k.resolveOneTx(ctx, tx, market, quotes)
			if err != nil {
				if rbErr := k.Repo.RollbackToSavepointTx(ctx, tx, sp); rbErr != nil {
					return rbErr
				}
				if errors.Is(err, errQuoteNotFetched) {
					// Claimed after the prefetch pass; left active so the
					// next cycle can fetch its quote before deciding.
					if k.Logger != nil {
						k.Logger.Debug("quote not fetched this cycle, deferring",
							zap.String("market_id", market.ID))
					}
					continue
				}
				if k.Logger != nil {
					k.Logger.Error("market resolution failed",
						zap.String("market_id", market.ID),
						zap.Error(err))
				}
			}
			results = append(results, ResolveResult{MarketID: market.ID, Outcome: outcome, Err: err})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		if r.Err != nil || r.Outcome == "" {
			continue
		}
		metrics.MarketsResolved.WithLabelValues(r.Outcome).Inc()
		k.afterResolve(ctx, r.MarketID, r.Outcome)
	}
	return results, nil
}

// errQuoteNotFetched marks a market claimed with an answerable oracle rule
// but no quote attempt in this cycle's prefetch pass. Such markets stay
// active and are retried next cycle instead of being parked.
var errQuoteNotFetched = errors.New("oracle quote not fetched this cycle")

// quoteResult is one prefetch attempt: a quote, or the fetch error. A key
// with no entry at all was never attempted.
type quoteResult struct {
	quote oracle.Quote
	err   error
}

// prefetchQuotes fetches every oracle key the batch needs, once, into a
// per-cycle cache. Failed fetches are cached too, so the resolve pass can
// tell "fetch failed" (park for manual resolution) apart from "fetch never
// attempted" (defer to the next cycle).
func (k *ResolutionKeeper) prefetchQuotes(ctx context.Context, markets []models.Market) map[string]quoteResult {
	quotes := map[string]quoteResult{}
	if k.Oracle == nil {
		return quotes
	}
	timeout := k.FetchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	for _, m := range markets {
		res, err := k.Repo.GetResolutionByMarketID(ctx, m.ID)
		if err != nil || res == nil {
			continue
		}
		key := oracleKey(res)
		if key == "" {
			continue
		}
		if _, ok := quotes[key]; ok {
			continue
		}
		fctx, cancel := context.WithTimeout(ctx, timeout)
		quote, err := k.Oracle.FetchPrice(fctx, key)
		cancel()
		if err != nil {
			metrics.OracleFetches.WithLabelValues("chain", "error").Inc()
			if k.Logger != nil {
				k.Logger.Warn("oracle prefetch failed",
					zap.String("market_id", m.ID),
					zap.String("key", key),
					zap.Error(err))
			}
			quotes[key] = quoteResult{err: err}
			continue
		}
		metrics.OracleFetches.WithLabelValues(quote.Source, "ok").Inc()
		quotes[key] = quoteResult{quote: quote}
	}
	return quotes
}

func oracleKey(res *models.MarketResolution) string {
	if res.OraclePair != "" {
		return strings.ToUpper(res.OraclePair)
	}
	return strings.ToLower(res.TokenAddress)
}

// resolveOneTx resolves a single claimed market. Markets without an
// answerable rule move to pending_resolution and an empty outcome is
// returned; markets with one are resolved, priced at 1/0 and settled.
func (k *ResolutionKeeper) resolveOneTx(ctx context.Context, tx *gorm.DB, market *models.Market, quotes map[string]quoteResult) (string, error) {
	res, err := k.Repo.GetResolutionByMarketIDTx(ctx, tx, market.ID)
	if err != nil {
		return "", err
	}
	if res != nil && res.Outcome != "" {
		// Resolved by another path; just take it to settlement.
		return res.Outcome, k.finishTx(ctx, tx, market, res, res.Outcome, nil)
	}

	if market.MarketType == models.MarketTypeMulti {
		return "", k.parkTx(ctx, tx, market)
	}
	if res == nil || res.ResolutionType == models.ResolutionTypeManual {
		return "", k.parkTx(ctx, tx, market)
	}
	if res.TargetPrice == nil || oracleKey(res) == "" {
		return "", k.parkTx(ctx, tx, market)
	}

	fetched, attempted := quotes[oracleKey(res)]
	if !attempted {
		// Expired between the prefetch pass and the claim; defer rather
		// than demand a manual resolution the rule could have answered.
		return "", errQuoteNotFetched
	}
	if fetched.err != nil {
		return "", k.parkTx(ctx, tx, market)
	}

	outcome, err := OutcomeForRule(res.ResolutionType, fetched.quote.Price, *res.TargetPrice)
	if err != nil {
		return "", k.parkTx(ctx, tx, market)
	}
	quote := fetched.quote
	return outcome, k.finishTx(ctx, tx, market, res, outcome, &quote)
}

// parkTx moves a market that cannot be auto-resolved to pending_resolution.
// Trading stops; a manual resolution picks it up later.
func (k *ResolutionKeeper) parkTx(ctx context.Context, tx *gorm.DB, market *models.Market) error {
	market.Status = models.MarketStatusPendingResolution
	return k.Repo.SaveMarketTx(ctx, tx, market)
}

// finishTx records the resolution, pins the final prices and settles, all
// inside the caller's transaction.
func (k *ResolutionKeeper) finishTx(ctx context.Context, tx *gorm.DB, market *models.Market, res *models.MarketResolution, outcome string, quote *oracle.Quote) error {
	now := time.Now().UTC()
	if res == nil {
		res = &models.MarketResolution{MarketID: market.ID, ResolutionType: models.ResolutionTypeManual}
	}
	res.Outcome = outcome
	res.ResolvedAt = &now
	if res.ResolvedBy == "" {
		res.ResolvedBy = "keeper"
	}
	if quote != nil {
		p := quote.Price
		res.ResolvedPrice = &p
		details, _ := json.Marshal(map[string]string{
			"source":     quote.Source,
			"fetched_at": quote.FetchedAt.Format(time.RFC3339),
		})
		res.Details = datatypes.JSON(details)
	}
	if err := k.Repo.UpsertResolutionTx(ctx, tx, res); err != nil {
		return err
	}

	if err := k.pinFinalPricesTx(ctx, tx, market, outcome); err != nil {
		return err
	}
	market.Status = models.MarketStatusResolved
	if err := k.Repo.SaveMarketTx(ctx, tx, market); err != nil {
		return err
	}

	_, err := k.Settlement.SettleTx(ctx, tx, market, outcome)
	return err
}

// pinFinalPricesTx sets the winning side to 1 and the rest to 0, and writes
// the terminal price point so charts end on the resolved value.
func (k *ResolutionKeeper) pinFinalPricesTx(ctx context.Context, tx *gorm.DB, market *models.Market, outcome string) error {
	one := decimal.NewFromInt(1)
	if market.MarketType == models.MarketTypeBinary {
		if outcome == models.SideYes {
			market.YesPrice, market.NoPrice = one, decimal.Zero
		} else {
			market.YesPrice, market.NoPrice = decimal.Zero, one
		}
		return k.Repo.InsertPricePointTx(ctx, tx, &models.PricePoint{
			MarketID: market.ID,
			YesPrice: market.YesPrice,
			NoPrice:  market.NoPrice,
		})
	}

	options, err := k.Repo.ListMarketOptionsForUpdateTx(ctx, tx, market.ID)
	if err != nil {
		return err
	}
	found := false
	for i := range options {
		if options[i].OptionKey == outcome {
			options[i].Price = one
			found = true
		} else {
			options[i].Price = decimal.Zero
		}
	}
	if !found {
		return ErrUnknownOption
	}
	for i := range options {
		if err := k.Repo.SaveMarketOptionTx(ctx, tx, &options[i]); err != nil {
			return err
		}
	}
	return nil
}

// afterResolve runs the post-commit side effects for one resolved market:
// resting limit orders are expired, subscribers are notified and downstream
// hooks fire. None of these can roll the resolution back.
func (k *ResolutionKeeper) afterResolve(ctx context.Context, marketID, outcome string) {
	if n, err := k.Repo.ExpireOpenOrdersByMarket(ctx, marketID); err != nil {
		if k.Logger != nil {
			k.Logger.Error("expiring open orders failed",
				zap.String("market_id", marketID), zap.Error(err))
		}
	} else if n > 0 {
		metrics.OrdersExpired.Add(float64(n))
	}
	if k.Books != nil {
		k.Books.ExpireMarket(marketID)
	}
	if k.Broadcast != nil {
		k.Broadcast.PublishMarketResolved(marketID, outcome)
	}
	for _, hook := range k.Hooks {
		hook(ctx, marketID, outcome)
	}
	if k.Logger != nil {
		k.Logger.Info("market resolved",
			zap.String("market_id", marketID),
			zap.String("outcome", outcome))
	}
}

// ResolveManual resolves a market by operator decision. Accepted from
// active and pending_resolution; a market that already reached resolved or
// settled is rejected so the recorded outcome can never change.
func (k *ResolutionKeeper) ResolveManual(ctx context.Context, marketID, outcome, resolvedBy string) error {
	outcome = strings.TrimSpace(outcome)
	var resolved bool
	err := k.Repo.InTx(ctx, func(tx *gorm.DB) error {
		market, err := k.Repo.GetMarketForUpdateTx(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if market == nil {
			return ErrMarketNotFound
		}
		switch market.Status {
		case models.MarketStatusActive, models.MarketStatusPendingResolution:
		default:
			return ErrAlreadyResolved
		}
		if !validOutcome(market, outcome) {
			return ErrInvalidOutcome
		}
		if market.MarketType == models.MarketTypeMulti {
			options, err := k.Repo.ListMarketOptions(ctx, marketID)
			if err != nil {
				return err
			}
			known := false
			for _, o := range options {
				if o.OptionKey == outcome {
					known = true
					break
				}
			}
			if !known {
				return ErrUnknownOption
			}
		}

		res, err := k.Repo.GetResolutionByMarketIDTx(ctx, tx, marketID)
		if err != nil {
			return err
		}
		if res == nil {
			res = &models.MarketResolution{MarketID: marketID, ResolutionType: models.ResolutionTypeManual}
		}
		if res.Outcome != "" && res.Outcome != outcome {
			return ErrAlreadyResolved
		}
		res.ResolvedBy = resolvedBy
		if err := k.finishTx(ctx, tx, market, res, outcome, nil); err != nil {
			return err
		}
		resolved = true
		return nil
	})
	if err != nil {
		return err
	}
	if resolved {
		metrics.MarketsResolved.WithLabelValues(outcome).Inc()
		k.afterResolve(ctx, marketID, outcome)
	}
	return nil
}

// OutcomeForRule applies an oracle resolution rule to a fetched price.
// price_above resolves yes when the price reached the target or higher;
// price_below resolves yes when it is at the target or lower. Equality
// counts as hit in both directions.
func OutcomeForRule(resolutionType string, fetched, target decimal.Decimal) (string, error) {
	switch resolutionType {
	case models.ResolutionTypePriceAbove:
		if fetched.GreaterThanOrEqual(target) {
			return models.SideYes, nil
		}
		return models.SideNo, nil
	case models.ResolutionTypePriceBelow:
		if fetched.LessThanOrEqual(target) {
			return models.SideYes, nil
		}
		return models.SideNo, nil
	default:
		return "", ErrInvalidOutcome
	}
}
