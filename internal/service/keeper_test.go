package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"flippredict/internal/models"
	"flippredict/internal/oracle"
)

func TestOutcomeForRule(t *testing.T) {
	d := decimal.RequireFromString

	cases := []struct {
		name    string
		rule    string
		fetched string
		target  string
		want    string
		wantErr bool
	}{
		{"above hit", models.ResolutionTypePriceAbove, "100000", "95000", models.SideYes, false},
		{"above miss", models.ResolutionTypePriceAbove, "90000", "95000", models.SideNo, false},
		{"above equal counts", models.ResolutionTypePriceAbove, "95000", "95000", models.SideYes, false},
		{"below hit", models.ResolutionTypePriceBelow, "0.01", "0.02", models.SideYes, false},
		{"below miss", models.ResolutionTypePriceBelow, "0.03", "0.02", models.SideNo, false},
		{"below equal counts", models.ResolutionTypePriceBelow, "0.02", "0.02", models.SideYes, false},
		{"manual has no rule", models.ResolutionTypeManual, "1", "1", "", true},
		{"garbage rule", "coin_flip", "1", "1", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := OutcomeForRule(tc.rule, d(tc.fetched), d(tc.target))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

type stubSource struct {
	price decimal.Decimal
	err   error
}

func (s stubSource) Name() string { return "stub" }

func (s stubSource) FetchPrice(ctx context.Context, key string) (decimal.Decimal, error) {
	return s.price, s.err
}

func newTestKeeper(repo *stubRepo, src oracle.Source) *ResolutionKeeper {
	return &ResolutionKeeper{
		Repo:       repo,
		Oracle:     &oracle.Chain{Sources: []oracle.Source{src}},
		Settlement: &SettlementEngine{Repo: repo},
		Broadcast:  NopBroadcaster,
	}
}

func expiredBinaryMarket(id string) models.Market {
	d := decimal.RequireFromString
	return models.Market{
		ID:             id,
		Title:          id,
		MarketType:     models.MarketTypeBinary,
		Status:         models.MarketStatusActive,
		YesReserve:     d("100"),
		NoReserve:      d("100"),
		YesPrice:       d("0.5"),
		NoPrice:        d("0.5"),
		TotalLiquidity: d("100"),
		TotalLPShares:  d("100"),
		EndTime:        time.Now().UTC().Add(-time.Hour),
	}
}

func priceAboveResolution(marketID, pair, target string) models.MarketResolution {
	t := decimal.RequireFromString(target)
	return models.MarketResolution{
		MarketID:       marketID,
		ResolutionType: models.ResolutionTypePriceAbove,
		OraclePair:     pair,
		TargetPrice:    &t,
	}
}

func TestRunOnceResolvesOracleMarket(t *testing.T) {
	d := decimal.RequireFromString
	repo := newStubRepo()
	repo.nextID = 100
	repo.st.markets["m1"] = expiredBinaryMarket("m1")
	repo.st.resolutions["m1"] = priceAboveResolution("m1", "BTCUSDT", "100000")
	repo.st.positions[1] = models.Position{ID: 1, UserAddress: "alice", MarketID: "m1", Side: models.SideYes, Shares: d("50"), AvgCost: d("0.5")}
	repo.st.positions[2] = models.Position{ID: 2, UserAddress: "bob", MarketID: "m1", Side: models.SideNo, Shares: d("20"), AvgCost: d("0.5")}
	repo.st.lps[3] = models.LPPosition{ID: 3, UserAddress: "carol", MarketID: "m1", LPShares: d("100"), Deposited: d("100")}
	repo.st.orders[4] = models.OpenOrder{ID: 4, MarketID: "m1", UserAddress: "alice", Side: models.SideYes, Kind: "buy", Price: d("0.4"), Size: d("5"), Remaining: d("5"), Status: models.OrderStatusOpen}

	k := newTestKeeper(repo, stubSource{price: d("100050")})
	results, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, models.SideYes, results[0].Outcome)

	market := repo.st.markets["m1"]
	require.Equal(t, models.MarketStatusSettled, market.Status)
	require.True(t, market.YesReserve.IsZero())
	require.True(t, market.NoReserve.IsZero())
	require.True(t, market.YesPrice.Equal(d("1")))
	require.True(t, market.NoPrice.IsZero())

	res := repo.st.resolutions["m1"]
	require.Equal(t, models.SideYes, res.Outcome)
	require.Equal(t, "keeper", res.ResolvedBy)
	require.NotNil(t, res.ResolvedAt)
	require.NotNil(t, res.ResolvedPrice)
	require.True(t, res.ResolvedPrice.Equal(d("100050")))

	require.True(t, repo.st.balances["alice"].Available.Equal(d("50")), "winner redeems 1.0 per share")
	require.True(t, repo.st.balances["carol"].Available.Equal(d("100")), "sole LP takes the whole pool")
	_, bobHasBalance := repo.st.balances["bob"]
	require.False(t, bobHasBalance)

	require.Empty(t, repo.st.positions)
	require.Empty(t, repo.st.lps)

	byAction := map[string]int{}
	for _, l := range repo.st.logs {
		byAction[l.Action]++
	}
	require.Equal(t, 1, byAction[models.SettlementActionLPSettle])
	require.Equal(t, 1, byAction[models.SettlementActionSettleWinner])
	require.Equal(t, 1, byAction[models.SettlementActionSettleLoser])

	require.Len(t, repo.st.points, 1)
	require.True(t, repo.st.points[0].YesPrice.Equal(d("1")))

	require.Equal(t, models.OrderStatusExpired, repo.st.orders[4].Status, "resting orders expire with the market")
}

func TestRunOnceParksOnOracleFailure(t *testing.T) {
	repo := newStubRepo()
	repo.st.markets["m1"] = expiredBinaryMarket("m1")
	repo.st.resolutions["m1"] = priceAboveResolution("m1", "BTCUSDT", "100000")

	k := newTestKeeper(repo, stubSource{err: errors.New("feed down")})
	results, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Empty(t, results[0].Outcome)

	require.Equal(t, models.MarketStatusPendingResolution, repo.st.markets["m1"].Status)
	require.Empty(t, repo.st.resolutions["m1"].Outcome)
	require.Empty(t, repo.st.logs)
}

func TestRunOnceParksMultiMarket(t *testing.T) {
	repo := newStubRepo()
	m := expiredBinaryMarket("m1")
	m.MarketType = models.MarketTypeMulti
	repo.st.markets["m1"] = m

	k := newTestKeeper(repo, stubSource{price: decimal.NewFromInt(1)})
	results, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Empty(t, results[0].Outcome)
	require.Equal(t, models.MarketStatusPendingResolution, repo.st.markets["m1"].Status)
}

func TestRunOnceDefersUnfetchedQuote(t *testing.T) {
	repo := newStubRepo()
	repo.st.markets["m1"] = expiredBinaryMarket("m1")
	repo.st.resolutions["m1"] = models.MarketResolution{MarketID: "m1", ResolutionType: models.ResolutionTypeManual}
	// m2 expired after the candidate scan; it is claimed without a quote.
	repo.st.markets["m2"] = expiredBinaryMarket("m2")
	repo.st.resolutions["m2"] = priceAboveResolution("m2", "BTCUSDT", "100000")
	repo.hiddenFromList["m2"] = true

	k := newTestKeeper(repo, stubSource{price: decimal.RequireFromString("100050")})
	results, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "m1", results[0].MarketID)

	require.Equal(t, models.MarketStatusPendingResolution, repo.st.markets["m1"].Status)
	require.Equal(t, models.MarketStatusActive, repo.st.markets["m2"].Status,
		"a rule the oracle could answer waits for the next cycle instead of going manual")
}

func TestRunOnceIsolatesFailingMarket(t *testing.T) {
	d := decimal.RequireFromString
	repo := newStubRepo()
	repo.nextID = 100
	repo.st.markets["m1"] = expiredBinaryMarket("m1")
	repo.st.resolutions["m1"] = priceAboveResolution("m1", "BTCUSDT", "100000")
	repo.st.positions[1] = models.Position{ID: 1, UserAddress: "alice", MarketID: "m1", Side: models.SideYes, Shares: d("50"), AvgCost: d("0.5")}
	repo.st.markets["m2"] = expiredBinaryMarket("m2")
	repo.st.resolutions["m2"] = priceAboveResolution("m2", "BTCUSDT", "100000")
	repo.st.positions[2] = models.Position{ID: 2, UserAddress: "bob", MarketID: "m2", Side: models.SideYes, Shares: d("10"), AvgCost: d("0.5")}
	repo.failLogInsertFor["m1"] = errors.New("log insert failed")

	k := newTestKeeper(repo, stubSource{price: d("100050")})
	results, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Error(t, results[0].Err)
	require.Equal(t, "m1", results[0].MarketID)
	require.Equal(t, models.MarketStatusActive, repo.st.markets["m1"].Status, "failed market rolls back whole")
	require.Empty(t, repo.st.resolutions["m1"].Outcome)
	require.Contains(t, repo.st.positions, uint64(1))
	_, aliceCredited := repo.st.balances["alice"]
	require.False(t, aliceCredited)

	require.NoError(t, results[1].Err)
	require.Equal(t, models.SideYes, results[1].Outcome)
	require.Equal(t, models.MarketStatusSettled, repo.st.markets["m2"].Status)
	require.True(t, repo.st.balances["bob"].Available.Equal(d("10")))
}

func TestRunOnceAdoptsExistingOutcome(t *testing.T) {
	d := decimal.RequireFromString
	repo := newStubRepo()
	repo.st.markets["m1"] = expiredBinaryMarket("m1")
	repo.st.resolutions["m1"] = models.MarketResolution{
		MarketID:       "m1",
		ResolutionType: models.ResolutionTypeManual,
		Outcome:        models.SideNo,
		ResolvedBy:     "admin",
	}

	k := newTestKeeper(repo, stubSource{err: errors.New("unused")})
	results, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, models.SideNo, results[0].Outcome)

	market := repo.st.markets["m1"]
	require.Equal(t, models.MarketStatusSettled, market.Status)
	require.True(t, market.NoPrice.Equal(d("1")))
	require.True(t, market.YesPrice.IsZero())
	require.Equal(t, "admin", repo.st.resolutions["m1"].ResolvedBy, "recorded outcome is immutable")
}

func TestResolveManual(t *testing.T) {
	d := decimal.RequireFromString
	repo := newStubRepo()
	repo.nextID = 100
	m := expiredBinaryMarket("m1")
	m.Status = models.MarketStatusPendingResolution
	repo.st.markets["m1"] = m
	repo.st.positions[1] = models.Position{ID: 1, UserAddress: "alice", MarketID: "m1", Side: models.SideYes, Shares: d("50"), AvgCost: d("0.5")}

	k := newTestKeeper(repo, stubSource{err: errors.New("unused")})
	require.NoError(t, k.ResolveManual(context.Background(), "m1", models.SideYes, "ops"))

	require.Equal(t, models.MarketStatusSettled, repo.st.markets["m1"].Status)
	require.Equal(t, models.SideYes, repo.st.resolutions["m1"].Outcome)
	require.Equal(t, "ops", repo.st.resolutions["m1"].ResolvedBy)
	require.True(t, repo.st.balances["alice"].Available.Equal(d("50")))

	// Settled markets are terminal; a second resolve never double-pays.
	err := k.ResolveManual(context.Background(), "m1", models.SideNo, "ops")
	require.ErrorIs(t, err, ErrAlreadyResolved)
	require.True(t, repo.st.balances["alice"].Available.Equal(d("50")))
}

func TestResolveManualRejectsConflictingOutcome(t *testing.T) {
	repo := newStubRepo()
	m := expiredBinaryMarket("m1")
	m.Status = models.MarketStatusPendingResolution
	repo.st.markets["m1"] = m
	repo.st.resolutions["m1"] = models.MarketResolution{
		MarketID:       "m1",
		ResolutionType: models.ResolutionTypeManual,
		Outcome:        models.SideYes,
	}

	k := newTestKeeper(repo, stubSource{err: errors.New("unused")})
	err := k.ResolveManual(context.Background(), "m1", models.SideNo, "ops")
	require.ErrorIs(t, err, ErrAlreadyResolved)
	require.Equal(t, models.SideYes, repo.st.resolutions["m1"].Outcome)
}
