package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"flippredict/internal/engine/lmsr"
	"flippredict/internal/models"
)

func TestCreateBinaryMarketSeedsPool(t *testing.T) {
	d := decimal.RequireFromString
	repo := newStubRepo()
	svc := &MarketService{Repo: repo}

	target := d("100000")
	market, err := svc.CreateBinaryMarket(context.Background(), CreateMarketParams{
		ID:               "m1",
		Title:            "BTC above 100k by Friday",
		EndTime:          time.Now().UTC().Add(72 * time.Hour),
		InitialLiquidity: d("1000"),
		ResolutionType:   models.ResolutionTypePriceAbove,
		OraclePair:       "btcusdt",
		TargetPrice:      &target,
	})
	require.NoError(t, err)
	require.True(t, market.YesReserve.Equal(d("1000")))
	require.True(t, market.NoReserve.Equal(d("1000")))
	require.True(t, market.YesPrice.Equal(d("0.5")))
	require.True(t, market.TotalLPShares.Equal(d("1000")))

	res := repo.st.resolutions["m1"]
	require.Equal(t, models.ResolutionTypePriceAbove, res.ResolutionType)
	require.Equal(t, "BTCUSDT", res.OraclePair)
}

func TestCreateMultiMarketSubsidy(t *testing.T) {
	d := decimal.RequireFromString
	repo := newStubRepo()
	svc := &MarketService{Repo: repo}

	market, err := svc.CreateMultiMarket(context.Background(), CreateMultiMarketParams{
		ID:      "m1",
		Title:   "Which chain flips first",
		EndTime: time.Now().UTC().Add(72 * time.Hour),
		B:       d("100"),
		Options: []OptionParams{
			{Key: "option_eth", Label: "Ethereum"},
			{Key: "option_sol", Label: "Solana"},
			{Key: "option_bnb", Label: "BNB"},
			{Key: "option_ada", Label: "Cardano"},
		},
	})
	require.NoError(t, err)

	wantSubsidy := decimal.NewFromFloat(lmsr.MaxLoss(4, 100)).Round(10)
	require.True(t, market.TotalLiquidity.Equal(wantSubsidy), "pool carries the b*ln(n) worst case")

	options := repo.st.options["m1"]
	require.Len(t, options, 4)
	quarter := d("0.25")
	for _, o := range options {
		require.True(t, o.Price.Equal(quarter), "legs open uniform")
		require.True(t, o.Quantity.IsZero())
	}
}

func TestCreateMultiMarketRejectsBadLegs(t *testing.T) {
	d := decimal.RequireFromString
	repo := newStubRepo()
	svc := &MarketService{Repo: repo}
	end := time.Now().UTC().Add(time.Hour)

	_, err := svc.CreateMultiMarket(context.Background(), CreateMultiMarketParams{
		Title: "one leg", EndTime: end, B: d("10"),
		Options: []OptionParams{{Key: "option_a", Label: "A"}},
	})
	require.ErrorIs(t, err, ErrUnknownOption)

	_, err = svc.CreateMultiMarket(context.Background(), CreateMultiMarketParams{
		Title: "duplicate", EndTime: end, B: d("10"),
		Options: []OptionParams{{Key: "option_a", Label: "A"}, {Key: "option_a", Label: "A2"}},
	})
	require.ErrorIs(t, err, ErrUnknownOption)

	_, err = svc.CreateMultiMarket(context.Background(), CreateMultiMarketParams{
		Title: "no b", EndTime: end, B: decimal.Zero,
		Options: []OptionParams{{Key: "option_a", Label: "A"}, {Key: "option_b", Label: "B"}},
	})
	require.ErrorIs(t, err, lmsr.ErrInvalidB)
}
