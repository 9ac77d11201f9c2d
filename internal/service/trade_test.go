package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestWeightedAvgCost(t *testing.T) {
	d := decimal.RequireFromString

	// 100 @ 0.50 plus 100 @ 0.70 averages to 0.60.
	avg := WeightedAvgCost(d("100"), d("0.5"), d("100"), d("0.7"))
	require.True(t, avg.Equal(d("0.6")), "got %s", avg)

	// First buy: old side contributes nothing.
	avg = WeightedAvgCost(decimal.Zero, decimal.Zero, d("50"), d("0.42"))
	require.True(t, avg.Equal(d("0.42")))

	// Unequal weights pull toward the bigger lot.
	avg = WeightedAvgCost(d("300"), d("0.2"), d("100"), d("0.6"))
	require.True(t, avg.Equal(d("0.3")), "got %s", avg)

	// Degenerate zero-total input.
	avg = WeightedAvgCost(decimal.Zero, d("0.5"), decimal.Zero, d("0.7"))
	require.True(t, avg.IsZero())
}

func TestSortedAddresses(t *testing.T) {
	require.Equal(t, []string{"0xaaa", "0xbbb"}, sortedAddresses("0xbbb", "0xaaa"))
	require.Equal(t, []string{"0xaaa", "0xbbb"}, sortedAddresses("0xaaa", "0xbbb"))
	require.Equal(t, []string{"0xaaa"}, sortedAddresses("0xaaa", "0xaaa"))
}
