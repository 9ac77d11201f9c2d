// Package amm implements constant-product pricing between the two
// complementary outcome pools of a binary market. The product
// yesReserve * noReserve stays constant across trades and only moves on
// liquidity add/remove.
package amm

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrInvalidSide           = errors.New("side must be yes or no")
)

const (
	SideYes = "yes"
	SideNo  = "no"
)

// SwapResult is the outcome of a buy or sell against the pool.
type SwapResult struct {
	// Shares bought (buy) or sold (sell).
	Shares decimal.Decimal
	// Amount paid in (buy) or returned (sell).
	Amount decimal.Decimal
	// Average execution price = Amount / Shares.
	AvgPrice decimal.Decimal

	NewYesReserve decimal.Decimal
	NewNoReserve  decimal.Decimal
	NewYesPrice   decimal.Decimal
	NewNoPrice    decimal.Decimal
}

// Prices returns the implied prices for both sides.
// yesPrice = noReserve / (yesReserve + noReserve); prices sum to 1.
func Prices(yesReserve, noReserve decimal.Decimal) (yesPrice, noPrice decimal.Decimal) {
	total := yesReserve.Add(noReserve)
	if total.IsZero() {
		half := decimal.NewFromFloat(0.5)
		return half, half
	}
	yesPrice = noReserve.Div(total)
	noPrice = decimal.NewFromInt(1).Sub(yesPrice)
	return yesPrice, noPrice
}

// Buy spends amount on side and returns the shares received.
//
// Buying yes moves amount into the no pool and removes shares from the yes
// pool such that yesReserve*noReserve is unchanged (and symmetrically for
// no). A trade that would drain a pool to zero or below is rejected.
func Buy(yesReserve, noReserve decimal.Decimal, side string, amount decimal.Decimal) (SwapResult, error) {
	if !amount.IsPositive() {
		return SwapResult{}, ErrInvalidAmount
	}
	if !yesReserve.IsPositive() || !noReserve.IsPositive() {
		return SwapResult{}, ErrInsufficientLiquidity
	}

	k := yesReserve.Mul(noReserve)

	var newYes, newNo, shares decimal.Decimal
	switch side {
	case SideYes:
		newNo = noReserve.Add(amount)
		newYes = k.Div(newNo)
		shares = yesReserve.Sub(newYes)
		if !shares.IsPositive() || shares.GreaterThanOrEqual(yesReserve) {
			return SwapResult{}, ErrInsufficientLiquidity
		}
	case SideNo:
		newYes = yesReserve.Add(amount)
		newNo = k.Div(newYes)
		shares = noReserve.Sub(newNo)
		if !shares.IsPositive() || shares.GreaterThanOrEqual(noReserve) {
			return SwapResult{}, ErrInsufficientLiquidity
		}
	default:
		return SwapResult{}, ErrInvalidSide
	}

	yesPrice, noPrice := Prices(newYes, newNo)
	return SwapResult{
		Shares:        shares,
		Amount:        amount,
		AvgPrice:      amount.Div(shares),
		NewYesReserve: newYes,
		NewNoReserve:  newNo,
		NewYesPrice:   yesPrice,
		NewNoPrice:    noPrice,
	}, nil
}

// Sell is the inverse swap: shares of side go back into its pool and the
// payout comes out of the complementary pool, preserving k.
func Sell(yesReserve, noReserve decimal.Decimal, side string, shares decimal.Decimal) (SwapResult, error) {
	if !shares.IsPositive() {
		return SwapResult{}, ErrInvalidAmount
	}
	if !yesReserve.IsPositive() || !noReserve.IsPositive() {
		return SwapResult{}, ErrInsufficientLiquidity
	}

	k := yesReserve.Mul(noReserve)

	var newYes, newNo, amountOut decimal.Decimal
	switch side {
	case SideYes:
		newYes = yesReserve.Add(shares)
		newNo = k.Div(newYes)
		amountOut = noReserve.Sub(newNo)
	case SideNo:
		newNo = noReserve.Add(shares)
		newYes = k.Div(newNo)
		amountOut = yesReserve.Sub(newYes)
	default:
		return SwapResult{}, ErrInvalidSide
	}
	if !amountOut.IsPositive() {
		return SwapResult{}, ErrInsufficientLiquidity
	}

	yesPrice, noPrice := Prices(newYes, newNo)
	return SwapResult{
		Shares:        shares,
		Amount:        amountOut,
		AvgPrice:      amountOut.Div(shares),
		NewYesReserve: newYes,
		NewNoReserve:  newNo,
		NewYesPrice:   yesPrice,
		NewNoPrice:    noPrice,
	}, nil
}

// LiquidityChange is the pool delta produced by adding or removing liquidity.
type LiquidityChange struct {
	NewYesReserve decimal.Decimal
	NewNoReserve  decimal.Decimal
	LPShares      decimal.Decimal
	AmountOut     decimal.Decimal
}

// AddLiquidity grows both reserves proportionally so the price is unchanged
// and mints LP shares pro rata. For an empty pool the deposit seeds both
// sides equally and LP shares equal the deposit.
func AddLiquidity(yesReserve, noReserve, totalLiquidity, totalLPShares, amount decimal.Decimal) (LiquidityChange, error) {
	if !amount.IsPositive() {
		return LiquidityChange{}, ErrInvalidAmount
	}
	if totalLiquidity.IsZero() || totalLPShares.IsZero() {
		return LiquidityChange{
			NewYesReserve: amount,
			NewNoReserve:  amount,
			LPShares:      amount,
		}, nil
	}
	f := amount.Div(totalLiquidity)
	one := decimal.NewFromInt(1)
	return LiquidityChange{
		NewYesReserve: yesReserve.Mul(one.Add(f)),
		NewNoReserve:  noReserve.Mul(one.Add(f)),
		LPShares:      totalLPShares.Mul(f),
	}, nil
}

// RemoveLiquidity burns lpShares and shrinks both reserves pro rata,
// returning the withdrawn amount.
func RemoveLiquidity(yesReserve, noReserve, totalLiquidity, totalLPShares, lpShares decimal.Decimal) (LiquidityChange, error) {
	if !lpShares.IsPositive() {
		return LiquidityChange{}, ErrInvalidAmount
	}
	if lpShares.GreaterThan(totalLPShares) || !totalLPShares.IsPositive() {
		return LiquidityChange{}, ErrInsufficientLiquidity
	}
	f := lpShares.Div(totalLPShares)
	one := decimal.NewFromInt(1)
	keep := one.Sub(f)
	newYes := yesReserve.Mul(keep)
	newNo := noReserve.Mul(keep)
	if lpShares.LessThan(totalLPShares) && (!newYes.IsPositive() || !newNo.IsPositive()) {
		return LiquidityChange{}, ErrInsufficientLiquidity
	}
	return LiquidityChange{
		NewYesReserve: newYes,
		NewNoReserve:  newNo,
		LPShares:      lpShares.Neg(),
		AmountOut:     totalLiquidity.Mul(f),
	}, nil
}
