// Package lmsr implements the Logarithmic Market Scoring Rule used for
// markets with more than two mutually exclusive outcomes.
//
// Cost function C(q) = b * ln(sum exp(q_i/b)); marginal price of outcome i
// is the softmax exp(q_i/b) / sum exp(q_j/b). Prices always sum to 1 and the
// market maker's maximum loss is bounded by b * ln(n).
package lmsr

import (
	"errors"
	"math"
)

var (
	ErrInvalidB       = errors.New("liquidity parameter b must be positive")
	ErrInvalidOutcome = errors.New("outcome index out of range")
	ErrNoOutcomes     = errors.New("at least two outcomes required")
)

// Cost computes C(q) = b * ln(sum exp(q_i/b)) using the log-sum-exp trick:
// the max q_i/b is factored out before exponentiating so large quantities
// cannot overflow.
func Cost(q []float64, b float64) (float64, error) {
	if b <= 0 {
		return 0, ErrInvalidB
	}
	if len(q) < 2 {
		return 0, ErrNoOutcomes
	}
	maxQ := q[0]
	for _, v := range q[1:] {
		if v > maxQ {
			maxQ = v
		}
	}
	sum := 0.0
	for _, v := range q {
		sum += math.Exp((v - maxQ) / b)
	}
	return maxQ + b*math.Log(sum), nil
}

// Prices returns the marginal price of every outcome. The result sums to 1.
func Prices(q []float64, b float64) ([]float64, error) {
	if b <= 0 {
		return nil, ErrInvalidB
	}
	if len(q) < 2 {
		return nil, ErrNoOutcomes
	}
	maxQ := q[0]
	for _, v := range q[1:] {
		if v > maxQ {
			maxQ = v
		}
	}
	exps := make([]float64, len(q))
	sum := 0.0
	for i, v := range q {
		exps[i] = math.Exp((v - maxQ) / b)
		sum += exps[i]
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps, nil
}

// CostToBuy returns the cost of acquiring delta shares of outcome i:
// C(q + delta*e_i) - C(q). A negative delta prices a sell (the result is
// then the negative proceeds).
func CostToBuy(q []float64, b float64, i int, delta float64) (float64, error) {
	if i < 0 || i >= len(q) {
		return 0, ErrInvalidOutcome
	}
	before, err := Cost(q, b)
	if err != nil {
		return 0, err
	}
	qNew := make([]float64, len(q))
	copy(qNew, q)
	qNew[i] += delta
	after, err := Cost(qNew, b)
	if err != nil {
		return 0, err
	}
	return after - before, nil
}

// MaxLoss is the market maker's worst case subsidy: b * ln(n).
func MaxLoss(n int, b float64) float64 {
	return b * math.Log(float64(n))
}
