// Package metrics registers the Prometheus instruments exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flippredict",
		Name:      "trades_executed_total",
		Help:      "Executed trades by kind (buy, sell, buy_option, limit_fill).",
	}, []string{"kind"})

	TradeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flippredict",
		Name:      "trade_errors_total",
		Help:      "Rejected or failed trade executions by kind.",
	}, []string{"kind"})

	KeeperCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flippredict",
		Name:      "keeper_cycles_total",
		Help:      "Resolution keeper cycles started.",
	})

	KeeperCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flippredict",
		Name:      "keeper_cycle_duration_seconds",
		Help:      "Wall time of one keeper cycle including oracle prefetch.",
		Buckets:   prometheus.DefBuckets,
	})

	MarketsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flippredict",
		Name:      "markets_resolved_total",
		Help:      "Markets resolved by outcome.",
	}, []string{"outcome"})

	OracleFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flippredict",
		Name:      "oracle_fetches_total",
		Help:      "Oracle price fetches by source and status.",
	}, []string{"source", "status"})

	OrdersExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flippredict",
		Name:      "orders_expired_total",
		Help:      "Resting limit orders expired on market resolution.",
	})
)
