package service

import (
	"context"

	"github.com/shopspring/decimal"
)

// Broadcaster is the external publish sink for post-commit events. Failures
// are the sink's problem: publishing never blocks or rolls back a trade or
// resolution.
type Broadcaster interface {
	PublishPriceUpdate(marketID string, yesPrice, noPrice decimal.Decimal)
	PublishMarketResolved(marketID, outcome string)
}

// ResolutionHook is a downstream callback invoked after a resolution
// commits, e.g. the dependent prediction-resolution pipeline.
type ResolutionHook func(ctx context.Context, marketID, outcome string)

type nopBroadcaster struct{}

func (nopBroadcaster) PublishPriceUpdate(string, decimal.Decimal, decimal.Decimal) {}
func (nopBroadcaster) PublishMarketResolved(string, string)                        {}

// NopBroadcaster discards every event; used when no hub is wired.
var NopBroadcaster Broadcaster = nopBroadcaster{}
