package broadcast

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestHubDeliversEvents(t *testing.T) {
	h := NewHub(nil)
	sub := h.subscribe()
	defer h.unsubscribe(sub)

	h.PublishPriceUpdate("mkt-1", decimal.NewFromFloat(0.62), decimal.NewFromFloat(0.38))

	select {
	case raw := <-sub.msgs:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if ev.Type != EventPriceUpdate {
			t.Fatalf("type = %q, want %q", ev.Type, EventPriceUpdate)
		}
		if ev.MarketID != "mkt-1" {
			t.Fatalf("market = %q, want mkt-1", ev.MarketID)
		}
		if !ev.YesPrice.Equal(decimal.NewFromFloat(0.62)) {
			t.Fatalf("yes price = %s", ev.YesPrice)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	sub := h.subscribe()

	// Overflow the buffer without draining; the hub must cut the client
	// loose instead of blocking publishers.
	for i := 0; i < cap(sub.msgs)+1; i++ {
		h.PublishMarketResolved("mkt-1", "yes")
	}

	if h.SubscriberCount() != 0 {
		t.Fatalf("subscriber count = %d, want 0", h.SubscriberCount())
	}
	// Channel closed; drain returns immediately once empty.
	for range sub.msgs {
	}
}

func TestHubResolvedEventShape(t *testing.T) {
	h := NewHub(nil)
	sub := h.subscribe()
	defer h.unsubscribe(sub)

	h.PublishMarketResolved("mkt-2", "option_eth")

	raw := <-sub.msgs
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != EventMarketResolved || ev.Outcome != "option_eth" {
		t.Fatalf("got %+v", ev)
	}
}
