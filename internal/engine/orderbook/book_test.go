package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"flippredict/internal/models"
)

func order(id uint64, kind string, price float64, size float64, at time.Time) models.OpenOrder {
	p := decimal.NewFromFloat(price)
	s := decimal.NewFromFloat(size)
	return models.OpenOrder{
		ID:        id,
		MarketID:  "m1",
		Side:      models.SideYes,
		Kind:      kind,
		Price:     p,
		Size:      s,
		Remaining: s,
		Status:    models.OrderStatusOpen,
		CreatedAt: at,
	}
}

func TestMatch_PriceTimePriority(t *testing.T) {
	b := NewBook()
	t0 := time.Now()
	b.Add(order(1, KindSell, 0.60, 10, t0.Add(2*time.Second)))
	b.Add(order(2, KindSell, 0.55, 10, t0.Add(time.Second)))
	b.Add(order(3, KindSell, 0.55, 10, t0))

	fills, taker := b.Match(order(4, KindBuy, 0.58, 15, t0.Add(3*time.Second)))
	if len(fills) != 2 {
		t.Fatalf("fills=%d want 2", len(fills))
	}
	// Same price 0.55: order 3 (earlier) fills before order 2.
	if fills[0].MakerOrderID != 3 || fills[0].Size.Cmp(decimal.NewFromInt(10)) != 0 {
		t.Fatalf("first fill=%+v want maker 3 size 10", fills[0])
	}
	if fills[1].MakerOrderID != 2 || fills[1].Size.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("second fill=%+v want maker 2 size 5", fills[1])
	}
	if taker.Status != models.OrderStatusFilled {
		t.Fatalf("taker status=%s want filled", taker.Status)
	}
	// Order 2 keeps its partial remainder; order 1 at 0.60 untouched.
	if len(b.Asks) != 2 {
		t.Fatalf("asks=%d want 2", len(b.Asks))
	}
	if b.Asks[0].ID != 2 || b.Asks[0].Remaining.Cmp(decimal.NewFromInt(5)) != 0 {
		t.Fatalf("best ask=%+v want order 2 remaining 5", b.Asks[0])
	}
}

func TestMatch_RestsUnmarketableRemainder(t *testing.T) {
	b := NewBook()
	t0 := time.Now()
	b.Add(order(1, KindSell, 0.70, 10, t0))

	fills, taker := b.Match(order(2, KindBuy, 0.60, 10, t0.Add(time.Second)))
	if len(fills) != 0 {
		t.Fatalf("fills=%d want 0", len(fills))
	}
	if taker.Status != models.OrderStatusOpen {
		t.Fatalf("taker status=%s want open", taker.Status)
	}
	if len(b.Bids) != 1 || b.Bids[0].ID != 2 {
		t.Fatalf("remainder not rested: bids=%+v", b.Bids)
	}
}

func TestSnapshot_SpreadAndLevels(t *testing.T) {
	b := NewBook()
	t0 := time.Now()
	b.Add(order(1, KindBuy, 0.45, 10, t0))
	b.Add(order(2, KindBuy, 0.45, 5, t0.Add(time.Second)))
	b.Add(order(3, KindBuy, 0.40, 10, t0))
	b.Add(order(4, KindSell, 0.55, 8, t0))

	snap := b.Snapshot(10)
	if snap.BestBid == nil || snap.BestBid.Cmp(decimal.NewFromFloat(0.45)) != 0 {
		t.Fatalf("bestBid=%v want 0.45", snap.BestBid)
	}
	if snap.BestAsk == nil || snap.BestAsk.Cmp(decimal.NewFromFloat(0.55)) != 0 {
		t.Fatalf("bestAsk=%v want 0.55", snap.BestAsk)
	}
	if snap.Spread == nil || snap.Spread.Cmp(decimal.NewFromFloat(0.10)) != 0 {
		t.Fatalf("spread=%v want 0.10", snap.Spread)
	}
	if len(snap.Bids) != 2 || snap.Bids[0].Size.Cmp(decimal.NewFromInt(15)) != 0 {
		t.Fatalf("bid levels=%+v want 0.45 aggregated to 15", snap.Bids)
	}
}

func TestExpireMarket_NothingMatchableAfter(t *testing.T) {
	m := NewManager()
	t0 := time.Now()
	m.Add(order(1, KindSell, 0.50, 10, t0))
	m.Add(order(2, KindBuy, 0.30, 10, t0))

	ids := m.ExpireMarket("m1")
	if len(ids) != 2 {
		t.Fatalf("expired=%v want both orders", ids)
	}

	fills, _ := m.Match(order(3, KindBuy, 0.99, 10, t0.Add(time.Second)))
	if len(fills) != 0 {
		t.Fatalf("matched %d fills against expired book", len(fills))
	}
}

func TestCancel(t *testing.T) {
	b := NewBook()
	b.Add(order(1, KindBuy, 0.50, 10, time.Now()))
	if !b.Cancel(1) {
		t.Fatal("cancel returned false for resting order")
	}
	if b.Cancel(1) {
		t.Fatal("cancel returned true for removed order")
	}
	if len(b.Bids) != 0 {
		t.Fatalf("bids=%d want 0", len(b.Bids))
	}
}
