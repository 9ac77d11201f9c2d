// Package orderbook maintains resting limit orders per (market, side) and
// matches incoming orders by price-time priority.
package orderbook

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"flippredict/internal/models"
)

const (
	KindBuy  = "buy"
	KindSell = "sell"
)

// Fill is one execution against a resting order.
type Fill struct {
	MakerOrderID uint64
	Price        decimal.Decimal
	Size         decimal.Decimal
}

// Book holds the resting orders for one (market, side) pair.
// Bids are sorted highest price first, asks lowest first; within a price
// level the earliest created_at fills first.
type Book struct {
	Bids []models.OpenOrder
	Asks []models.OpenOrder
}

func NewBook() *Book {
	return &Book{}
}

// Add rests an order on the book and re-establishes the sort order.
func (b *Book) Add(o models.OpenOrder) {
	if o.Kind == KindBuy {
		b.Bids = append(b.Bids, o)
		sort.Slice(b.Bids, func(i, j int) bool {
			if b.Bids[i].Price.Equal(b.Bids[j].Price) {
				return b.Bids[i].CreatedAt.Before(b.Bids[j].CreatedAt)
			}
			return b.Bids[i].Price.GreaterThan(b.Bids[j].Price)
		})
		return
	}
	b.Asks = append(b.Asks, o)
	sort.Slice(b.Asks, func(i, j int) bool {
		if b.Asks[i].Price.Equal(b.Asks[j].Price) {
			return b.Asks[i].CreatedAt.Before(b.Asks[j].CreatedAt)
		}
		return b.Asks[i].Price.LessThan(b.Asks[j].Price)
	})
}

// Match consumes resting orders at the best available price until the
// incoming order is filled or nothing marketable remains. Partially filled
// resting orders keep their reduced remaining size; fully filled ones flip
// to filled. The (possibly reduced) incoming order is returned; a remainder
// with Remaining > 0 is rested on the book.
func (b *Book) Match(incoming models.OpenOrder) ([]Fill, models.OpenOrder) {
	var fills []Fill

	if incoming.Kind == KindBuy {
		for i := range b.Asks {
			if !incoming.Remaining.IsPositive() {
				break
			}
			maker := &b.Asks[i]
			if maker.Status != models.OrderStatusOpen {
				continue
			}
			if maker.Price.GreaterThan(incoming.Price) {
				break
			}
			size := decimal.Min(incoming.Remaining, maker.Remaining)
			fills = append(fills, Fill{MakerOrderID: maker.ID, Price: maker.Price, Size: size})
			incoming.Remaining = incoming.Remaining.Sub(size)
			maker.Remaining = maker.Remaining.Sub(size)
			if !maker.Remaining.IsPositive() {
				maker.Status = models.OrderStatusFilled
			}
		}
	} else {
		for i := range b.Bids {
			if !incoming.Remaining.IsPositive() {
				break
			}
			maker := &b.Bids[i]
			if maker.Status != models.OrderStatusOpen {
				continue
			}
			if maker.Price.LessThan(incoming.Price) {
				break
			}
			size := decimal.Min(incoming.Remaining, maker.Remaining)
			fills = append(fills, Fill{MakerOrderID: maker.ID, Price: maker.Price, Size: size})
			incoming.Remaining = incoming.Remaining.Sub(size)
			maker.Remaining = maker.Remaining.Sub(size)
			if !maker.Remaining.IsPositive() {
				maker.Status = models.OrderStatusFilled
			}
		}
	}

	b.compact()

	if incoming.Remaining.IsPositive() {
		b.Add(incoming)
	} else {
		incoming.Status = models.OrderStatusFilled
	}
	return fills, incoming
}

// Cancel removes the order with the given id. Returns false if not resting.
func (b *Book) Cancel(orderID uint64) bool {
	for i := range b.Bids {
		if b.Bids[i].ID == orderID {
			b.Bids[i].Status = models.OrderStatusCancelled
			b.compact()
			return true
		}
	}
	for i := range b.Asks {
		if b.Asks[i].ID == orderID {
			b.Asks[i].Status = models.OrderStatusCancelled
			b.compact()
			return true
		}
	}
	return false
}

// Expire flips every resting order to expired and empties the book.
// Called when the market resolves; nothing can match afterwards.
func (b *Book) Expire() []uint64 {
	ids := make([]uint64, 0, len(b.Bids)+len(b.Asks))
	for _, o := range b.Bids {
		ids = append(ids, o.ID)
	}
	for _, o := range b.Asks {
		ids = append(ids, o.ID)
	}
	b.Bids = nil
	b.Asks = nil
	return ids
}

func (b *Book) compact() {
	open := b.Bids[:0]
	for _, o := range b.Bids {
		if o.Status == models.OrderStatusOpen && o.Remaining.IsPositive() {
			open = append(open, o)
		}
	}
	b.Bids = open

	openAsks := b.Asks[:0]
	for _, o := range b.Asks {
		if o.Status == models.OrderStatusOpen && o.Remaining.IsPositive() {
			openAsks = append(openAsks, o)
		}
	}
	b.Asks = openAsks
}

// Level is one aggregated price level of a snapshot.
type Level struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Snapshot is the UI view of a book: best bid/ask, spread, and depth.
type Snapshot struct {
	Bids    []Level          `json:"bids"`
	Asks    []Level          `json:"asks"`
	BestBid *decimal.Decimal `json:"bestBid,omitempty"`
	BestAsk *decimal.Decimal `json:"bestAsk,omitempty"`
	Spread  *decimal.Decimal `json:"spread,omitempty"`
}

// Snapshot aggregates resting orders into price levels, best first.
func (b *Book) Snapshot(depth int) Snapshot {
	snap := Snapshot{
		Bids: aggregate(b.Bids, depth),
		Asks: aggregate(b.Asks, depth),
	}
	if len(snap.Bids) > 0 {
		snap.BestBid = &snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = &snap.Asks[0].Price
	}
	if snap.BestBid != nil && snap.BestAsk != nil {
		spread := snap.BestAsk.Sub(*snap.BestBid)
		snap.Spread = &spread
	}
	return snap
}

func aggregate(orders []models.OpenOrder, depth int) []Level {
	levels := []Level{}
	for _, o := range orders {
		if len(levels) > 0 && levels[len(levels)-1].Price.Equal(o.Price) {
			levels[len(levels)-1].Size = levels[len(levels)-1].Size.Add(o.Remaining)
			continue
		}
		if depth > 0 && len(levels) == depth {
			break
		}
		levels = append(levels, Level{Price: o.Price, Size: o.Remaining})
	}
	return levels
}

// Manager owns one book per (market, side) behind a mutex.
type Manager struct {
	mu    sync.Mutex
	books map[string]*Book
}

func NewManager() *Manager {
	return &Manager{books: map[string]*Book{}}
}

func bookKey(marketID, side string) string {
	return marketID + "|" + side
}

func (m *Manager) book(marketID, side string) *Book {
	key := bookKey(marketID, side)
	b, ok := m.books[key]
	if !ok {
		b = NewBook()
		m.books[key] = b
	}
	return b
}

func (m *Manager) Add(o models.OpenOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.book(o.MarketID, o.Side).Add(o)
}

func (m *Manager) Match(o models.OpenOrder) ([]Fill, models.OpenOrder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book(o.MarketID, o.Side).Match(o)
}

func (m *Manager) Cancel(marketID, side string, orderID uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book(marketID, side).Cancel(orderID)
}

func (m *Manager) Snapshot(marketID, side string, depth int) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book(marketID, side).Snapshot(depth)
}

// ExpireMarket empties both side books of a resolved market and returns the
// ids of every order that was still resting.
func (m *Manager) ExpireMarket(marketID string) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uint64
	for _, side := range []string{models.SideYes, models.SideNo} {
		if b, ok := m.books[bookKey(marketID, side)]; ok {
			ids = append(ids, b.Expire()...)
		}
	}
	return ids
}
