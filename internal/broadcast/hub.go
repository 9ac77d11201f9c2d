// Package broadcast pushes market events to websocket subscribers.
package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const (
	EventPriceUpdate    = "price_update"
	EventMarketResolved = "market_resolved"
)

// Event is the wire envelope pushed to subscribers.
type Event struct {
	Type     string          `json:"type"`
	MarketID string          `json:"marketId"`
	YesPrice decimal.Decimal `json:"yesPrice,omitempty"`
	NoPrice  decimal.Decimal `json:"noPrice,omitempty"`
	Outcome  string          `json:"outcome,omitempty"`
	At       time.Time       `json:"at"`
}

type subscriber struct {
	msgs chan []byte
}

// Hub fans events out to connected websocket clients. Slow clients are
// dropped rather than allowed to backpressure the publishers; publishing
// never blocks a trade or a resolution.
type Hub struct {
	Logger *zap.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{Logger: logger, subs: map[*subscriber]struct{}{}}
}

func (h *Hub) PublishPriceUpdate(marketID string, yesPrice, noPrice decimal.Decimal) {
	h.publish(Event{
		Type:     EventPriceUpdate,
		MarketID: marketID,
		YesPrice: yesPrice,
		NoPrice:  noPrice,
		At:       time.Now().UTC(),
	})
}

func (h *Hub) PublishMarketResolved(marketID, outcome string) {
	h.publish(Event{
		Type:     EventMarketResolved,
		MarketID: marketID,
		Outcome:  outcome,
		At:       time.Now().UTC(),
	})
}

func (h *Hub) publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.msgs <- payload:
		default:
			// Buffer full: the client is not keeping up, cut it loose.
			close(sub.msgs)
			delete(h.subs, sub)
		}
	}
}

func (h *Hub) subscribe() *subscriber {
	sub := &subscriber{msgs: make(chan []byte, 16)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.msgs)
	}
	h.mu.Unlock()
}

// SubscriberCount reports the number of connected clients.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away or falls behind.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket accept failed", zap.Error(err))
		}
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub := h.subscribe()
	defer h.unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.msgs:
			if !ok {
				conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
