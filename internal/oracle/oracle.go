// Package oracle fetches reference prices for market resolution from
// external REST sources. Fetches always carry an explicit timeout and are
// performed outside any database transaction; a per-cycle cache in the
// keeper avoids redundant calls when markets share a pair.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrNoPrice = errors.New("no price available")

// Source answers price lookups for one upstream feed. key is either an
// exchange pair ("BTCUSDT") or a token address, depending on the source.
type Source interface {
	Name() string
	FetchPrice(ctx context.Context, key string) (decimal.Decimal, error)
}

// Quote is a fetched price annotated with its origin, recorded on the
// resolution row so the fallback staleness window stays auditable.
type Quote struct {
	Price     decimal.Decimal
	Source    string
	FetchedAt time.Time
}

// TickerSource reads a spot ticker endpoint answering
// {"symbol":"BTCUSDT","price":"96012.34"}.
type TickerSource struct {
	HTTP     *http.Client
	Endpoint string
	Label    string
}

func (s *TickerSource) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "ticker"
}

func (s *TickerSource) FetchPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if pair == "" {
		return decimal.Zero, ErrNoPrice
	}
	u := s.Endpoint
	if strings.Contains(u, "?") {
		u += "&symbol=" + url.QueryEscape(pair)
	} else {
		u += "?symbol=" + url.QueryEscape(pair)
	}
	body, err := s.get(ctx, u)
	if err != nil {
		return decimal.Zero, err
	}
	var out struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, err
	}
	price, err := decimal.NewFromString(strings.TrimSpace(out.Price))
	if err != nil || !price.IsPositive() {
		return decimal.Zero, ErrNoPrice
	}
	return price, nil
}

func (s *TickerSource) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticker fetch status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

// DexSource reads a DEX aggregator token endpoint answering
// {"pairs":[{"priceUsd":"0.0123"}, ...]} keyed by BSC token address.
type DexSource struct {
	HTTP     *http.Client
	Endpoint string
	Label    string
}

func (s *DexSource) Name() string {
	if s.Label != "" {
		return s.Label
	}
	return "dex"
}

func (s *DexSource) FetchPrice(ctx context.Context, tokenAddress string) (decimal.Decimal, error) {
	tokenAddress = strings.TrimSpace(tokenAddress)
	if tokenAddress == "" {
		return decimal.Zero, ErrNoPrice
	}
	u := strings.TrimRight(s.Endpoint, "/") + "/" + url.PathEscape(tokenAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	client := s.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("dex fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, err
	}
	var out struct {
		Pairs []struct {
			PriceUSD string `json:"priceUsd"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return decimal.Zero, err
	}
	for _, p := range out.Pairs {
		price, err := decimal.NewFromString(strings.TrimSpace(p.PriceUSD))
		if err == nil && price.IsPositive() {
			return price, nil
		}
	}
	return decimal.Zero, ErrNoPrice
}

// Chain tries sources in order and returns the first answer. The fallback
// is only consulted when the primary errors; no cross-source consistency
// check is attempted.
type Chain struct {
	Sources []Source
	Logger  *zap.Logger
}

func (c *Chain) FetchPrice(ctx context.Context, key string) (Quote, error) {
	var lastErr error = ErrNoPrice
	for _, src := range c.Sources {
		price, err := src.FetchPrice(ctx, key)
		if err == nil {
			return Quote{Price: price, Source: src.Name(), FetchedAt: time.Now().UTC()}, nil
		}
		lastErr = err
		if c.Logger != nil {
			c.Logger.Warn("oracle source failed",
				zap.String("source", src.Name()),
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}
	return Quote{}, lastErr
}
