package pricecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/model"
)

// Fetcher retrieves a live quote from the broker on cache miss.
type Fetcher func(ctx context.Context, symbol string, priceType string) (decimal.Decimal, error)

type entry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Cache is a per-account TTL price cache. It is a field on the owning
// account/orderbook instance, never package-global state, so two accounts
// trading the same symbol never share quotes.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	fetch   Fetcher
	now     func() time.Time
}

// New builds a cache with the given TTL and broker fetch function.
func New(ttl time.Duration, fetch Fetcher) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{
		entries: map[string]entry{},
		ttl:     ttl,
		fetch:   fetch,
		now:     time.Now,
	}
}

// key is SYMBOL:priceType, never the symbol alone: bid and ask must not
// collide.
func key(symbol, priceType string) string {
	return fmt.Sprintf("%s:%s", symbol, priceType)
}

// GetPrice returns a cached quote, fetching from the broker when the entry
// is missing or stale. Mid is computed as (bid+ask)/2 and cached under its
// own key.
func (c *Cache) GetPrice(ctx context.Context, symbol string, priceType string) (decimal.Decimal, error) {
	if cached, ok := c.lookup(symbol, priceType); ok {
		return cached, nil
	}

	if priceType == model.PriceTypeMid {
		return c.fetchMid(ctx, symbol)
	}

	price, err := c.fetch(ctx, symbol, priceType)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch %s %s: %w", symbol, priceType, err)
	}

	c.Put(symbol, priceType, price)
	return price, nil
}

// Put stores a quote, e.g. from the streaming feed.
func (c *Cache) Put(symbol, priceType string, price decimal.Decimal) {
	c.mu.Lock()
	c.entries[key(symbol, priceType)] = entry{price: price, fetchedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops all cached quotes for a symbol.
func (c *Cache) Invalidate(symbol string) {
	c.mu.Lock()
	for _, pt := range []string{model.PriceTypeBid, model.PriceTypeAsk, model.PriceTypeMid} {
		delete(c.entries, key(symbol, pt))
	}
	c.mu.Unlock()
}

func (c *Cache) lookup(symbol, priceType string) (decimal.Decimal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key(symbol, priceType)]
	if !ok {
		return decimal.Zero, false
	}
	if c.now().Sub(e.fetchedAt) > c.ttl {
		delete(c.entries, key(symbol, priceType))
		return decimal.Zero, false
	}
	return e.price, true
}

func (c *Cache) fetchMid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	bid, err := c.GetPrice(ctx, symbol, model.PriceTypeBid)
	if err != nil {
		return decimal.Zero, err
	}
	ask, err := c.GetPrice(ctx, symbol, model.PriceTypeAsk)
	if err != nil {
		return decimal.Zero, err
	}

	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	c.Put(symbol, model.PriceTypeMid, mid)

	logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"bid":    bid.String(),
		"ask":    ask.String(),
		"mid":    mid.String(),
	}).Debug("mid price computed")

	return mid, nil
}
