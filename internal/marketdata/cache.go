package marketdata

import (
	"sync"
	"time"
)

// PriceCache holds the last traded price per symbol, fed by the websocket
// stream and read by the engine and the simulation broker.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

type pricePoint struct {
	px float64
	at time.Time
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

func (c *PriceCache) Set(symbol string, px float64, at time.Time) {
	if px <= 0 {
		return
	}
	c.mu.Lock()
	c.prices[symbol] = pricePoint{px: px, at: at}
	c.mu.Unlock()
}

func (c *PriceCache) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok {
		return 0, false
	}
	return p.px, true
}

// Age reports how stale the cached price is.
func (c *PriceCache) Age(symbol string, now time.Time) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[symbol]
	if !ok {
		return 0, false
	}
	return now.Sub(p.at), true
}
