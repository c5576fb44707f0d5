package quotes

import (
	"sync"

	"github.com/fxsentry/fxsentry/internal/observ"
)

// PriceCache is a thread-safe last-known-quote store per symbol.
// Last writer wins per symbol key; entries are never evicted because callers
// treat a miss as "go fetch" and a stale entry is acceptable for alerting.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]PriceQuote
}

func NewPriceCache() *PriceCache {
	return &PriceCache{
		entries: make(map[string]PriceQuote),
	}
}

// Update replaces the cached quote for the symbol. Concurrent writers from
// the streaming client and polling fallbacks are both valid; the latest
// write wins regardless of source.
func (c *PriceCache) Update(symbol string, quote PriceQuote) {
	c.mu.Lock()
	c.entries[symbol] = quote
	c.mu.Unlock()
}

// GetCached returns a copy of the last quote for the symbol, or nil when the
// symbol has never been updated.
func (c *PriceCache) GetCached(symbol string) *PriceQuote {
	c.mu.RLock()
	quote, ok := c.entries[symbol]
	c.mu.RUnlock()

	if !ok {
		observ.IncCounter("price_cache_misses_total", nil)
		return nil
	}
	observ.IncCounter("price_cache_hits_total", nil)
	return &quote
}

// Len returns the number of cached symbols.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
