package quotes

import (
	"context"

	"github.com/fxsentry/fxsentry/internal/observ"
)

// PollingSource is the synchronous request/response side of a provider.
type PollingSource interface {
	GetQuote(ctx context.Context, symbol string) (*PriceQuote, error)
}

// Router chooses how price lookups are served for the configured source.
// A streaming-capable source is served cache-first: a miss triggers a single
// synchronous poll whose result populates the cache before returning, so
// many rules on the same symbol share one upstream call. A source without
// streaming always polls.
type Router struct {
	cache     *PriceCache
	poller    PollingSource
	streaming bool
}

func NewRouter(cache *PriceCache, poller PollingSource, streaming bool) *Router {
	return &Router{cache: cache, poller: poller, streaming: streaming}
}

// GetPrice returns the current quote for the symbol.
func (r *Router) GetPrice(ctx context.Context, symbol string) (*PriceQuote, error) {
	if r.streaming {
		if quote := r.cache.GetCached(symbol); quote != nil {
			return quote, nil
		}

		quote, err := r.poller.GetQuote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		r.cache.Update(symbol, *quote)
		observ.IncCounter("router_cache_fills_total", map[string]string{"symbol": symbol})
		return quote, nil
	}

	return r.poller.GetQuote(ctx, symbol)
}
