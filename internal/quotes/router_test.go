package quotes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPoller struct {
	calls int
	quote *PriceQuote
	err   error
}

func (p *countingPoller) GetQuote(ctx context.Context, symbol string) (*PriceQuote, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	q := *p.quote
	return &q, nil
}

func TestRouter_StreamingServesFromCache(t *testing.T) {
	cache := NewPriceCache()
	cache.Update("EURUSD", PriceQuote{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, Source: "stream"})

	poller := &countingPoller{quote: &PriceQuote{Symbol: "EURUSD", Bid: 1.2, Ask: 1.3, Source: "poll"}}
	router := NewRouter(cache, poller, true)

	got, err := router.GetPrice(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "stream", got.Source)
	assert.Equal(t, 0, poller.calls)
}

func TestRouter_StreamingMissFillsCache(t *testing.T) {
	cache := NewPriceCache()
	poller := &countingPoller{quote: &PriceQuote{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, Source: "poll"}}
	router := NewRouter(cache, poller, true)

	got, err := router.GetPrice(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "poll", got.Source)
	assert.Equal(t, 1, poller.calls)

	// The miss populated the cache: the second lookup stays local.
	_, err = router.GetPrice(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, 1, poller.calls)
}

func TestRouter_NonStreamingAlwaysPolls(t *testing.T) {
	cache := NewPriceCache()
	cache.Update("EURUSD", PriceQuote{Symbol: "EURUSD", Bid: 1.0, Ask: 1.1, Source: "stream"})

	poller := &countingPoller{quote: &PriceQuote{Symbol: "EURUSD", Bid: 1.0999, Ask: 1.1001, Source: "poll"}}
	router := NewRouter(cache, poller, false)

	for i := 0; i < 3; i++ {
		got, err := router.GetPrice(context.Background(), "EURUSD")
		require.NoError(t, err)
		assert.Equal(t, "poll", got.Source)
	}
	assert.Equal(t, 3, poller.calls)
}

func TestRouter_PollErrorPropagates(t *testing.T) {
	poller := &countingPoller{err: NewNetworkError("EURUSD", "boom", nil)}
	router := NewRouter(NewPriceCache(), poller, true)

	_, err := router.GetPrice(context.Background(), "EURUSD")
	require.Error(t, err)
}
