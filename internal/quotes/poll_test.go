package quotes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPollConfig(url string) PollingConfig {
	return PollingConfig{
		RestURL:            url,
		AccountID:          "test-account",
		Token:              "test-token",
		RateLimitPerSecond: 1000,
		MaxRetries:         2,
		BackoffBaseMs:      1,
	}
}

func TestPollingAdapter_GetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "EUR_USD", r.URL.Query().Get("instruments"))
		fmt.Fprint(w, `{"prices":[{"instrument":"EUR_USD","time":"2026-08-29T12:00:00.000000000Z","bids":[{"price":"1.09990"}],"asks":[{"price":"1.10010"}]}]}`)
	}))
	defer server.Close()

	adapter, err := NewPollingAdapter(testPollConfig(server.URL))
	require.NoError(t, err)

	quote, err := adapter.GetQuote(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", quote.Symbol)
	assert.InDelta(t, 1.0999, quote.Bid, 1e-9)
	assert.InDelta(t, 1.1001, quote.Ask, 1e-9)
	assert.Equal(t, "poll", quote.Source)
}

func TestPollingAdapter_RateLimitedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	adapter, err := NewPollingAdapter(testPollConfig(server.URL))
	require.NoError(t, err)

	_, err = adapter.GetQuote(context.Background(), "EURUSD")
	require.Error(t, err)

	var qerr *QuoteError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "rate_limit", qerr.Type)
}

func TestPollingAdapter_RetriesServerErrors(t *testing.T) {
	var hits int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"prices":[{"instrument":"EUR_USD","time":"2026-08-29T12:00:00Z","bids":[{"price":"1.09990"}],"asks":[{"price":"1.10010"}]}]}`)
	}))
	defer server.Close()

	adapter, err := NewPollingAdapter(testPollConfig(server.URL))
	require.NoError(t, err)

	quote, err := adapter.GetQuote(context.Background(), "EURUSD")
	require.NoError(t, err)
	assert.InDelta(t, 1.0999, quote.Bid, 1e-9)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestPollingAdapter_RejectsCrossedQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"prices":[{"instrument":"EUR_USD","time":"2026-08-29T12:00:00Z","bids":[{"price":"1.20000"}],"asks":[{"price":"1.10010"}]}]}`)
	}))
	defer server.Close()

	adapter, err := NewPollingAdapter(testPollConfig(server.URL))
	require.NoError(t, err)

	_, err = adapter.GetQuote(context.Background(), "EURUSD")
	require.Error(t, err)
}

func TestCandlesAdapter_FiltersIncompleteCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/instruments/EUR_USD/candles", r.URL.Path)
		assert.Equal(t, "M5", r.URL.Query().Get("granularity"))
		fmt.Fprint(w, `{"candles":[
			{"complete":true,"time":"2026-08-29T11:50:00Z","mid":{"o":"1.0990","h":"1.0995","l":"1.0985","c":"1.0992"}},
			{"complete":true,"time":"2026-08-29T11:55:00Z","mid":{"o":"1.0992","h":"1.0999","l":"1.0990","c":"1.0998"}},
			{"complete":false,"time":"2026-08-29T12:00:00Z","mid":{"o":"1.0998","h":"1.1002","l":"1.0996","c":"1.1001"}}
		]}`)
	}))
	defer server.Close()

	adapter, err := NewCandlesAdapter(testPollConfig(server.URL))
	require.NoError(t, err)

	bars, err := adapter.GetRecentBars(context.Background(), "EURUSD", "M5", 5)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.InDelta(t, 1.0998, bars[1].Close, 1e-9)

	latest, err := adapter.GetLatestClosedBar(context.Background(), "EURUSD", "M5")
	require.NoError(t, err)
	assert.InDelta(t, 1.0998, latest.Close, 1e-9)
}

func TestCandlesAdapter_NoClosedCandlesIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candles":[{"complete":false,"time":"2026-08-29T12:00:00Z","mid":{"o":"1.1","h":"1.1","l":"1.1","c":"1.1"}}]}`)
	}))
	defer server.Close()

	adapter, err := NewCandlesAdapter(testPollConfig(server.URL))
	require.NoError(t, err)

	_, err = adapter.GetRecentBars(context.Background(), "EURUSD", "M5", 5)
	require.Error(t, err)
}
