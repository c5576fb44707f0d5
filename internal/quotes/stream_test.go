package quotes

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStreamConfig(url string) StreamConfig {
	return StreamConfig{
		StreamURL:   url,
		AccountID:   "test-account",
		Token:       "test-token",
		BaseDelay:   5 * time.Millisecond,
		MaxRetries:  3,
		StopTimeout: time.Second,
	}
}

// streamHandler writes the given lines once per connection and then keeps
// the connection open until the client goes away.
func streamHandler(connects *int64, lines []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(connects, 1)
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		flusher.Flush()
		<-r.Context().Done()
	}
}

func TestStreamClient_NormalizesPriceLines(t *testing.T) {
	var connects int64
	server := httptest.NewServer(streamHandler(&connects, []string{
		`{"type":"HEARTBEAT","time":"2026-08-29T12:00:00.000000000Z"}`,
		`{"type":"PRICE","instrument":"EUR_USD","time":"2026-08-29T12:00:01.000000000Z","bids":[{"price":"1.09990"}],"asks":[{"price":"1.10010"}]}`,
		`this is not json`,
		`{"type":"PRICE","instrument":"EUR_USD","time":"2026-08-29T12:00:02.000000000Z","bids":[{"price":"1.10990"}],"asks":[{"price":"1.11010"}]}`,
	}))
	defer server.Close()

	client, err := NewStreamClient(testStreamConfig(server.URL))
	require.NoError(t, err)

	updates := make(chan PriceUpdate, 16)
	client.OnPriceUpdate(func(u PriceUpdate) { updates <- u })

	require.NoError(t, client.Start([]string{"EURUSD"}))
	defer client.Stop()

	first := waitForUpdate(t, updates)
	assert.Equal(t, "EURUSD", first.Symbol)
	assert.InDelta(t, 1.0999, first.Bid, 1e-9)
	assert.InDelta(t, 1.1001, first.Ask, 1e-9)
	assert.Equal(t, 2026, first.ObservedAt.Year())

	// The malformed line in between was skipped, not fatal.
	second := waitForUpdate(t, updates)
	assert.InDelta(t, 1.1099, second.Bid, 1e-9)
}

func TestStreamClient_StopEmitsDisconnected(t *testing.T) {
	var connects int64
	server := httptest.NewServer(streamHandler(&connects, nil))
	defer server.Close()

	client, err := NewStreamClient(testStreamConfig(server.URL))
	require.NoError(t, err)

	statuses := make(chan bool, 16)
	client.OnConnectionStatus(func(up bool) { statuses <- up })

	require.NoError(t, client.Start([]string{"EURUSD"}))
	require.True(t, waitForStatus(t, statuses)) // connected

	client.Stop()
	assert.False(t, waitForStatus(t, statuses))
	assert.False(t, client.IsRunning())
}

func TestStreamClient_UpdateSymbolsSameSetIsNoop(t *testing.T) {
	var connects int64
	server := httptest.NewServer(streamHandler(&connects, nil))
	defer server.Close()

	client, err := NewStreamClient(testStreamConfig(server.URL))
	require.NoError(t, err)

	statuses := make(chan bool, 16)
	client.OnConnectionStatus(func(up bool) { statuses <- up })

	require.NoError(t, client.Start([]string{"EURUSD", "GBPJPY"}))
	defer client.Stop()
	require.True(t, waitForStatus(t, statuses))

	// Same set, different order and case: zero reconnects.
	require.NoError(t, client.UpdateSymbols([]string{"gbpjpy", "EURUSD"}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), atomic.LoadInt64(&connects))

	// A real change reconnects with the new set.
	require.NoError(t, client.UpdateSymbols([]string{"EURUSD"}))
	require.False(t, waitForStatus(t, statuses)) // down during restart
	waitForReconnect(t, statuses)
	assert.Equal(t, int64(2), atomic.LoadInt64(&connects))
	assert.ElementsMatch(t, []string{"EURUSD"}, client.Symbols())
}

func TestStreamClient_RetriesExhaustedStopsRunning(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testStreamConfig(server.URL)
	cfg.MaxRetries = 2
	cfg.BaseDelay = time.Millisecond

	client, err := NewStreamClient(cfg)
	require.NoError(t, err)
	require.NoError(t, client.Start([]string{"EURUSD"}))

	deadline := time.Now().Add(2 * time.Second)
	for client.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, client.IsRunning())
}

func TestStreamClient_LinearBackoffAndCounterReset(t *testing.T) {
	const base = 100 * time.Millisecond

	var mu sync.Mutex
	var attempts []time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()

		if n <= 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := testStreamConfig(server.URL)
	cfg.BaseDelay = base

	client, err := NewStreamClient(cfg)
	require.NoError(t, err)

	statuses := make(chan bool, 16)
	client.OnConnectionStatus(func(up bool) { statuses <- up })

	require.NoError(t, client.Start([]string{"EURUSD"}))
	defer client.Stop()

	waitForReconnect(t, statuses) // 4th attempt succeeds

	mu.Lock()
	require.Len(t, attempts, 4)
	gaps := make([]time.Duration, 3)
	for i := range gaps {
		gaps[i] = attempts[i+1].Sub(attempts[i])
	}
	mu.Unlock()

	// The n-th consecutive failure waits n x base: 1x, 2x, 3x. The upper
	// bound is tight enough to rule out constant or exponential schedules.
	for i, gap := range gaps {
		want := time.Duration(i+1) * base
		assert.GreaterOrEqual(t, gap, want, "gap %d", i+1)
		assert.Less(t, gap, want+80*time.Millisecond, "gap %d", i+1)
	}

	// The counter resets as soon as the provider accepts a connection.
	assert.Equal(t, int64(0), client.GetMetrics()["retry_count"])
}

func TestStreamClient_RestartAfterSlowStop(t *testing.T) {
	var connects int64
	server := httptest.NewServer(streamHandler(&connects, []string{
		`{"type":"PRICE","instrument":"EUR_USD","time":"2026-08-29T12:00:01Z","bids":[{"price":"1.09990"}],"asks":[{"price":"1.10010"}]}`,
	}))
	defer server.Close()

	cfg := testStreamConfig(server.URL)
	cfg.StopTimeout = 20 * time.Millisecond

	client, err := NewStreamClient(cfg)
	require.NoError(t, err)

	// A subscriber that refuses to return pins the read loop past the stop
	// timeout.
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	client.OnPriceUpdate(func(u PriceUpdate) {
		entered <- struct{}{}
		<-release
	})

	require.NoError(t, client.Start([]string{"EURUSD"}))
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never saw a price update")
	}

	// Stop times out with the old loop still unwinding; a restart with a
	// new symbol set must succeed anyway.
	client.Stop()
	require.NoError(t, client.Start([]string{"GBPJPY"}))
	defer client.Stop()

	// Once the stale loop finally unwinds it must not clear the new loop's
	// running flag.
	close(release)
	time.Sleep(100 * time.Millisecond)
	assert.True(t, client.IsRunning())
	assert.ElementsMatch(t, []string{"GBPJPY"}, client.Symbols())
}

func TestNewStreamClient_RequiresCredentials(t *testing.T) {
	_, err := NewStreamClient(StreamConfig{StreamURL: "http://localhost"})
	require.Error(t, err)

	var qerr *QuoteError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "config", qerr.Type)
}

func waitForUpdate(t *testing.T, ch chan PriceUpdate) PriceUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for price update")
		return PriceUpdate{}
	}
}

// waitForReconnect drains status events until the connection is back up.
// Teardown can emit more than one down event, so the count is not asserted.
func waitForReconnect(t *testing.T, ch chan bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case up := <-ch:
			if up {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reconnect")
		}
	}
}

func waitForStatus(t *testing.T, ch chan bool) bool {
	t.Helper()
	select {
	case up := <-ch:
		return up
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status event")
		return false
	}
}
