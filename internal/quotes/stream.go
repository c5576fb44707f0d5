package quotes

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxsentry/fxsentry/internal/observ"
)

// PriceUpdate is one normalized tick republished from the stream.
type PriceUpdate struct {
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	ObservedAt time.Time `json:"observed_at"`
}

// StreamConfig holds configuration for the streaming ingestion client
type StreamConfig struct {
	StreamURL   string        // streaming host, e.g. https://stream-fxpractice.oanda.com
	AccountID   string
	Token       string
	BaseDelay   time.Duration // linear backoff unit between reconnect attempts
	MaxRetries  int           // consecutive failures before the retry loop gives up
	StopTimeout time.Duration // bounded wait for the loop to unwind on Stop
}

// StreamClient maintains one long-lived request against the provider's
// pricing stream, parses newline-delimited JSON messages, and fans out
// normalized PriceUpdate events to subscribers in arrival order.
//
// IsRunning reflects whether the retry loop is active, not whether the
// socket is currently connected; connection state is published through the
// status subscribers.
type StreamClient struct {
	config StreamConfig
	client *http.Client

	mu      sync.Mutex // serializes Start/Stop/UpdateSymbols
	symbols map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}

	running   int32  // atomic: retry loop active
	connected int32  // atomic: connection currently up
	gen       uint64 // atomic: loop generation, bumped on every start

	subMu      sync.RWMutex
	priceSubs  []func(PriceUpdate)
	statusSubs []func(bool)

	// Metrics
	retryCount       int64
	reconnects       int64
	messagesReceived int64
	parseErrors      int64
}

// NewStreamClient creates a streaming client. It fails fast on missing
// credentials so a misconfigured source never spins a doomed retry loop.
func NewStreamClient(config StreamConfig) (*StreamClient, error) {
	if config.StreamURL == "" {
		return nil, NewConfigError("stream URL is required")
	}
	if config.Token == "" {
		return nil, NewConfigError("stream API token is required")
	}
	if config.AccountID == "" {
		return nil, NewConfigError("stream account id is required")
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 5 * time.Second
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 10
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 3 * time.Second
	}

	return &StreamClient{
		config:  config,
		symbols: make(map[string]struct{}),
		// No overall client timeout: the stream body is read for the
		// connection's whole lifetime, bounded only by provider heartbeats
		// and context cancellation.
		client: &http.Client{},
	}, nil
}

// OnPriceUpdate registers a subscriber for normalized ticks. Subscribers
// register once at startup; fan-out is synchronous per message, preserving
// per-connection order.
func (c *StreamClient) OnPriceUpdate(fn func(PriceUpdate)) {
	c.subMu.Lock()
	c.priceSubs = append(c.priceSubs, fn)
	c.subMu.Unlock()
}

// OnConnectionStatus registers a subscriber for connection up/down events.
func (c *StreamClient) OnConnectionStatus(fn func(bool)) {
	c.subMu.Lock()
	c.statusSubs = append(c.statusSubs, fn)
	c.subMu.Unlock()
}

// Start spawns the supervised read loop for the given symbol set.
func (c *StreamClient) Start(symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(symbols)
}

func (c *StreamClient) startLocked(symbols []string) error {
	// A non-nil cancel with an open done channel means an active loop. A
	// loop that exited on its own (retries exhausted) is restartable, and a
	// stopped loop that outlived its StopTimeout does not block a restart;
	// the generation check keeps the latter from touching the new loop's
	// state.
	if c.cancel != nil {
		select {
		case <-c.done:
			c.cancel()
			c.cancel = nil
		default:
			return fmt.Errorf("stream client already running")
		}
	}

	c.symbols = symbolSet(symbols)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	gen := atomic.AddUint64(&c.gen, 1)

	atomic.StoreInt32(&c.running, 1)
	observ.SetGauge("stream_running", 1, nil)

	go c.consumeLoop(ctx, symbolList(c.symbols), done, gen)
	return nil
}

// Stop cancels the loop cooperatively and waits briefly for it to unwind.
// It always emits a connection-down status event.
func (c *StreamClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *StreamClient) stopLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil

	select {
	case <-c.done:
	case <-time.After(c.config.StopTimeout):
		// A slow unwind is logged, not escalated.
		observ.Log("stream_stop_timeout", map[string]any{
			"timeout_ms": c.config.StopTimeout.Milliseconds(),
		})
	}
	// Stop always reports the connection down, even if the loop already did.
	atomic.StoreInt32(&c.connected, 0)
	c.emitStatus(false)
}

// UpdateSymbols replaces the subscription set. Idempotent under
// set-equality: an identical set performs zero reconnects. The protocol has
// no incremental-subscribe primitive, so a real change is a full
// stop-and-restart with the new set.
func (c *StreamClient) UpdateSymbols(symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := symbolSet(symbols)
	if symbolSetEqual(c.symbols, next) {
		return nil
	}

	observ.Log("stream_symbols_changed", map[string]any{
		"from": symbolList(c.symbols),
		"to":   symbolList(next),
	})

	if atomic.LoadInt32(&c.running) == 1 {
		c.stopLocked()
		return c.startLocked(symbolList(next))
	}
	c.symbols = next
	return nil
}

// IsRunning reports whether the retry loop is active.
func (c *StreamClient) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

// Symbols returns the current subscription set.
func (c *StreamClient) Symbols() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return symbolList(c.symbols)
}

// consumeLoop supervises the long-lived connection with linear backoff.
// The delay after the n-th consecutive failure is n × BaseDelay; a
// successful connection resets the counter. After MaxRetries consecutive
// failures the loop exits and IsRunning turns false, a fatal condition the
// orchestrator observes through the status stream.
func (c *StreamClient) consumeLoop(ctx context.Context, symbols []string, done chan struct{}, gen uint64) {
	defer func() {
		// A loop that outlived its StopTimeout may unwind after a newer
		// loop has started; only the current generation owns the flag.
		if atomic.LoadUint64(&c.gen) == gen {
			atomic.StoreInt32(&c.running, 0)
			observ.SetGauge("stream_running", 0, nil)
		}
		close(done)
	}()

	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.connectAndConsume(ctx, symbols, &retries)
		if atomic.LoadUint64(&c.gen) == gen {
			c.setConnected(false)
		}
		if ctx.Err() != nil {
			return
		}

		retries++
		atomic.StoreInt64(&c.retryCount, int64(retries))
		atomic.AddInt64(&c.reconnects, 1)
		observ.IncCounter("stream_reconnects_total", nil)

		if retries > c.config.MaxRetries {
			observ.Log("stream_retries_exhausted", map[string]any{
				"retries": retries - 1,
				"error":   err.Error(),
			})
			return
		}

		delay := time.Duration(retries) * c.config.BaseDelay
		observ.Log("stream_reconnect_scheduled", map[string]any{
			"attempt":  retries,
			"delay_ms": delay.Milliseconds(),
			"error":    err.Error(),
		})

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndConsume opens one pricing-stream request and reads it until the
// connection ends or the context is cancelled. The retry counter resets as
// soon as the provider accepts the connection.
func (c *StreamClient) connectAndConsume(ctx context.Context, symbols []string, retries *int) error {
	endpoint := fmt.Sprintf("%s/v3/accounts/%s/pricing/stream?instruments=%s",
		strings.TrimRight(c.config.StreamURL, "/"),
		url.PathEscape(c.config.AccountID),
		url.QueryEscape(InstrumentList(symbols)))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return NewNetworkError("", "create stream request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.client.Do(req)
	if err != nil {
		return NewNetworkError("", "stream request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return NewProviderError("", fmt.Sprintf("stream HTTP %d: %s", resp.StatusCode, string(body)), nil)
	}

	*retries = 0
	atomic.StoreInt64(&c.retryCount, 0)
	c.setConnected(true)
	observ.Log("stream_connected", map[string]any{"instruments": len(symbols)})

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.handleLine(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return NewNetworkError("", "stream read", err)
	}
	return NewNetworkError("", "stream ended", io.ErrUnexpectedEOF)
}

// streamMessage is the shared envelope of every line on the wire.
type streamMessage struct {
	Type string `json:"type"`
}

type priceBucket struct {
	Price string `json:"price"`
}

type streamPrice struct {
	Instrument string        `json:"instrument"`
	Time       string        `json:"time"`
	Bids       []priceBucket `json:"bids"`
	Asks       []priceBucket `json:"asks"`
}

// handleLine dispatches one newline-delimited message. A single malformed
// line never aborts the stream.
func (c *StreamClient) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}

	var msg streamMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		atomic.AddInt64(&c.parseErrors, 1)
		observ.IncCounter("stream_parse_errors_total", nil)
		observ.Log("stream_malformed_line", map[string]any{"error": err.Error()})
		return
	}

	switch msg.Type {
	case "PRICE":
		c.handlePrice(line)
	case "HEARTBEAT":
		// Proof of liveness only.
	default:
		observ.Log("stream_unknown_message", map[string]any{"type": msg.Type})
	}
}

func (c *StreamClient) handlePrice(line []byte) {
	var p streamPrice
	if err := json.Unmarshal(line, &p); err != nil {
		atomic.AddInt64(&c.parseErrors, 1)
		observ.IncCounter("stream_parse_errors_total", nil)
		observ.Log("stream_malformed_price", map[string]any{"error": err.Error()})
		return
	}
	if len(p.Bids) == 0 || len(p.Asks) == 0 {
		atomic.AddInt64(&c.parseErrors, 1)
		observ.Log("stream_empty_price", map[string]any{"instrument": p.Instrument})
		return
	}

	bid, errB := strconv.ParseFloat(p.Bids[0].Price, 64)
	ask, errA := strconv.ParseFloat(p.Asks[0].Price, 64)
	if errB != nil || errA != nil {
		atomic.AddInt64(&c.parseErrors, 1)
		observ.Log("stream_bad_price_value", map[string]any{"instrument": p.Instrument})
		return
	}

	observedAt, err := time.Parse(time.RFC3339Nano, p.Time)
	if err != nil {
		observedAt = time.Now().UTC()
	}

	update := PriceUpdate{
		Symbol:     SymbolFor(p.Instrument),
		Bid:        bid,
		Ask:        ask,
		ObservedAt: observedAt,
	}

	atomic.AddInt64(&c.messagesReceived, 1)
	observ.IncCounter("stream_price_updates_total", map[string]string{"symbol": update.Symbol})

	c.subMu.RLock()
	subs := c.priceSubs
	c.subMu.RUnlock()
	for _, fn := range subs {
		fn(update)
	}
}

func (c *StreamClient) setConnected(up bool) {
	var v int32
	if up {
		v = 1
	}
	if atomic.SwapInt32(&c.connected, v) == v {
		return
	}
	c.emitStatus(up)
}

func (c *StreamClient) emitStatus(up bool) {
	gauge := 0.0
	if up {
		gauge = 1
	}
	observ.SetGauge("stream_connected", gauge, nil)

	c.subMu.RLock()
	subs := c.statusSubs
	c.subMu.RUnlock()
	for _, fn := range subs {
		fn(up)
	}
}

// GetMetrics returns current client metrics
func (c *StreamClient) GetMetrics() map[string]any {
	return map[string]any{
		"running":           c.IsRunning(),
		"connected":         atomic.LoadInt32(&c.connected) == 1,
		"retry_count":       atomic.LoadInt64(&c.retryCount),
		"reconnects":        atomic.LoadInt64(&c.reconnects),
		"messages_received": atomic.LoadInt64(&c.messagesReceived),
		"parse_errors":      atomic.LoadInt64(&c.parseErrors),
	}
}

func symbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

func symbolList(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func symbolSetEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for s := range a {
		if _, ok := b[s]; !ok {
			return false
		}
	}
	return true
}
