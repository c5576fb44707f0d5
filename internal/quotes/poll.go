package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// PollingAdapter performs synchronous single-quote fetches against the
// provider's REST pricing endpoint. Used when streaming is unavailable or
// not configured for a source, and as the cache-fill path for the router.
type PollingAdapter struct {
	config      PollingConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// PollingConfig holds configuration for the polling adapter
type PollingConfig struct {
	RestURL            string
	AccountID          string
	Token              string
	RateLimitPerSecond float64
	TimeoutSeconds     int
	MaxRetries         int
	BackoffBaseMs      int
}

// NewPollingAdapter creates a polling adapter with rate limiting.
func NewPollingAdapter(config PollingConfig) (*PollingAdapter, error) {
	if config.RestURL == "" {
		return nil, NewConfigError("rest URL is required")
	}
	if config.Token == "" {
		return nil, NewConfigError("rest API token is required")
	}
	if config.AccountID == "" {
		return nil, NewConfigError("rest account id is required")
	}

	// Set defaults
	if config.RateLimitPerSecond <= 0 {
		config.RateLimitPerSecond = 10
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.BackoffBaseMs <= 0 {
		config.BackoffBaseMs = 250
	}

	return &PollingAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimitPerSecond), 1),
	}, nil
}

// GetQuote fetches the current quote for one symbol.
func (p *PollingAdapter) GetQuote(ctx context.Context, symbol string) (*PriceQuote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return nil, NewNetworkError(symbol, "rate limit wait cancelled", err)
	}

	endpoint := fmt.Sprintf("%s/v3/accounts/%s/pricing?instruments=%s",
		strings.TrimRight(p.config.RestURL, "/"),
		url.PathEscape(p.config.AccountID),
		url.QueryEscape(InstrumentFor(symbol)))

	body, err := p.doWithRetries(ctx, symbol, endpoint)
	if err != nil {
		return nil, err
	}

	var response struct {
		Prices []struct {
			Instrument string        `json:"instrument"`
			Time       string        `json:"time"`
			Bids       []priceBucket `json:"bids"`
			Asks       []priceBucket `json:"asks"`
		} `json:"prices"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, NewProviderError(symbol, "failed to parse pricing response", err)
	}
	if len(response.Prices) == 0 {
		return nil, NewBadSymbolError(symbol, "no price data returned")
	}

	price := response.Prices[0]
	if len(price.Bids) == 0 || len(price.Asks) == 0 {
		return nil, NewProviderError(symbol, "price without bid/ask buckets", nil)
	}

	bid, errB := strconv.ParseFloat(price.Bids[0].Price, 64)
	ask, errA := strconv.ParseFloat(price.Asks[0].Price, 64)
	if errB != nil || errA != nil {
		return nil, NewProviderError(symbol, "unparseable bid/ask", nil)
	}

	observedAt, err := time.Parse(time.RFC3339Nano, price.Time)
	if err != nil {
		observedAt = time.Now().UTC()
	}

	quote := &PriceQuote{
		Symbol:     SymbolFor(price.Instrument),
		Bid:        bid,
		Ask:        ask,
		ObservedAt: observedAt,
		Source:     "poll",
	}
	if err := ValidateQuote(quote); err != nil {
		return nil, NewProviderError(symbol, "invalid quote", err)
	}
	return quote, nil
}

// doWithRetries issues the request with linear backoff between attempts.
func (p *PollingAdapter) doWithRetries(ctx context.Context, symbol, endpoint string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(p.config.BackoffBaseMs*attempt) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, NewNetworkError(symbol, "poll cancelled", ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
		if err != nil {
			return nil, NewNetworkError(symbol, "failed to create request", err)
		}
		req.Header.Set("Authorization", "Bearer "+p.config.Token)
		req.Header.Set("Accept-Datetime-Format", "RFC3339")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = NewNetworkError(symbol, "request failed", err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = NewRateLimitError(symbol, "provider rate limit exceeded")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), nil)
			continue
		}
		if readErr != nil {
			lastErr = NewNetworkError(symbol, "read response", readErr)
			continue
		}
		return body, nil
	}
	return nil, lastErr
}
