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

// CandlesAdapter fetches historical bars from the provider's candles
// endpoint. Only candles the provider marks complete count as closed bars.
type CandlesAdapter struct {
	config      PollingConfig
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

func NewCandlesAdapter(config PollingConfig) (*CandlesAdapter, error) {
	if config.RestURL == "" {
		return nil, NewConfigError("rest URL is required")
	}
	if config.Token == "" {
		return nil, NewConfigError("rest API token is required")
	}
	if config.RateLimitPerSecond <= 0 {
		config.RateLimitPerSecond = 5
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}

	return &CandlesAdapter{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(config.RateLimitPerSecond), 1),
	}, nil
}

// GetRecentBars returns up to count closed bars for the symbol/timeframe,
// oldest first.
func (c *CandlesAdapter) GetRecentBars(ctx context.Context, symbol, timeFrame string, count int) ([]Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}
	if count <= 0 {
		count = 1
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, NewNetworkError(symbol, "rate limit wait cancelled", err)
	}

	// The provider counts the still-forming candle against the requested
	// count, so ask for one extra and filter on the complete flag.
	endpoint := fmt.Sprintf("%s/v3/instruments/%s/candles?granularity=%s&count=%d&price=M",
		strings.TrimRight(c.config.RestURL, "/"),
		url.PathEscape(InstrumentFor(symbol)),
		url.QueryEscape(timeFrame),
		count+1)

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, NewNetworkError(symbol, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewNetworkError(symbol, "candles request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)), nil)
	}

	var response struct {
		Candles []struct {
			Complete bool   `json:"complete"`
			Time     string `json:"time"`
			Mid      struct {
				O string `json:"o"`
				H string `json:"h"`
				L string `json:"l"`
				C string `json:"c"`
			} `json:"mid"`
		} `json:"candles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, NewProviderError(symbol, "failed to parse candles response", err)
	}

	bars := make([]Bar, 0, len(response.Candles))
	for _, candle := range response.Candles {
		if !candle.Complete {
			continue
		}
		open, errO := strconv.ParseFloat(candle.Mid.O, 64)
		high, errH := strconv.ParseFloat(candle.Mid.H, 64)
		low, errL := strconv.ParseFloat(candle.Mid.L, 64)
		closePrice, errC := strconv.ParseFloat(candle.Mid.C, 64)
		if errO != nil || errH != nil || errL != nil || errC != nil {
			return nil, NewProviderError(symbol, "unparseable candle values", nil)
		}
		barTime, err := time.Parse(time.RFC3339Nano, candle.Time)
		if err != nil {
			return nil, NewProviderError(symbol, "unparseable candle time", err)
		}
		bars = append(bars, Bar{Open: open, High: high, Low: low, Close: closePrice, Time: barTime})
	}

	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	if len(bars) == 0 {
		return nil, NewProviderError(symbol, "no closed candles returned", nil)
	}
	return bars, nil
}

// GetLatestClosedBar returns the most recent closed bar.
func (c *CandlesAdapter) GetLatestClosedBar(ctx context.Context, symbol, timeFrame string) (*Bar, error) {
	bars, err := c.GetRecentBars(ctx, symbol, timeFrame, 1)
	if err != nil {
		return nil, err
	}
	bar := bars[len(bars)-1]
	return &bar, nil
}
