package quotes

import (
	"fmt"
	"strings"
	"time"
)

// PriceQuote represents normalized market data from any provider
type PriceQuote struct {
	Symbol     string    `json:"symbol"`      // Canonical symbol (uppercase, no separators)
	Bid        float64   `json:"bid"`         // Best bid price
	Ask        float64   `json:"ask"`         // Best ask price
	Last       float64   `json:"last"`        // Last traded price, 0 when the provider omits it
	ObservedAt time.Time `json:"observed_at"` // Quote timestamp from provider
	Source     string    `json:"source"`      // "stream"|"poll"|"stub"
}

// Mid calculates the bid/ask midpoint
func (q *PriceQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Price returns the best available current price: last trade when the
// provider supplies it, midpoint otherwise.
func (q *PriceQuote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	return q.Mid()
}

// SpreadBps calculates bid-ask spread in basis points
func (q *PriceQuote) SpreadBps() float64 {
	if q.Bid <= 0 {
		return 0
	}
	return ((q.Ask - q.Bid) / q.Bid) * 10000
}

// ValidateQuote performs quote validation with fail-closed behavior
func ValidateQuote(quote *PriceQuote) error {
	if quote == nil {
		return fmt.Errorf("quote is nil")
	}

	quote.Symbol = strings.ToUpper(strings.TrimSpace(quote.Symbol))
	if quote.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}

	// Price validation (fail-closed: reject invalid prices)
	if quote.Bid <= 0 || quote.Ask <= 0 {
		return fmt.Errorf("invalid quote prices: bid=%.5f ask=%.5f", quote.Bid, quote.Ask)
	}

	// Spread validation (ask must be >= bid)
	if quote.Ask < quote.Bid {
		return fmt.Errorf("invalid spread: ask(%.5f) < bid(%.5f)", quote.Ask, quote.Bid)
	}

	// Timestamp validation (not too far in future)
	if quote.ObservedAt.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", quote.ObservedAt)
	}

	return nil
}

// Bar is one closed OHLC candle for a symbol/timeframe.
type Bar struct {
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
	Time  time.Time `json:"time"`
}
