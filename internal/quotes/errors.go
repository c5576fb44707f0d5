package quotes

import (
	"fmt"
	"time"
)

// QuoteError represents different types of quote fetch errors
type QuoteError struct {
	Type    string // "network", "rate_limit", "provider_error", "bad_symbol", "stale", "config"
	Symbol  string
	Message string
	Cause   error
}

func (e *QuoteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *QuoteError) Unwrap() error { return e.Cause }

// Common error constructors
func NewNetworkError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *QuoteError {
	return &QuoteError{Type: "rate_limit", Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *QuoteError {
	return &QuoteError{Type: "provider_error", Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *QuoteError {
	return &QuoteError{Type: "bad_symbol", Symbol: symbol, Message: message}
}

func NewStaleError(symbol string, staleness time.Duration) *QuoteError {
	return &QuoteError{
		Type:    "stale",
		Symbol:  symbol,
		Message: fmt.Sprintf("quote too stale: %v", staleness),
	}
}

func NewConfigError(message string) *QuoteError {
	return &QuoteError{Type: "config", Message: message}
}
