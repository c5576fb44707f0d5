package quotes

import "testing"

func TestInstrumentFor(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"EURUSD", "EUR_USD"},
		{"eurusd", "EUR_USD"},
		{"GBPJPY", "GBP_JPY"},
		{"EUR_USD", "EUR_USD"},
		{"XAUUSD", "XAU_USD"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := InstrumentFor(tt.symbol); got != tt.want {
			t.Errorf("InstrumentFor(%q) = %q, want %q", tt.symbol, got, tt.want)
		}
	}
}

func TestSymbolFor(t *testing.T) {
	tests := []struct {
		instrument string
		want       string
	}{
		{"EUR_USD", "EURUSD"},
		{"eur_usd", "EURUSD"},
		{"GBPJPY", "GBPJPY"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := SymbolFor(tt.instrument); got != tt.want {
			t.Errorf("SymbolFor(%q) = %q, want %q", tt.instrument, got, tt.want)
		}
	}
}

func TestSymbolRoundTrip(t *testing.T) {
	for _, symbol := range []string{"EURUSD", "GBPJPY", "USDCAD"} {
		if got := SymbolFor(InstrumentFor(symbol)); got != symbol {
			t.Errorf("round trip %q -> %q", symbol, got)
		}
	}
}

func TestInstrumentList(t *testing.T) {
	got := InstrumentList([]string{"EURUSD", "GBPJPY"})
	want := "EUR_USD,GBP_JPY"
	if got != want {
		t.Errorf("InstrumentList = %q, want %q", got, want)
	}
}
