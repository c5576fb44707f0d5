package quotes

import "strings"

// Canonical symbols are uppercase with no separator ("EURUSD", "XAUUSD").
// The provider spells the same instruments with an underscore before the
// quote currency ("EUR_USD", "XAU_USD").

// InstrumentFor converts a canonical symbol to the provider spelling.
func InstrumentFor(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" || strings.Contains(s, "_") {
		return s
	}
	if len(s) < 6 {
		return s
	}
	// Quote currency is the trailing 3 letters for FX and metals pairs.
	return s[:len(s)-3] + "_" + s[len(s)-3:]
}

// SymbolFor converts a provider instrument back to the canonical spelling.
func SymbolFor(instrument string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(instrument), "_", ""))
}

// InstrumentList joins canonical symbols into the comma-separated provider
// instrument list used by the pricing endpoints.
func InstrumentList(symbols []string) string {
	instruments := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if inst := InstrumentFor(s); inst != "" {
			instruments = append(instruments, inst)
		}
	}
	return strings.Join(instruments, ",")
}
