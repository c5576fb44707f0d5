package rules

// SMA returns the simple moving average over the last period closes.
// Reports false when there are fewer closes than the period.
func SMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), true
}

// EMA returns the exponential moving average over the closes, seeded with
// the SMA of the first period values and smoothed with k = 2/(period+1).
// Reports false when there are fewer closes than the period.
func EMA(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}

	seed, _ := SMA(closes[:period], period)
	k := 2.0 / (float64(period) + 1)

	ema := seed
	for _, c := range closes[period:] {
		ema = c*k + ema*(1-k)
	}
	return ema, true
}

// indicatorValue computes the configured indicator over the closes.
func indicatorValue(kind Kind, closes []float64, period int) (float64, bool) {
	switch kind {
	case KindEMA:
		return EMA(closes, period)
	case KindMA:
		return SMA(closes, period)
	default:
		return 0, false
	}
}
