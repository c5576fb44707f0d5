package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxsentry/fxsentry/internal/observ"
)

// EmaMonitorState is the per-(symbol, timeFrame, period) memory of the
// cross evaluator. LastPositionSign 0 means "not yet established" and is
// never itself treated as a crossing.
type EmaMonitorState struct {
	LastClose          float64   `json:"last_close"`
	LastIndicatorValue float64   `json:"last_indicator_value"`
	LastPositionSign   int       `json:"last_position_sign"` // -1, 0, +1
	LastCheckTime      time.Time `json:"last_check_time"`
}

type stateKey struct {
	symbol    string
	timeFrame string
	period    int
}

func (k stateKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.symbol, k.timeFrame, k.period)
}

// CrossEvaluator detects sign flips of close − indicator on closed bars.
// Unlike threshold rules it is not latched: each true sign flip produces
// exactly one alert, and updating the stored sign naturally prevents
// re-firing on the next unchanged sample.
type CrossEvaluator struct {
	store    Store
	history  HistorySource
	notifier Notifier
	sink     HistorySink
	kind     Kind // KindEMA or KindMA

	mu     sync.Mutex
	states map[stateKey]*EmaMonitorState
}

func NewCrossEvaluator(store Store, history HistorySource, notifier Notifier, sink HistorySink, kind Kind) *CrossEvaluator {
	if kind != KindEMA && kind != KindMA {
		kind = KindEMA
	}
	return &CrossEvaluator{
		store:    store,
		history:  history,
		notifier: notifier,
		sink:     sink,
		kind:     kind,
		states:   make(map[stateKey]*EmaMonitorState),
	}
}

// EvaluatePass runs one scheduled check over every configured
// (symbol, timeFrame, period) combination. A failure on one combination is
// logged and never aborts the rest of the pass.
func (e *CrossEvaluator) EvaluatePass(ctx context.Context) {
	cfg, err := e.store.GetMonitoringConfig(ctx)
	if err != nil {
		observ.Log("cross_monitoring_config_failed", map[string]any{"error": err.Error()})
		return
	}
	if !cfg.Enabled {
		return
	}

	for _, symbol := range cfg.Symbols {
		for _, timeFrame := range cfg.TimeFrames {
			for _, period := range cfg.Periods {
				if err := e.evaluateOne(ctx, symbol, timeFrame, period); err != nil {
					observ.Log("cross_evaluate_failed", map[string]any{
						"symbol":     symbol,
						"time_frame": timeFrame,
						"period":     period,
						"error":      err.Error(),
					})
				}
			}
		}
	}
}

func (e *CrossEvaluator) evaluateOne(ctx context.Context, symbol, timeFrame string, period int) error {
	// EMA needs warmup beyond the seed window for the smoothing to settle.
	bars, err := e.history.GetRecentBars(ctx, symbol, timeFrame, period*3)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return fmt.Errorf("no closed bars for %s %s", symbol, timeFrame)
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	closePrice := closes[len(closes)-1]

	value, ok := indicatorValue(e.kind, closes, period)

	key := stateKey{symbol: symbol, timeFrame: timeFrame, period: period}

	// The read-modify-write of one key's state happens under the lock so
	// the State accessor never observes a half-updated tuple. Firing stays
	// outside: notification delivery can block.
	e.mu.Lock()
	state := e.stateLocked(key)

	currentSign := 0
	if ok {
		switch {
		case closePrice > value:
			currentSign = 1
		case closePrice < value:
			currentSign = -1
		default:
			// Exactly equal inherits the previous sign, never a flip.
			currentSign = state.LastPositionSign
		}
	}

	fired := state.LastPositionSign != 0 && currentSign != 0 && currentSign != state.LastPositionSign

	// State advances every pass, fired or not.
	state.LastClose = closePrice
	state.LastIndicatorValue = value
	state.LastPositionSign = currentSign
	state.LastCheckTime = time.Now().UTC()
	e.mu.Unlock()

	if fired {
		e.fire(ctx, key, currentSign, closePrice, value)
	}
	return nil
}

func (e *CrossEvaluator) fire(ctx context.Context, key stateKey, currentSign int, closePrice, value float64) {
	crossType := "crossed_above"
	word := "above"
	if currentSign < 0 {
		crossType = "crossed_below"
		word = "below"
	}

	firing := AlertFiring{
		Symbol:  key.symbol,
		StateID: key.String(),
		Kind:    e.kind,
		Message: fmt.Sprintf("%s %s crossed %s %s(%d) at %.5f (indicator %.5f)",
			key.symbol, key.timeFrame, word, e.kind, key.period, closePrice, value),
		Details: map[string]any{
			"time_frame":      key.timeFrame,
			"period":          key.period,
			"indicator_value": value,
			"close_price":     closePrice,
			"cross_type":      crossType,
		},
		FiredAt: time.Now().UTC(),
	}

	observ.IncCounter("rule_fires_total", map[string]string{
		"kind":   string(e.kind),
		"symbol": key.symbol,
	})
	observ.Log("cross_fired", map[string]any{
		"state_id":   key.String(),
		"cross_type": crossType,
		"close":      closePrice,
		"indicator":  value,
	})

	if !e.notifier.Notify(ctx, firing) {
		observ.IncCounter("alert_delivery_failures_total", map[string]string{"symbol": key.symbol})
		observ.Log("alert_delivery_failed", map[string]any{"state_id": key.String()})
	}

	if err := e.sink.Append(ctx, firing); err != nil {
		observ.Log("alert_history_append_failed", map[string]any{
			"state_id": key.String(),
			"error":    err.Error(),
		})
	}
}

// stateLocked lazily creates the per-key state. Callers hold e.mu.
func (e *CrossEvaluator) stateLocked(key stateKey) *EmaMonitorState {
	s, ok := e.states[key]
	if !ok {
		s = &EmaMonitorState{}
		e.states[key] = s
	}
	return s
}

// State returns a copy of the per-key state, for inspection.
func (e *CrossEvaluator) State(symbol, timeFrame string, period int) (EmaMonitorState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.states[stateKey{symbol: symbol, timeFrame: timeFrame, period: period}]
	if !ok {
		return EmaMonitorState{}, false
	}
	return *s, true
}
