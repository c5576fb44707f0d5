package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/fxsentry/fxsentry/internal/observ"
	"github.com/fxsentry/fxsentry/internal/quotes"
)

// ThresholdEvaluator fires fixed-price rules. The state machine per rule is
// Armed → fires once → Triggered (latched) → external Reset → Armed. The
// fire condition is "is currently beyond the level", not edge-detection
// against a previous sample: the feed is not guaranteed to deliver every
// tick, so the latch rather than sampling guarantees exactly one fire per
// arm/reset cycle.
type ThresholdEvaluator struct {
	store    Store
	prices   PriceSource
	notifier Notifier
	sink     HistorySink
}

func NewThresholdEvaluator(store Store, prices PriceSource, notifier Notifier, sink HistorySink) *ThresholdEvaluator {
	return &ThresholdEvaluator{
		store:    store,
		prices:   prices,
		notifier: notifier,
		sink:     sink,
	}
}

// EvaluatePass checks every enabled, non-triggered rule against the current
// price from the router. Failures on one rule are logged and never abort
// the pass.
func (e *ThresholdEvaluator) EvaluatePass(ctx context.Context) {
	ruleSet, err := e.store.ListEnabledThresholdRules(ctx)
	if err != nil {
		observ.Log("threshold_list_rules_failed", map[string]any{"error": err.Error()})
		return
	}

	for _, rule := range ruleSet {
		quote, err := e.prices.GetPrice(ctx, rule.Symbol)
		if err != nil {
			observ.Log("threshold_price_fetch_failed", map[string]any{
				"rule_id": rule.ID,
				"symbol":  rule.Symbol,
				"error":   err.Error(),
			})
			continue
		}
		e.evaluate(ctx, rule, quote.Price())
	}
}

// HandlePriceUpdate is the event-driven entry point used when a streaming
// source is active: every tick evaluates the rules for that tick's symbol.
func (e *ThresholdEvaluator) HandlePriceUpdate(update quotes.PriceUpdate) {
	ctx := context.Background()

	ruleSet, err := e.store.ListEnabledThresholdRules(ctx)
	if err != nil {
		observ.Log("threshold_list_rules_failed", map[string]any{"error": err.Error()})
		return
	}

	mid := (update.Bid + update.Ask) / 2
	for _, rule := range ruleSet {
		if rule.Symbol != update.Symbol {
			continue
		}
		e.evaluate(ctx, rule, mid)
	}
}

func (e *ThresholdEvaluator) evaluate(ctx context.Context, rule PriceRule, current float64) {
	if rule.TargetPrice <= 0 || current <= 0 {
		return
	}

	crossed := false
	switch rule.Direction {
	case Above:
		crossed = current > rule.TargetPrice
	case Below:
		crossed = current < rule.TargetPrice
	}
	if !crossed {
		return
	}

	// Latch before notifying so a concurrent pass cannot double-fire.
	if err := e.store.MarkTriggered(ctx, rule.ID); err != nil {
		observ.Log("threshold_mark_triggered_failed", map[string]any{
			"rule_id": rule.ID,
			"error":   err.Error(),
		})
		return
	}

	distance := (current - rule.TargetPrice) / rule.TargetPrice
	firing := AlertFiring{
		Symbol: rule.Symbol,
		RuleID: rule.ID,
		Kind:   rule.Kind,
		Message: fmt.Sprintf("%s crossed %s %.5f (current %.5f)",
			rule.Symbol, directionWord(rule.Direction), rule.TargetPrice, current),
		Details: map[string]any{
			"target":    rule.TargetPrice,
			"current":   current,
			"distance":  distance,
			"direction": string(rule.Direction),
		},
		FiredAt: time.Now().UTC(),
	}

	observ.IncCounter("rule_fires_total", map[string]string{
		"kind":   string(rule.Kind),
		"symbol": rule.Symbol,
	})
	observ.Log("threshold_rule_fired", map[string]any{
		"rule_id":  rule.ID,
		"symbol":   rule.Symbol,
		"target":   rule.TargetPrice,
		"current":  current,
		"distance": distance,
	})

	delivered := e.notifier.Notify(ctx, firing)
	if !delivered {
		observ.IncCounter("alert_delivery_failures_total", map[string]string{"symbol": rule.Symbol})
		observ.Log("alert_delivery_failed", map[string]any{"rule_id": rule.ID})
	}

	// History is appended whether or not the user was notified.
	if err := e.sink.Append(ctx, firing); err != nil {
		observ.Log("alert_history_append_failed", map[string]any{
			"rule_id": rule.ID,
			"error":   err.Error(),
		})
	}
}

func directionWord(d Direction) string {
	if d == Below {
		return "below"
	}
	return "above"
}
