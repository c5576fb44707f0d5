package rules

import (
	"context"
	"time"

	"github.com/fxsentry/fxsentry/internal/quotes"
)

// Kind identifies what a price rule compares against.
type Kind string

const (
	KindFixedPrice Kind = "FixedPrice"
	KindEMA        Kind = "EMA"
	KindMA         Kind = "MA"
)

// Direction is the side of the level a rule fires on.
type Direction string

const (
	Above Direction = "Above"
	Below Direction = "Below"
)

// PriceRule is one user-defined alert rule. Rules are created and edited by
// an external collaborator; the engine reads enabled rules in batches and
// mutates them only through MarkTriggered and Reset.
//
// Triggered is a deliberate latch, not an edge-triggered pulse: a triggered
// rule is never re-evaluated until explicitly reset, so price oscillating
// around the level cannot cause an alert storm.
type PriceRule struct {
	ID              string     `json:"id" yaml:"id"`
	Symbol          string     `json:"symbol" yaml:"symbol"`
	Kind            Kind       `json:"kind" yaml:"kind"`
	TargetPrice     float64    `json:"target_price" yaml:"target_price"`
	IndicatorPeriod int        `json:"indicator_period,omitempty" yaml:"indicator_period"`
	Direction       Direction  `json:"direction" yaml:"direction"`
	TimeFrame       string     `json:"time_frame" yaml:"time_frame"`
	Enabled         bool       `json:"enabled" yaml:"enabled"`
	Triggered       bool       `json:"triggered" yaml:"triggered"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty" yaml:"-"`
}

// MonitoringConfig drives the moving-average-cross evaluator.
type MonitoringConfig struct {
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	Symbols              []string `json:"symbols" yaml:"symbols"`
	TimeFrames           []string `json:"time_frames" yaml:"time_frames"`
	Periods              []int    `json:"periods" yaml:"periods"`
	CheckIntervalSeconds int      `json:"check_interval_seconds" yaml:"check_interval_seconds"`
}

// Store is the rule-storage collaborator. Rule CRUD lives outside the
// engine; the engine only needs enabled rules and the two latch mutations.
type Store interface {
	ListEnabledThresholdRules(ctx context.Context) ([]PriceRule, error)
	MarkTriggered(ctx context.Context, ruleID string) error
	Reset(ctx context.Context, ruleID string) error
	GetMonitoringConfig(ctx context.Context) (MonitoringConfig, error)
}

// AlertFiring is the payload handed to the notifier and the history sink.
// Constructed fresh per firing, never reused.
type AlertFiring struct {
	Symbol  string         `json:"symbol"`
	RuleID  string         `json:"rule_id,omitempty"`
	StateID string         `json:"state_id,omitempty"`
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	FiredAt time.Time      `json:"fired_at"`
}

// Notifier delivers a firing to the user. Implementations report delivery
// success; evaluators never retry, and delivery failure does not roll back
// the rule's triggered state since the alert condition itself remains true.
type Notifier interface {
	Notify(ctx context.Context, firing AlertFiring) bool
}

// HistorySink records a firing. Fire-and-forget: failures are logged only.
type HistorySink interface {
	Append(ctx context.Context, firing AlertFiring) error
}

// PriceSource serves current prices; satisfied by the provider router.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (*quotes.PriceQuote, error)
}

// HistorySource serves closed bars; satisfied by the candles adapter.
type HistorySource interface {
	GetLatestClosedBar(ctx context.Context, symbol, timeFrame string) (*quotes.Bar, error)
	GetRecentBars(ctx context.Context, symbol, timeFrame string, count int) ([]quotes.Bar, error)
}
