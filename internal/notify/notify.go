// Package notify delivers alert messages over Telegram with email fallback.
package notify

import (
	"context"
	"fmt"

	"github.com/fxsentry/fxsentry/internal/observ"
	"github.com/fxsentry/fxsentry/internal/rules"
)

// Message is one outbound notification. Photo is optional; channels that
// cannot carry attachments ignore it.
type Message struct {
	Subject   string
	Text      string
	Photo     []byte
	PhotoName string
}

// Channel is a single delivery transport.
type Channel interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, msg Message) error
}

// Dispatcher routes a message to the primary channel and falls back to the
// secondary on failure. The secondary can additionally receive a copy of
// every message regardless of the primary's outcome.
type Dispatcher struct {
	primary                  Channel
	secondary                Channel
	secondaryAcceptsFallback bool
	secondaryAlwaysCopy      bool
}

func NewDispatcher(primary, secondary Channel, acceptsFallback, alwaysCopy bool) *Dispatcher {
	return &Dispatcher{
		primary:                  primary,
		secondary:                secondary,
		secondaryAcceptsFallback: acceptsFallback,
		secondaryAlwaysCopy:      alwaysCopy,
	}
}

// Send returns true when at least one channel accepted the message.
// Fallback delivery rewrites the subject so the recipient can tell the
// primary channel failed. The always-copy path is independent of fallback:
// its outcome never changes the return value when the primary succeeded.
func (d *Dispatcher) Send(ctx context.Context, msg Message) bool {
	delivered := false

	primaryErr := d.sendOn(ctx, d.primary, msg)
	if primaryErr == nil {
		delivered = true
	}

	if primaryErr != nil && d.secondaryAcceptsFallback {
		fallback := msg
		fallback.Subject = fmt.Sprintf("[fallback] %s (primary failed: %v)", msg.Subject, primaryErr)
		if err := d.sendOn(ctx, d.secondary, fallback); err == nil {
			delivered = true
		}
	}

	if d.secondaryAlwaysCopy && (primaryErr == nil || !d.secondaryAcceptsFallback) {
		// Copy only when the secondary did not already get the fallback.
		if err := d.sendOn(ctx, d.secondary, msg); err == nil && primaryErr != nil {
			delivered = true
		}
	}

	if !delivered {
		observ.IncCounter("notify_failures_total", map[string]string{"stage": "all_channels"})
	}
	return delivered
}

func (d *Dispatcher) sendOn(ctx context.Context, ch Channel, msg Message) error {
	if ch == nil || !ch.Enabled() {
		return fmt.Errorf("channel unavailable")
	}
	err := ch.Send(ctx, msg)
	if err != nil {
		observ.IncCounter("notify_channel_failures_total", map[string]string{"channel": ch.Name()})
		observ.Log("notify_channel_failed", map[string]any{
			"channel": ch.Name(),
			"error":   err.Error(),
		})
		return err
	}
	observ.IncCounter("notify_sent_total", map[string]string{"channel": ch.Name()})
	return nil
}

// Alerter adapts the dispatcher to the rule evaluators.
type Alerter struct {
	dispatcher *Dispatcher
}

func NewAlerter(d *Dispatcher) *Alerter {
	return &Alerter{dispatcher: d}
}

// Notify formats a firing and reports whether any channel accepted it.
func (a *Alerter) Notify(ctx context.Context, firing rules.AlertFiring) bool {
	subject := fmt.Sprintf("fxsentry alert: %s", firing.Symbol)
	return a.dispatcher.Send(ctx, Message{
		Subject: subject,
		Text:    firing.Message,
	})
}

var _ rules.Notifier = (*Alerter)(nil)
