package sched

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxsentry/fxsentry/internal/observ"
)

// Pass is one evaluation pass. Passes never overlap; a pass that panics is
// recovered and logged so the next scheduled pass is never starved.
type Pass func(ctx context.Context)

// UntilNextBoundary computes the wait until the next interval boundary
// aligned to the start of the UTC day: an interval of 300s fires at
// :00:00, :05:00, :10:00, and so on. A remainder of exactly zero waits a
// full interval.
func UntilNextBoundary(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		return 0
	}
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	sinceMidnight := utc.Sub(midnight)

	remainder := sinceMidnight % interval
	if remainder == 0 {
		return interval
	}
	return interval - remainder
}

// Loop drives a Pass on either wall-clock-aligned boundaries or a plain
// fixed interval. Stop prevents further passes from starting but does not
// interrupt a pass already in flight.
type Loop struct {
	name     string
	interval time.Duration
	pass     Pass
	aligned  bool

	inFlight int32
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewAligned creates a loop firing on UTC-day-aligned boundaries.
func NewAligned(name string, interval time.Duration, pass Pass) *Loop {
	return &Loop{name: name, interval: interval, pass: pass, aligned: true}
}

// NewFixed creates a loop firing every interval, measured from completion.
func NewFixed(name string, interval time.Duration, pass Pass) *Loop {
	return &Loop{name: name, interval: interval, pass: pass}
}

// Start begins scheduling passes until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.run(ctx)
}

// Stop prevents any further passes from starting and waits for the
// scheduling goroutine. An in-flight pass keeps running on a detached
// context and finishes on its own.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		var wait time.Duration
		if l.aligned {
			wait = UntilNextBoundary(time.Now(), l.interval)
		} else {
			wait = l.interval
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}

		// Passes run on their own goroutine so a slow pass delays nothing:
		// the next boundary arrives on time and gets skipped by the overlap
		// guard instead of queueing.
		go l.runPass(ctx)
	}
}

// runPass executes one pass with overlap protection and panic recovery.
// If the previous pass is still running the boundary is skipped, so a pass
// taking longer than the interval never stacks up.
func (l *Loop) runPass(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&l.inFlight, 0, 1) {
		observ.IncCounter("scheduler_passes_skipped_total", map[string]string{"loop": l.name})
		observ.Log("scheduler_pass_skipped", map[string]any{"loop": l.name})
		return
	}

	start := time.Now()
	// Detach so Stop never interrupts a pass already in flight.
	passCtx := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			observ.IncCounter("scheduler_pass_panics_total", map[string]string{"loop": l.name})
			observ.Log("scheduler_pass_panic", map[string]any{"loop": l.name, "panic": r})
		}
		observ.RecordDuration("scheduler_pass", time.Since(start), map[string]string{"loop": l.name})
		atomic.StoreInt32(&l.inFlight, 0)
	}()

	l.pass(passCtx)
}
