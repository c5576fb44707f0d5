package rules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store implementation. The surrounding
// product owns durable rule storage; the daemon loads its rule set at
// startup and keeps latch state here.
type MemoryStore struct {
	mu         sync.Mutex
	rules      map[string]*PriceRule
	order      []string
	monitoring MonitoringConfig
}

func NewMemoryStore(rules []PriceRule, monitoring MonitoringConfig) *MemoryStore {
	s := &MemoryStore{
		rules:      make(map[string]*PriceRule, len(rules)),
		monitoring: monitoring,
	}
	for i := range rules {
		r := rules[i]
		s.rules[r.ID] = &r
		s.order = append(s.order, r.ID)
	}
	return s
}

// ListEnabledThresholdRules returns enabled, not-yet-triggered fixed-price
// rules in insertion order.
func (s *MemoryStore) ListEnabledThresholdRules(ctx context.Context) ([]PriceRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PriceRule, 0, len(s.order))
	for _, id := range s.order {
		r := s.rules[id]
		if r.Kind != KindFixedPrice || !r.Enabled || r.Triggered {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// MarkTriggered latches the rule and stamps the trigger time.
func (s *MemoryStore) MarkTriggered(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("unknown rule %q", ruleID)
	}
	now := time.Now().UTC()
	r.Triggered = true
	r.LastTriggeredAt = &now
	return nil
}

// Reset re-arms the rule. Idempotent on a rule that is not triggered.
func (s *MemoryStore) Reset(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return fmt.Errorf("unknown rule %q", ruleID)
	}
	r.Triggered = false
	return nil
}

func (s *MemoryStore) GetMonitoringConfig(ctx context.Context) (MonitoringConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitoring, nil
}

// Get returns a copy of the rule, for inspection.
func (s *MemoryStore) Get(ruleID string) (PriceRule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[ruleID]
	if !ok {
		return PriceRule{}, false
	}
	return *r, true
}
