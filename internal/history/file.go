// Package history persists alert firings. Sinks are fire-and-forget: the
// evaluators log append errors but never let them block delivery.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fxsentry/fxsentry/internal/rules"
)

// FileSink appends one JSON line per firing to a local file.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("history: file path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create dir: %w", err)
		}
	}
	return &FileSink{path: path}, nil
}

func (s *FileSink) Append(ctx context.Context, firing rules.AlertFiring) error {
	data, err := json.Marshal(firing)
	if err != nil {
		return fmt.Errorf("history: marshal firing: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("history: open %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

var _ rules.HistorySink = (*FileSink)(nil)

// MultiSink fans an append out to several sinks and returns the first error
// after trying them all.
type MultiSink struct {
	sinks []rules.HistorySink
}

func NewMultiSink(sinks ...rules.HistorySink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Append(ctx context.Context, firing rules.AlertFiring) error {
	var firstErr error
	for _, s := range m.sinks {
		if err := s.Append(ctx, firing); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ rules.HistorySink = (*MultiSink)(nil)
