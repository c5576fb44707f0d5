package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/fxsentry/fxsentry/internal/rules"
)

const createHistoryTable = `
CREATE TABLE IF NOT EXISTS alert_history (
	id          BIGSERIAL PRIMARY KEY,
	symbol      TEXT        NOT NULL,
	rule_id     TEXT,
	state_id    TEXT,
	kind        TEXT        NOT NULL,
	message     TEXT        NOT NULL,
	details     JSONB,
	fired_at    TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresSink records firings in an alert_history table.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink opens the connection, verifies it, and ensures the table
// exists so the daemon fails at startup rather than on the first alert.
func NewPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("history: postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createHistoryTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ensure table: %w", err)
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Append(ctx context.Context, firing rules.AlertFiring) error {
	details, err := json.Marshal(firing.Details)
	if err != nil {
		return fmt.Errorf("history: marshal details: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alert_history (symbol, rule_id, state_id, kind, message, details, fired_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		firing.Symbol, firing.RuleID, firing.StateID, string(firing.Kind),
		firing.Message, details, firing.FiredAt)
	if err != nil {
		return fmt.Errorf("history: insert firing: %w", err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

var _ rules.HistorySink = (*PostgresSink)(nil)
