package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresSink mirrors events into a security_events table. It is a copy of
// the in-memory log for operators, not an authoritative audit trail.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(db *sql.DB) (*PostgresSink, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &PostgresSink{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresSink) ensureSchema() error {
	const q = `
CREATE TABLE IF NOT EXISTS security_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	details JSONB NOT NULL DEFAULT '{}'::jsonb,
	service TEXT NOT NULL,
	host TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL
)`
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("ensure security_events schema: %w", err)
	}
	return nil
}

func (s *PostgresSink) Write(ctx context.Context, e Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("encode event details: %w", err)
	}
	const q = `
INSERT INTO security_events (id, event_type, risk_level, details, service, host, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, e.ID, e.Type, string(e.Risk), details, e.Client.Service, e.Client.Host, e.Timestamp); err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}
	return nil
}
