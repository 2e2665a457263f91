package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cellguard/internal/safety"
)

// PostgresStore persists intervention events to Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("eventlog: nil db")
	}
	return &PostgresStore{db: db}, nil
}

// Append writes one event.
func (s *PostgresStore) Append(ctx context.Context, event safety.InterventionEvent) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO intervention_events (
	occurred_at, triggering_rule_id, from_state, to_state, action_requested
) VALUES (
	$1,$2,$3,$4,$5
)`, event.Timestamp, event.TriggeringRuleID, string(event.From), string(event.To), event.ActionRequested)
	if err != nil {
		return fmt.Errorf("eventlog: append: %w", err)
	}
	return nil
}

// List returns matching events, newest first.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]safety.InterventionEvent, error) {
	if filter.Limit < 0 {
		return nil, ErrInvalidLimit
	}

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !filter.Since.IsZero() {
		add("occurred_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("occurred_at <= $%d", filter.Until)
	}
	if filter.State != "" {
		add("to_state = $%d", string(filter.State))
	}
	if filter.RuleID != "" {
		add("triggering_rule_id = $%d", filter.RuleID)
	}

	query := `
SELECT occurred_at, triggering_rule_id, from_state, to_state, action_requested
FROM intervention_events`
	if len(where) > 0 {
		query += "\nWHERE " + strings.Join(where, " AND ")
	}
	query += "\nORDER BY occurred_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf("\nLIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: list: %w", err)
	}
	defer rows.Close()

	var out []safety.InterventionEvent
	for rows.Next() {
		var (
			e    safety.InterventionEvent
			from string
			to   string
		)
		if err := rows.Scan(&e.Timestamp, &e.TriggeringRuleID, &from, &to, &e.ActionRequested); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.From = safety.State(from)
		e.To = safety.State(to)
		out = append(out, e)
	}
	return out, rows.Err()
}
