package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists audit events in PostgreSQL. Append-only by design:
// no update or delete statements exist here.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the audit table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_events (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			treatment_id TEXT NOT NULL DEFAULT '',
			serial_number TEXT NOT NULL DEFAULT '',
			details TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS audit_events_treatment_idx ON audit_events (treatment_id);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	const query = `
		INSERT INTO audit_events (id, ts, actor, action, treatment_id, serial_number, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, event.Actor, string(event.Action), event.TreatmentID, event.SerialNumber, event.Details,
	); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByTreatment(ctx context.Context, treatmentID string) ([]Event, error) {
	const query = `
		SELECT id, ts, actor, action, treatment_id, serial_number, details
		FROM audit_events
		WHERE treatment_id = $1
		ORDER BY ts
	`
	rows, err := s.db.QueryContext(ctx, query, treatmentID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var action string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &action, &e.TreatmentID, &e.SerialNumber, &e.Details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
