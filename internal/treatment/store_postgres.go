package treatment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"seedtrace/internal/applicator"
	"seedtrace/internal/removal"
	"seedtrace/pkg/platform/sentinel"
)

// PostgresStore persists treatments, applicators, and removal forms in
// PostgreSQL. This store is pure I/O; all domain rules (state machine,
// time windows, discrepancy gate) belong in the services.
//
// Row-level locks on the treatment row (SELECT ... FOR UPDATE) provide the
// one-writer-per-treatment serialization the engine requires.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS treatments (
			id UUID PRIMARY KEY,
			registry_order_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			patient_id TEXT NOT NULL,
			site_id TEXT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			surgeon TEXT NOT NULL DEFAULT '',
			seed_activity DOUBLE PRECISION NOT NULL DEFAULT 0,
			is_complete BOOLEAN NOT NULL DEFAULT FALSE,
			completed_by TEXT NOT NULL DEFAULT '',
			completed_at TIMESTAMPTZ,
			started_at TIMESTAMPTZ NOT NULL,
			parent_treatment_id UUID REFERENCES treatments(id),
			last_activity_at TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS treatments_continuation_guard
			ON treatments (parent_treatment_id, (date::date))
			WHERE parent_treatment_id IS NOT NULL;
		CREATE TABLE IF NOT EXISTS applicators (
			id UUID PRIMARY KEY,
			treatment_id UUID NOT NULL REFERENCES treatments(id),
			serial_number TEXT NOT NULL,
			status TEXT NOT NULL,
			seed_quantity INT NOT NULL,
			inserted_seed_qty INT NOT NULL DEFAULT 0,
			inserted_at TIMESTAMPTZ,
			removed_at TIMESTAMPTZ,
			removed_by TEXT NOT NULL DEFAULT '',
			comments TEXT NOT NULL DEFAULT '',
			from_parent_treatment BOOLEAN NOT NULL DEFAULT FALSE,
			UNIQUE (treatment_id, serial_number)
		);
		CREATE TABLE IF NOT EXISTS removal_forms (
			treatment_id UUID PRIMARY KEY REFERENCES treatments(id),
			individual_inserted INT NOT NULL DEFAULT 0,
			individual_removed INT NOT NULL DEFAULT 0,
			clarification JSONB,
			finalized_by TEXT NOT NULL DEFAULT '',
			finalized_at TIMESTAMPTZ
		);`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, t *Treatment) error {
	const query = `
		INSERT INTO treatments (id, registry_order_id, type, patient_id, site_id, date, surgeon,
			seed_activity, is_complete, completed_by, completed_at, started_at, parent_treatment_id, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.RegistryOrderID, string(t.Type), t.PatientID, t.SiteID, t.Date, t.Surgeon,
		t.SeedActivity, t.IsComplete, t.CompletedBy, t.CompletedAt, t.StartedAt, t.ParentID, t.LastActivityAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create treatment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, id uuid.UUID) (*Treatment, error) {
	const query = `
		SELECT id, registry_order_id, type, patient_id, site_id, date, surgeon,
			seed_activity, is_complete, completed_by, completed_at, started_at, parent_treatment_id, last_activity_at
		FROM treatments
		WHERE id = $1
	`
	t, err := scanTreatment(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find treatment: %w", err)
	}
	apps, err := s.listApplicators(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	t.Applicators = apps
	return t, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID, actor string, at time.Time) error {
	return s.withTreatmentLock(ctx, id, func(tx *sql.Tx, t *Treatment) error {
		if t.IsComplete {
			return sentinel.ErrInvalidState
		}
		const query = `
			UPDATE treatments
			SET is_complete = TRUE, completed_by = $2, completed_at = $3, last_activity_at = $3
			WHERE id = $1
		`
		if _, err := tx.ExecContext(ctx, query, id, actor, at); err != nil {
			return fmt.Errorf("complete treatment: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) AddApplicator(ctx context.Context, a *applicator.Applicator, activityAt time.Time) error {
	return s.withTreatmentLock(ctx, a.TreatmentID, func(tx *sql.Tx, t *Treatment) error {
		if t.IsComplete {
			return sentinel.ErrInvalidState
		}
		const query = `
			INSERT INTO applicators (id, treatment_id, serial_number, status, seed_quantity,
				inserted_seed_qty, inserted_at, removed_at, removed_by, comments, from_parent_treatment)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`
		_, err := tx.ExecContext(ctx, query,
			a.ID, a.TreatmentID, a.SerialNumber, string(a.Status), a.SeedQuantity,
			a.InsertedSeedQty, a.InsertedAt, a.RemovedAt, a.RemovedBy, a.Comments, a.FromParentTreatment,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("add applicator: %w", err)
		}
		return touchActivity(ctx, tx, a.TreatmentID, activityAt)
	})
}

func (s *PostgresStore) UpdateApplicator(ctx context.Context, a *applicator.Applicator, activityAt time.Time) error {
	return s.withTreatmentLock(ctx, a.TreatmentID, func(tx *sql.Tx, t *Treatment) error {
		// seed_quantity deliberately absent: immutable once set.
		const query = `
			UPDATE applicators
			SET status = $2, inserted_seed_qty = $3, inserted_at = $4, removed_at = $5,
				removed_by = $6, comments = $7
			WHERE id = $1
		`
		result, err := tx.ExecContext(ctx, query,
			a.ID, string(a.Status), a.InsertedSeedQty, a.InsertedAt, a.RemovedAt, a.RemovedBy, a.Comments,
		)
		if err != nil {
			return fmt.Errorf("update applicator: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update applicator rows affected: %w", err)
		}
		if rows == 0 {
			return sentinel.ErrNotFound
		}
		return touchActivity(ctx, tx, a.TreatmentID, activityAt)
	})
}

func (s *PostgresStore) CreateContinuation(ctx context.Context, child *Treatment) error {
	if child.ParentID == nil {
		return sentinel.ErrInvalidState
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create continuation: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertTreatment = `
		INSERT INTO treatments (id, registry_order_id, type, patient_id, site_id, date, surgeon,
			seed_activity, is_complete, completed_by, completed_at, started_at, parent_treatment_id, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = tx.ExecContext(ctx, insertTreatment,
		child.ID, child.RegistryOrderID, string(child.Type), child.PatientID, child.SiteID, child.Date, child.Surgeon,
		child.SeedActivity, child.IsComplete, child.CompletedBy, child.CompletedAt, child.StartedAt, child.ParentID, child.LastActivityAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create continuation: %w", err)
	}

	const insertApplicator = `
		INSERT INTO applicators (id, treatment_id, serial_number, status, seed_quantity,
			inserted_seed_qty, inserted_at, removed_at, removed_by, comments, from_parent_treatment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, a := range child.Applicators {
		if _, err := tx.ExecContext(ctx, insertApplicator,
			a.ID, a.TreatmentID, a.SerialNumber, string(a.Status), a.SeedQuantity,
			a.InsertedSeedQty, a.InsertedAt, a.RemovedAt, a.RemovedBy, a.Comments, a.FromParentTreatment,
		); err != nil {
			return fmt.Errorf("copy applicator %s: %w", a.SerialNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create continuation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRemovalForm(ctx context.Context, form *removal.Form) error {
	clarification, err := marshalClarification(form.Clarification)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO removal_forms (treatment_id, individual_inserted, individual_removed, clarification, finalized_by, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (treatment_id) DO UPDATE SET
			individual_inserted = EXCLUDED.individual_inserted,
			individual_removed = EXCLUDED.individual_removed,
			clarification = EXCLUDED.clarification,
			finalized_by = EXCLUDED.finalized_by,
			finalized_at = EXCLUDED.finalized_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		form.TreatmentID, form.IndividualInserted, form.IndividualRemoved, clarification, form.FinalizedBy, form.FinalizedAt,
	); err != nil {
		return fmt.Errorf("save removal form: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindRemovalForm(ctx context.Context, treatmentID uuid.UUID) (*removal.Form, error) {
	const query = `
		SELECT treatment_id, individual_inserted, individual_removed, clarification, finalized_by, finalized_at
		FROM removal_forms
		WHERE treatment_id = $1
	`
	var form removal.Form
	var clarification []byte
	var finalizedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, treatmentID).Scan(
		&form.TreatmentID, &form.IndividualInserted, &form.IndividualRemoved, &clarification, &form.FinalizedBy, &finalizedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find removal form: %w", err)
	}
	if finalizedAt.Valid {
		form.FinalizedAt = &finalizedAt.Time
	}
	if len(clarification) > 0 {
		var c removal.Clarification
		if err := json.Unmarshal(clarification, &c); err != nil {
			return nil, fmt.Errorf("decode clarification: %w", err)
		}
		form.Clarification = &c
	}
	return &form, nil
}

// withTreatmentLock runs fn inside a transaction holding the treatment row
// lock, giving the one-writer-per-treatment guarantee.
func (s *PostgresStore) withTreatmentLock(ctx context.Context, id uuid.UUID, fn func(tx *sql.Tx, t *Treatment) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin treatment tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const query = `
		SELECT id, registry_order_id, type, patient_id, site_id, date, surgeon,
			seed_activity, is_complete, completed_by, completed_at, started_at, parent_treatment_id, last_activity_at
		FROM treatments
		WHERE id = $1
		FOR UPDATE
	`
	t, err := scanTreatment(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("lock treatment: %w", err)
	}

	if err := fn(tx, t); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit treatment tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) listApplicators(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}, treatmentID uuid.UUID) ([]applicator.Applicator, error) {
	const query = `
		SELECT id, treatment_id, serial_number, status, seed_quantity, inserted_seed_qty,
			inserted_at, removed_at, removed_by, comments, from_parent_treatment
		FROM applicators
		WHERE treatment_id = $1
		ORDER BY serial_number
	`
	rows, err := q.QueryContext(ctx, query, treatmentID)
	if err != nil {
		return nil, fmt.Errorf("list applicators: %w", err)
	}
	defer rows.Close()

	var out []applicator.Applicator
	for rows.Next() {
		var a applicator.Applicator
		var status string
		var insertedAt, removedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.TreatmentID, &a.SerialNumber, &status, &a.SeedQuantity,
			&a.InsertedSeedQty, &insertedAt, &removedAt, &a.RemovedBy, &a.Comments, &a.FromParentTreatment); err != nil {
			return nil, fmt.Errorf("scan applicator: %w", err)
		}
		a.Status = applicator.Status(status)
		if insertedAt.Valid {
			a.InsertedAt = &insertedAt.Time
		}
		if removedAt.Valid {
			a.RemovedAt = &removedAt.Time
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type treatmentRow interface {
	Scan(dest ...any) error
}

func scanTreatment(row treatmentRow) (*Treatment, error) {
	var t Treatment
	var typ string
	var completedAt sql.NullTime
	var parentID uuid.NullUUID
	if err := row.Scan(&t.ID, &t.RegistryOrderID, &typ, &t.PatientID, &t.SiteID, &t.Date, &t.Surgeon,
		&t.SeedActivity, &t.IsComplete, &t.CompletedBy, &completedAt, &t.StartedAt, &parentID, &t.LastActivityAt); err != nil {
		return nil, err
	}
	t.Type = Type(typ)
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if parentID.Valid {
		id := parentID.UUID
		t.ParentID = &id
	}
	return &t, nil
}

func marshalClarification(c *removal.Clarification) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode clarification: %w", err)
	}
	return raw, nil
}

func touchActivity(ctx context.Context, tx *sql.Tx, treatmentID uuid.UUID, at time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE treatments SET last_activity_at = $2 WHERE id = $1`, treatmentID, at); err != nil {
		return fmt.Errorf("touch last activity: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
