package treatment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"seedtrace/internal/applicator"
	"seedtrace/internal/removal"
)

// Store persists treatments and their applicators. Implementations must
// provide at-most-one-writer-per-treatment serialization around applicator
// mutations and continuation creation (row lock or equivalent); the engine
// relies on it instead of locking itself.
//
// Stores return sentinel errors (pkg/platform/sentinel); services translate
// them into domain errors.
type Store interface {
	Create(ctx context.Context, t *Treatment) error

	// Find loads a treatment with its applicators.
	Find(ctx context.Context, id uuid.UUID) (*Treatment, error)

	// Complete marks the treatment complete. Returns ErrInvalidState when
	// already complete.
	Complete(ctx context.Context, id uuid.UUID, actor string, at time.Time) error

	// AddApplicator appends an applicator and advances lastActivityAt.
	// Returns ErrInvalidState when the treatment is complete, ErrConflict
	// when the serial is already recorded on the treatment.
	AddApplicator(ctx context.Context, a *applicator.Applicator, activityAt time.Time) error

	// UpdateApplicator rewrites mutable applicator fields and advances
	// lastActivityAt. SeedQuantity is never rewritten.
	UpdateApplicator(ctx context.Context, a *applicator.Applicator, activityAt time.Time) error

	// CreateContinuation atomically creates the child treatment together
	// with its inherited applicators. Returns ErrConflict when a
	// continuation of the same parent already exists for the same date
	// (duplicate-submission guard).
	CreateContinuation(ctx context.Context, child *Treatment) error

	SaveRemovalForm(ctx context.Context, form *removal.Form) error

	// FindRemovalForm returns nil, nil when no form has been saved yet.
	FindRemovalForm(ctx context.Context, treatmentID uuid.UUID) (*removal.Form, error)
}
