package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action names an auditable event in the treatment workflow.
type Action string

const (
	ActionScanValidated       Action = "applicator.scan_validated"
	ActionScanOverridden      Action = "applicator.scan_overridden"
	ActionTransitionApplied   Action = "applicator.transition_applied"
	ActionTreatmentCreated    Action = "treatment.created"
	ActionTreatmentCompleted  Action = "treatment.completed"
	ActionContinuationCreated Action = "treatment.continuation_created"
	ActionRemovalFinalized    Action = "treatment.removal_finalized"
)

// Event is one append-only audit record. Clinical accountability means these
// are never updated or deleted.
type Event struct {
	ID           uuid.UUID
	Timestamp    time.Time
	Actor        string
	Action       Action
	TreatmentID  string
	SerialNumber string
	Details      string
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByTreatment(ctx context.Context, treatmentID string) ([]Event, error)
}

// ErrBufferFull reports a dropped event: the async inbox was at capacity and
// the request path must not block on audit persistence.
var ErrBufferFull = errors.New("audit: event buffer full, event dropped")
