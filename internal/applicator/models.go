package applicator

import (
	"time"

	"github.com/google/uuid"
)

// Status is the single source of truth for where an applicator sits in its
// lifecycle. The legacy three-way usage classification is derived from it
// (see Usage) and is never stored independently.
type Status string

const (
	// Main forward path.
	StatusSealed   Status = "SEALED"
	StatusOpened   Status = "OPENED"
	StatusLoaded   Status = "LOADED"
	StatusInserted Status = "INSERTED"

	// Side branches, reachable from any non-terminal state.
	StatusFaulty            Status = "FAULTY"
	StatusDisposed          Status = "DISPOSED"
	StatusDischarged        Status = "DISCHARGED"
	StatusDeploymentFailure Status = "DEPLOYMENT_FAILURE"
)

// Terminal reports whether the status is a clinical end-state with no
// outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusInserted, StatusFaulty, StatusDisposed, StatusDischarged, StatusDeploymentFailure:
		return true
	}
	return false
}

// Reusable reports whether an applicator in this status may be carried into
// a continuation treatment. Only the never-used forward states qualify.
func (s Status) Reusable() bool {
	switch s {
	case StatusSealed, StatusOpened, StatusLoaded:
		return true
	}
	return false
}

// Valid reports whether s is one of the eight known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSealed, StatusOpened, StatusLoaded, StatusInserted,
		StatusFaulty, StatusDisposed, StatusDischarged, StatusDeploymentFailure:
		return true
	}
	return false
}

// Usage is the legacy three-state classification used by reports and by the
// Registry usage push.
type Usage string

const (
	UsageFull   Usage = "full"
	UsageFaulty Usage = "faulty"
	UsageNone   Usage = "none"
)

// Usage projects the status onto the legacy classification. The mapping is
// one-directional: status is authoritative, usage is computed.
func (s Status) Usage() Usage {
	switch s {
	case StatusInserted:
		return UsageFull
	case StatusFaulty:
		return UsageFaulty
	default:
		return UsageNone
	}
}

// Applicator is one physical device instance processed within exactly one
// treatment. SeedQuantity is immutable once set from Registry data; only
// status, insertion/removal metadata, and comments mutate afterwards.
type Applicator struct {
	ID                  uuid.UUID
	TreatmentID         uuid.UUID
	SerialNumber        string
	Status              Status
	SeedQuantity        int
	InsertedSeedQty     int
	InsertedAt          *time.Time
	RemovedAt           *time.Time
	RemovedBy           string
	Comments            string
	FromParentTreatment bool
}

// Removed reports whether removal has been recorded for this applicator.
func (a Applicator) Removed() bool {
	return a.RemovedAt != nil
}

// EffectiveSeedQty is the number of seeds this applicator actually placed:
// the partial count for faulty insertions, the rated count otherwise.
func (a Applicator) EffectiveSeedQty() int {
	if a.Status == StatusFaulty {
		return a.InsertedSeedQty
	}
	if a.Status == StatusInserted {
		return a.SeedQuantity
	}
	return 0
}
