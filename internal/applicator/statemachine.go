package applicator

import (
	"time"

	dErrors "seedtrace/pkg/domain-errors"
)

// forwardNext encodes the main path SEALED -> OPENED -> LOADED -> INSERTED.
var forwardNext = map[Status]Status{
	StatusSealed: StatusOpened,
	StatusOpened: StatusLoaded,
	StatusLoaded: StatusInserted,
}

// CanTransition reports whether from -> to is a legal status change.
// Self-transition is always legal (no-op). Forward hops along the main path
// are legal, any terminal state is reachable from any non-terminal state,
// and nothing leaves a terminal state.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to.Terminal() {
		return true
	}
	// Forward along the main path, possibly skipping intermediate states
	// (a scanner may record LOADED directly from SEALED).
	for next, ok := forwardNext[from]; ok; next, ok = forwardNext[next] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition carries the operator-entered fields accompanying a status
// change. Required fields depend on the target status; missing clinical
// fields are rejected, never defaulted.
type Transition struct {
	To              Status
	Actor           string
	Comment         string
	InsertedSeedQty int
	InsertedAt      *time.Time
}

// Apply validates the transition against the state machine and the target
// status field requirements, then mutates the applicator in place.
// A self-transition is accepted and leaves the applicator untouched.
func Apply(a *Applicator, tr Transition) error {
	if !tr.To.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown applicator status %q", tr.To)
	}
	if !CanTransition(a.Status, tr.To) {
		return dErrors.Newf(dErrors.CodeInvalidTransition,
			"applicator %s cannot move from %s to %s", a.SerialNumber, a.Status, tr.To)
	}
	if a.Status == tr.To {
		return nil
	}

	switch tr.To {
	case StatusInserted:
		if tr.InsertedAt == nil {
			return dErrors.New(dErrors.CodeValidation, "insertion timestamp is required for INSERTED")
		}
		if a.SeedQuantity <= 0 {
			return dErrors.New(dErrors.CodeValidation, "seed quantity is required for INSERTED")
		}
		a.InsertedAt = tr.InsertedAt
	case StatusFaulty:
		if tr.Comment == "" {
			return dErrors.New(dErrors.CodeValidation, "comment is required for FAULTY")
		}
		if tr.InsertedSeedQty < 0 || tr.InsertedSeedQty > a.SeedQuantity {
			return dErrors.Newf(dErrors.CodeValidation,
				"inserted seed count %d exceeds rated quantity %d", tr.InsertedSeedQty, a.SeedQuantity)
		}
		a.InsertedSeedQty = tr.InsertedSeedQty
		if tr.InsertedAt != nil {
			a.InsertedAt = tr.InsertedAt
		}
	case StatusDisposed, StatusDischarged, StatusDeploymentFailure:
		if tr.Comment == "" {
			return dErrors.Newf(dErrors.CodeValidation, "comment is required for %s", tr.To)
		}
	}

	if tr.Comment != "" {
		a.Comments = tr.Comment
	}
	a.Status = tr.To
	return nil
}
