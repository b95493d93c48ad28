package removal

import (
	"time"

	"github.com/google/uuid"
)

// Form is the persisted removal paperwork for one removal treatment: the
// individual-sources bucket and, when the counts do not balance, the
// operator's discrepancy clarification.
type Form struct {
	TreatmentID        uuid.UUID
	IndividualInserted int
	IndividualRemoved  int
	Clarification      *Clarification
	FinalizedBy        string
	FinalizedAt        *time.Time
}

// Finalized reports whether the removal has passed the discrepancy gate.
func (f *Form) Finalized() bool {
	return f != nil && f.FinalizedAt != nil
}
