package treatment

import (
	"time"

	"github.com/google/uuid"

	"seedtrace/internal/applicator"
)

// Type distinguishes seed insertion procedures from later removal
// procedures. It never changes after creation.
type Type string

const (
	TypeInsertion Type = "insertion"
	TypeRemoval   Type = "removal"
)

func (t Type) Valid() bool {
	return t == TypeInsertion || t == TypeRemoval
}

// Role is the acting user's role as supplied by the host's role provider.
type Role string

const (
	RoleHospital     Role = "hospital"
	RoleManufacturer Role = "manufacturer"
	RoleAdmin        Role = "admin"
)

// Treatment is a single procedure session against one patient at one site on
// one date. A completed treatment accepts no further applicator mutations
// except through continuation, which creates a new treatment.
type Treatment struct {
	ID              uuid.UUID
	RegistryOrderID string // absent until first sync with the Registry
	Type            Type
	PatientID       string
	SiteID          string
	Date            time.Time
	Surgeon         string
	SeedActivity    float64 // activity per seed, µCi
	IsComplete      bool
	CompletedBy     string
	CompletedAt     *time.Time
	StartedAt       time.Time
	ParentID        *uuid.UUID // set only for continuations; immediate predecessor
	LastActivityAt  time.Time  // updated on every applicator mutation
	Applicators     []applicator.Applicator
}

// FindApplicator returns the applicator with the given ID, or nil.
func (t *Treatment) FindApplicator(id uuid.UUID) *applicator.Applicator {
	for i := range t.Applicators {
		if t.Applicators[i].ID == id {
			return &t.Applicators[i]
		}
	}
	return nil
}

// FindBySerial returns the applicator with the given serial number, or nil.
// Serial uniqueness is scoped to the treatment, not global.
func (t *Treatment) FindBySerial(serial string) *applicator.Applicator {
	for i := range t.Applicators {
		if t.Applicators[i].SerialNumber == serial {
			return &t.Applicators[i]
		}
	}
	return nil
}

// SerialNumbers lists every serial already recorded on this treatment.
func (t *Treatment) SerialNumbers() []string {
	serials := make([]string, 0, len(t.Applicators))
	for _, a := range t.Applicators {
		serials = append(serials, a.SerialNumber)
	}
	return serials
}

// ReusableApplicators returns the applicators a continuation may inherit.
func (t *Treatment) ReusableApplicators() []applicator.Applicator {
	var out []applicator.Applicator
	for _, a := range t.Applicators {
		if a.Status.Reusable() {
			out = append(out, a)
		}
	}
	return out
}

// TerminalSerials returns the serial numbers finalized in this treatment.
// A continuation must refuse to reuse any of them.
func (t *Treatment) TerminalSerials() map[string]bool {
	out := make(map[string]bool)
	for _, a := range t.Applicators {
		if a.Status.Terminal() {
			out[a.SerialNumber] = true
		}
	}
	return out
}
