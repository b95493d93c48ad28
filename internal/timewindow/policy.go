package timewindow

import (
	"time"

	"seedtrace/internal/applicator"
	"seedtrace/internal/treatment"
)

// EditCeiling is the outer bound for any treatment edit, corrections
// included.
const EditCeiling = 21 * 24 * time.Hour

// Decision is the outcome of an editability check. Callers must re-check on
// every edit attempt; elapsed time changes continuously, so a cached
// decision goes stale.
type Decision struct {
	Editable bool
	Reason   string
}

// Input carries everything the policy needs. Now is injected so boundary
// tests are deterministic.
type Input struct {
	TreatmentDate time.Time
	Now           time.Time
	Type          treatment.Type
	Role          treatment.Role

	// ApplicatorStatus, when set, scopes the check to one applicator.
	ApplicatorStatus *applicator.Status
}

// Check decides whether a treatment (or one applicator within it) may still
// be edited. Pure function, no side effects. The rules are evaluated in
// order and each short-circuits:
//
//  1. A never-used applicator is always editable: it carries no clinical
//     history to protect.
//  2. At or past the 21-day ceiling nothing is editable.
//  3. Next-day corrections on insertions are limited to hospital and
//     manufacturer staff.
//  4. Otherwise editable.
func Check(in Input) Decision {
	if in.ApplicatorStatus != nil && in.ApplicatorStatus.Reusable() {
		return Decision{Editable: true, Reason: "applicator has never been used"}
	}

	elapsed := in.Now.Sub(in.TreatmentDate)
	if elapsed >= EditCeiling {
		return Decision{Editable: false, Reason: "treatment cannot be modified after 21 days"}
	}

	if in.Type == treatment.TypeInsertion && elapsedDays(in.TreatmentDate, in.Now) == 1 {
		if in.Role != treatment.RoleHospital && in.Role != treatment.RoleManufacturer {
			return Decision{Editable: false, Reason: "next-day corrections are limited to hospital and manufacturer staff"}
		}
		return Decision{Editable: true, Reason: "next-day correction window"}
	}

	return Decision{Editable: true, Reason: "within the edit window"}
}

// elapsedDays counts whole calendar days between the treatment date and now,
// in UTC, matching how clinicians reason about "the day after".
func elapsedDays(date, now time.Time) int {
	d := date.UTC().Truncate(24 * time.Hour)
	n := now.UTC().Truncate(24 * time.Hour)
	return int(n.Sub(d) / (24 * time.Hour))
}
