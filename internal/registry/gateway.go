package registry

import (
	"context"
	"time"

	"seedtrace/internal/applicator"
)

// ApplicatorRecord is what the Registry knows about a serial number.
type ApplicatorRecord struct {
	SerialNumber      string
	DeviceType        string
	SeedCapacity      int
	IntendedPatientID string // empty when the Registry has no patient binding
	PriorTreatmentID  string // empty when never assigned to a treatment
	PriorUsage        applicator.Usage
}

// TreatmentSummary is a neighboring treatment as reported by the Registry,
// used for the 24-hour neighbor import rule.
type TreatmentSummary struct {
	OrderID     string
	PatientID   string
	SiteID      string
	Date        time.Time
	Applicators []ApplicatorRecord
}

// UsagePush reports a locally recorded applicator outcome back to the
// system of record.
type UsagePush struct {
	TreatmentOrderID string
	SerialNumber     string
	Usage            applicator.Usage
	InsertedSeedQty  int
	Comments         string
}

// Gateway is the thin query/command interface to the external system of
// record. Implementations must keep calls bounded by a timeout and must
// return distinguishable not-found and unavailable failures: operators act
// on them differently.
type Gateway interface {
	// LookupApplicator resolves a serial number. Returns ErrorNotFound
	// category when the Registry definitively has no record.
	LookupApplicator(ctx context.Context, serialNumber string) (ApplicatorRecord, error)

	// TreatmentsForSiteWindow lists treatment summaries for a site between
	// from and to inclusive.
	TreatmentsForSiteWindow(ctx context.Context, siteID string, from, to time.Time) ([]TreatmentSummary, error)

	// PushApplicatorUsage records a usage outcome. The engine treats a push
	// failure as fatal to the local save unless deployment policy says
	// best-effort.
	PushApplicatorUsage(ctx context.Context, push UsagePush) error

	// PushTreatmentStatus reports treatment-level status (e.g. completed).
	PushTreatmentStatus(ctx context.Context, treatmentOrderID, status string) error
}
