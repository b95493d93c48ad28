package validation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"seedtrace/internal/applicator"
	"seedtrace/internal/registry"
)

// Scenario is the closed set of outcomes a scan validation can resolve to.
// Scenarios are data, not errors: the caller decides whether to prompt for
// an authorized override based on RequiresConfirmation.
type Scenario string

const (
	ScenarioValid           Scenario = "valid"
	ScenarioAlreadyScanned  Scenario = "already_scanned"
	ScenarioWrongTreatment  Scenario = "wrong_treatment"
	ScenarioPreviouslyNoUse Scenario = "previously_no_use"
	ScenarioNotAllowed      Scenario = "not_allowed"

	// ScenarioError is an infrastructure failure, never a data-integrity
	// rejection. It must not be conflated with not_allowed.
	ScenarioError Scenario = "error"
)

// Result is the transient outcome of validating one scanned serial number.
type Result struct {
	Scenario             Scenario
	Message              string
	RequiresConfirmation bool
	IntendedPatientID    string
	PriorTreatmentID     string
	Record               *registry.ApplicatorRecord
}

// Input carries the treatment context for one scan.
type Input struct {
	SerialNumber  string
	PatientID     string
	SiteID        string
	TreatmentDate time.Time

	// ScannedSerials is the set already scanned in the current session,
	// merged by the caller with the treatment's committed serials.
	ScannedSerials map[string]bool

	// ParentTerminalSerials is non-empty only inside a continuation
	// treatment: serials finalized in the parent and banned from reuse.
	ParentTerminalSerials map[string]bool
}

// Validator decides among the validation scenarios for a scanned serial
// number by consulting the Registry. The rules are centralized here so every
// consumer sees the same ordering.
type Validator struct {
	gateway registry.Gateway
	logger  *slog.Logger
}

func New(gateway registry.Gateway, logger *slog.Logger) *Validator {
	return &Validator{gateway: gateway, logger: logger}
}

// neighborWindow is the half-width of the neighbor import window:
// applicators legitimately move between same-site treatments scheduled
// within a day of each other.
const neighborWindow = 24 * time.Hour

// Validate evaluates the scenarios in strict order; the first match wins.
// Re-running with identical inputs and no intervening state change yields an
// identical result.
func (v *Validator) Validate(ctx context.Context, in Input) Result {
	serial := in.SerialNumber

	// 1. Duplicate within the current session. No Registry call needed.
	if in.ScannedSerials[serial] {
		return Result{
			Scenario: ScenarioAlreadyScanned,
			Message:  fmt.Sprintf("applicator %s was already scanned in this treatment", serial),
		}
	}

	// Safety rule for continuations: a serial finalized in the parent
	// treatment can never be reused, and must not fall through to the
	// generic not-found path.
	if in.ParentTerminalSerials[serial] {
		return Result{
			Scenario: ScenarioWrongTreatment,
			Message:  fmt.Sprintf("applicator %s was already finalized in the original treatment and cannot be reused", serial),
		}
	}

	// 2. Ask the system of record.
	rec, err := v.gateway.LookupApplicator(ctx, serial)
	switch {
	case err == nil:
		return v.resolveKnown(in, rec)
	case registry.IsNotFound(err):
		return v.resolveUnknown(ctx, in)
	default:
		return v.registryError(ctx, err)
	}
}

// resolveKnown handles step 4: the Registry knows this serial.
func (v *Validator) resolveKnown(in Input, rec registry.ApplicatorRecord) Result {
	if rec.IntendedPatientID != "" && rec.IntendedPatientID != in.PatientID {
		return Result{
			Scenario:             ScenarioWrongTreatment,
			Message:              fmt.Sprintf("applicator %s is intended for a different patient", in.SerialNumber),
			RequiresConfirmation: true,
			IntendedPatientID:    rec.IntendedPatientID,
			Record:               &rec,
		}
	}
	if rec.PriorTreatmentID != "" && rec.PriorUsage == applicator.UsageNone {
		return Result{
			Scenario:             ScenarioPreviouslyNoUse,
			Message:              fmt.Sprintf("applicator %s was recorded as unused in a previous treatment", in.SerialNumber),
			RequiresConfirmation: true,
			PriorTreatmentID:     rec.PriorTreatmentID,
			Record:               &rec,
		}
	}
	return Result{
		Scenario: ScenarioValid,
		Message:  fmt.Sprintf("applicator %s is valid for this treatment", in.SerialNumber),
		Record:   &rec,
	}
}

// resolveUnknown handles step 3: not in the Registry, so try the 24-hour
// neighbor import for same-site treatments.
func (v *Validator) resolveUnknown(ctx context.Context, in Input) Result {
	from := in.TreatmentDate.Add(-neighborWindow)
	to := in.TreatmentDate.Add(neighborWindow)
	neighbors, err := v.gateway.TreatmentsForSiteWindow(ctx, in.SiteID, from, to)
	if err != nil && !registry.IsNotFound(err) {
		return v.registryError(ctx, err)
	}

	for _, ts := range neighbors {
		for _, rec := range ts.Applicators {
			if rec.SerialNumber != in.SerialNumber {
				continue
			}
			rec := rec
			if rec.PriorUsage == applicator.UsageNone {
				priorID := rec.PriorTreatmentID
				if priorID == "" {
					priorID = ts.OrderID
				}
				return Result{
					Scenario:             ScenarioPreviouslyNoUse,
					Message:              fmt.Sprintf("applicator %s was imported unused from a neighboring treatment", in.SerialNumber),
					RequiresConfirmation: true,
					PriorTreatmentID:     priorID,
					Record:               &rec,
				}
			}
			return Result{
				Scenario:             ScenarioWrongTreatment,
				Message:              fmt.Sprintf("applicator %s belongs to a neighboring treatment for another patient", in.SerialNumber),
				RequiresConfirmation: true,
				IntendedPatientID:    ts.PatientID,
				Record:               &rec,
			}
		}
	}

	return Result{
		Scenario: ScenarioNotAllowed,
		Message:  fmt.Sprintf("applicator %s is not registered for this site and may not be used", in.SerialNumber),
	}
}

func (v *Validator) registryError(ctx context.Context, err error) Result {
	if v.logger != nil {
		v.logger.ErrorContext(ctx, "registry call failed during scan validation",
			"category", string(registry.CategoryOf(err)),
			"error", err.Error(),
		)
	}
	return Result{
		Scenario: ScenarioError,
		Message:  "the registry could not be reached; retry the scan",
	}
}
