package handler

import (
	"time"

	"seedtrace/internal/applicator"
	"seedtrace/internal/continuation"
	"seedtrace/internal/removal"
	"seedtrace/internal/timewindow"
	"seedtrace/internal/treatment"
	"seedtrace/internal/validation"
)

type applicatorResponse struct {
	ID                  string     `json:"id"`
	SerialNumber        string     `json:"serial_number"`
	Status              string     `json:"status"`
	Usage               string     `json:"usage"`
	SeedQuantity        int        `json:"seed_quantity"`
	InsertedSeedQty     int        `json:"inserted_seed_qty,omitempty"`
	InsertedAt          *time.Time `json:"inserted_at,omitempty"`
	RemovedAt           *time.Time `json:"removed_at,omitempty"`
	RemovedBy           string     `json:"removed_by,omitempty"`
	Comments            string     `json:"comments,omitempty"`
	FromParentTreatment bool       `json:"from_parent_treatment,omitempty"`
}

func fromApplicator(a applicator.Applicator) applicatorResponse {
	return applicatorResponse{
		ID:                  a.ID.String(),
		SerialNumber:        a.SerialNumber,
		Status:              string(a.Status),
		Usage:               string(a.Status.Usage()),
		SeedQuantity:        a.SeedQuantity,
		InsertedSeedQty:     a.InsertedSeedQty,
		InsertedAt:          a.InsertedAt,
		RemovedAt:           a.RemovedAt,
		RemovedBy:           a.RemovedBy,
		Comments:            a.Comments,
		FromParentTreatment: a.FromParentTreatment,
	}
}

type treatmentResponse struct {
	ID              string                `json:"id"`
	RegistryOrderID string                `json:"registry_order_id,omitempty"`
	Type            string                `json:"type"`
	PatientID       string                `json:"patient_id"`
	SiteID          string                `json:"site_id"`
	Date            time.Time             `json:"date"`
	Surgeon         string                `json:"surgeon,omitempty"`
	SeedActivity    float64               `json:"seed_activity,omitempty"`
	IsComplete      bool                  `json:"is_complete"`
	CompletedBy     string                `json:"completed_by,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
	ParentID        string                `json:"parent_treatment_id,omitempty"`
	LastActivityAt  time.Time             `json:"last_activity_at"`
	Applicators     []applicatorResponse  `json:"applicators"`
}

func fromTreatment(t *treatment.Treatment) treatmentResponse {
	resp := treatmentResponse{
		ID:              t.ID.String(),
		RegistryOrderID: t.RegistryOrderID,
		Type:            string(t.Type),
		PatientID:       t.PatientID,
		SiteID:          t.SiteID,
		Date:            t.Date,
		Surgeon:         t.Surgeon,
		SeedActivity:    t.SeedActivity,
		IsComplete:      t.IsComplete,
		CompletedBy:     t.CompletedBy,
		CompletedAt:     t.CompletedAt,
		LastActivityAt:  t.LastActivityAt,
		Applicators:     make([]applicatorResponse, 0, len(t.Applicators)),
	}
	if t.ParentID != nil {
		resp.ParentID = t.ParentID.String()
	}
	for _, a := range t.Applicators {
		resp.Applicators = append(resp.Applicators, fromApplicator(a))
	}
	return resp
}

type validationResponse struct {
	Scenario             string `json:"scenario"`
	Message              string `json:"message"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	IntendedPatientID    string `json:"intended_patient_id,omitempty"`
	PriorTreatmentID     string `json:"prior_treatment_id,omitempty"`
	SeedCapacity         int    `json:"seed_capacity,omitempty"`
	DeviceType           string `json:"device_type,omitempty"`
}

func fromValidation(res validation.Result) validationResponse {
	resp := validationResponse{
		Scenario:             string(res.Scenario),
		Message:              res.Message,
		RequiresConfirmation: res.RequiresConfirmation,
		IntendedPatientID:    res.IntendedPatientID,
		PriorTreatmentID:     res.PriorTreatmentID,
	}
	if res.Record != nil {
		resp.SeedCapacity = res.Record.SeedCapacity
		resp.DeviceType = res.Record.DeviceType
	}
	return resp
}

type editWindowResponse struct {
	Editable bool   `json:"editable"`
	Reason   string `json:"reason,omitempty"`
}

func fromDecision(d timewindow.Decision) editWindowResponse {
	return editWindowResponse{Editable: d.Editable, Reason: d.Reason}
}

type eligibilityResponse struct {
	CanContinue             bool    `json:"can_continue"`
	Reason                  string  `json:"reason"`
	HoursRemaining          float64 `json:"hours_remaining"`
	ReusableApplicatorCount int     `json:"reusable_applicator_count"`
}

func fromEligibility(e continuation.Eligibility) eligibilityResponse {
	return eligibilityResponse{
		CanContinue:             e.CanContinue,
		Reason:                  e.Reason,
		HoursRemaining:          e.HoursRemaining,
		ReusableApplicatorCount: e.ReusableApplicatorCount,
	}
}

type groupResponse struct {
	SeedCount          int `json:"seed_count"`
	TotalApplicators   int `json:"total_applicators"`
	RemovedApplicators int `json:"removed_applicators"`
	TotalSources       int `json:"total_sources"`
	RemovedSources     int `json:"removed_sources"`
	ProgressPct        int `json:"progress_pct"`
}

type reconciliationResponse struct {
	Groups               []groupResponse `json:"groups"`
	IndividualInserted   int             `json:"individual_inserted"`
	IndividualRemoved    int             `json:"individual_removed"`
	TotalSourcesInserted int             `json:"total_sources_inserted"`
	TotalSourcesRemoved  int             `json:"total_sources_removed"`
	SourcesNotRemoved    int             `json:"sources_not_removed"`
	ProgressPct          int             `json:"progress_pct"`
}

func fromSummary(sum removal.Summary) reconciliationResponse {
	resp := reconciliationResponse{
		Groups:               make([]groupResponse, 0, len(sum.Groups)),
		IndividualInserted:   sum.IndividualInserted,
		IndividualRemoved:    sum.IndividualRemoved,
		TotalSourcesInserted: sum.TotalSourcesInserted,
		TotalSourcesRemoved:  sum.TotalSourcesRemoved,
		SourcesNotRemoved:    sum.SourcesNotRemoved,
		ProgressPct:          sum.ProgressPct,
	}
	for _, g := range sum.Groups {
		resp.Groups = append(resp.Groups, groupResponse{
			SeedCount:          g.SeedCount,
			TotalApplicators:   g.TotalApplicators,
			RemovedApplicators: g.RemovedApplicators,
			TotalSources:       g.TotalSources,
			RemovedSources:     g.RemovedSources,
			ProgressPct:        g.ProgressPct,
		})
	}
	return resp
}
