package handler

import (
	"seedtrace/internal/removal"
	"seedtrace/internal/treatment"
	"seedtrace/internal/treatment/service"
)

type createTreatmentRequest struct {
	RegistryOrderID string  `json:"registry_order_id"`
	Type            string  `json:"type"`
	PatientID       string  `json:"patient_id"`
	SiteID          string  `json:"site_id"`
	Surgeon         string  `json:"surgeon"`
	SeedActivity    float64 `json:"seed_activity"`
}

func (r createTreatmentRequest) toDomain() service.CreateTreatmentRequest {
	return service.CreateTreatmentRequest{
		RegistryOrderID: r.RegistryOrderID,
		Type:            treatment.Type(r.Type),
		PatientID:       r.PatientID,
		SiteID:          r.SiteID,
		Surgeon:         r.Surgeon,
		SeedActivity:    r.SeedActivity,
	}
}

type validateScanRequest struct {
	SerialNumber string `json:"serial_number"`

	// SessionSerials are serials scanned in the client's current session but
	// not yet committed to the treatment.
	SessionSerials []string `json:"session_serials"`
}

type addApplicatorRequest struct {
	SerialNumber    string `json:"serial_number"`
	SeedQuantity    int    `json:"seed_quantity"`
	OverrideComment string `json:"override_comment"`
}

type transitionRequest struct {
	Status          string  `json:"status"`
	Comment         string  `json:"comment"`
	InsertedSeedQty int     `json:"inserted_seed_qty"`
	InsertedAt      *string `json:"inserted_at"` // RFC 3339
}

type clarificationCategory struct {
	Checked bool   `json:"checked"`
	Amount  int    `json:"amount"`
	Comment string `json:"comment"`
}

func (c clarificationCategory) toDomain() removal.Category {
	return removal.Category{Checked: c.Checked, Amount: c.Amount, Comment: c.Comment}
}

type finalizeRemovalRequest struct {
	IndividualInserted int `json:"individual_inserted"`
	IndividualRemoved  int `json:"individual_removed"`

	Clarification *struct {
		Lost             clarificationCategory `json:"lost"`
		RetrievedToSite  clarificationCategory `json:"retrieved_to_site"`
		RemovalFailure   clarificationCategory `json:"removal_failure"`
		Other            clarificationCategory `json:"other"`
		OtherDescription string                `json:"other_description"`
	} `json:"clarification"`
}

func (r finalizeRemovalRequest) toDomain() removal.Form {
	form := removal.Form{
		IndividualInserted: r.IndividualInserted,
		IndividualRemoved:  r.IndividualRemoved,
	}
	if r.Clarification != nil {
		form.Clarification = &removal.Clarification{
			Lost:             r.Clarification.Lost.toDomain(),
			RetrievedToSite:  r.Clarification.RetrievedToSite.toDomain(),
			RemovalFailure:   r.Clarification.RemovalFailure.toDomain(),
			Other:            r.Clarification.Other.toDomain(),
			OtherDescription: r.Clarification.OtherDescription,
		}
	}
	return form
}
