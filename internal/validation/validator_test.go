package validation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"seedtrace/internal/applicator"
	"seedtrace/internal/registry"
)

type ValidatorSuite struct {
	suite.Suite
	gateway   *registry.MockGateway
	validator *Validator
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	s.gateway = registry.NewMockGateway()
	s.validator = New(s.gateway, nil)
}

func (s *ValidatorSuite) input(serial string) Input {
	return Input{
		SerialNumber:   serial,
		PatientID:      "patient-1",
		SiteID:         "site-9",
		TreatmentDate:  time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
		ScannedSerials: map[string]bool{},
	}
}

func (s *ValidatorSuite) TestAlreadyScanned() {
	ctx := context.Background()

	s.Run("session duplicate rejected without registry call", func() {
		s.gateway.LookupErr = registry.NewError(registry.ErrorOutage, "lookup_applicator", "down", nil)
		in := s.input("SN-1")
		in.ScannedSerials["SN-1"] = true

		res := s.validator.Validate(ctx, in)
		s.Equal(ScenarioAlreadyScanned, res.Scenario)
		s.False(res.RequiresConfirmation)
	})
}

func (s *ValidatorSuite) TestKnownSerial() {
	ctx := context.Background()

	s.Run("clean record is valid", func() {
		s.gateway.Records["SN-2"] = registry.ApplicatorRecord{SerialNumber: "SN-2", SeedCapacity: 10}

		res := s.validator.Validate(ctx, s.input("SN-2"))
		s.Equal(ScenarioValid, res.Scenario)
		s.False(res.RequiresConfirmation)
		s.NotNil(res.Record)
	})

	s.Run("intended for another patient is wrong_treatment", func() {
		s.gateway.Records["SN-3"] = registry.ApplicatorRecord{
			SerialNumber:      "SN-3",
			IntendedPatientID: "patient-2",
		}

		res := s.validator.Validate(ctx, s.input("SN-3"))
		s.Equal(ScenarioWrongTreatment, res.Scenario)
		s.True(res.RequiresConfirmation)
		s.Equal("patient-2", res.IntendedPatientID)
	})

	s.Run("stale unused record is previously_no_use", func() {
		s.gateway.Records["SN-4"] = registry.ApplicatorRecord{
			SerialNumber:     "SN-4",
			PriorTreatmentID: "order-77",
			PriorUsage:       applicator.UsageNone,
		}

		res := s.validator.Validate(ctx, s.input("SN-4"))
		s.Equal(ScenarioPreviouslyNoUse, res.Scenario)
		s.True(res.RequiresConfirmation)
		s.Equal("order-77", res.PriorTreatmentID)
	})

	s.Run("intended patient check wins over prior usage", func() {
		s.gateway.Records["SN-5"] = registry.ApplicatorRecord{
			SerialNumber:      "SN-5",
			IntendedPatientID: "patient-2",
			PriorTreatmentID:  "order-77",
			PriorUsage:        applicator.UsageNone,
		}

		res := s.validator.Validate(ctx, s.input("SN-5"))
		s.Equal(ScenarioWrongTreatment, res.Scenario)
	})
}

func (s *ValidatorSuite) TestNeighborImport() {
	ctx := context.Background()

	neighbor := func(usage applicator.Usage) registry.TreatmentSummary {
		return registry.TreatmentSummary{
			OrderID:   "order-88",
			PatientID: "patient-3",
			SiteID:    "site-9",
			Date:      time.Date(2025, 6, 9, 15, 0, 0, 0, time.UTC),
			Applicators: []registry.ApplicatorRecord{
				{SerialNumber: "SN-6", PriorUsage: usage},
			},
		}
	}

	s.Run("unused neighbor hit is previously_no_use", func() {
		s.gateway.Neighbors = []registry.TreatmentSummary{neighbor(applicator.UsageNone)}

		res := s.validator.Validate(ctx, s.input("SN-6"))
		s.Equal(ScenarioPreviouslyNoUse, res.Scenario)
		s.True(res.RequiresConfirmation)
		s.Equal("order-88", res.PriorTreatmentID)
	})

	s.Run("used neighbor hit is wrong_treatment", func() {
		s.gateway.Neighbors = []registry.TreatmentSummary{neighbor(applicator.UsageFull)}

		res := s.validator.Validate(ctx, s.input("SN-6"))
		s.Equal(ScenarioWrongTreatment, res.Scenario)
		s.True(res.RequiresConfirmation)
		s.Equal("patient-3", res.IntendedPatientID)
	})

	s.Run("neighbor outside the day window is ignored", func() {
		far := neighbor(applicator.UsageNone)
		far.Date = time.Date(2025, 6, 14, 15, 0, 0, 0, time.UTC)
		s.gateway.Neighbors = []registry.TreatmentSummary{far}

		res := s.validator.Validate(ctx, s.input("SN-6"))
		s.Equal(ScenarioNotAllowed, res.Scenario)
	})

	s.Run("absent everywhere is not_allowed and not confirmable", func() {
		res := s.validator.Validate(ctx, s.input("SN-7"))
		s.Equal(ScenarioNotAllowed, res.Scenario)
		s.False(res.RequiresConfirmation)
	})
}

func (s *ValidatorSuite) TestRegistryFailures() {
	ctx := context.Background()

	s.Run("lookup outage surfaces error scenario", func() {
		s.gateway.LookupErr = registry.NewError(registry.ErrorOutage, "lookup_applicator", "down", nil)

		res := s.validator.Validate(ctx, s.input("SN-8"))
		s.Equal(ScenarioError, res.Scenario)
		s.False(res.RequiresConfirmation)
	})

	s.Run("lookup timeout surfaces error scenario", func() {
		s.gateway.LookupErr = registry.NewError(registry.ErrorTimeout, "lookup_applicator", "slow", nil)

		res := s.validator.Validate(ctx, s.input("SN-8"))
		s.Equal(ScenarioError, res.Scenario)
	})

	s.Run("neighbor import failure surfaces error, not not_allowed", func() {
		s.gateway.WindowErr = registry.NewError(registry.ErrorOutage, "treatments_for_site_window", "down", nil)

		res := s.validator.Validate(ctx, s.input("SN-9"))
		s.Equal(ScenarioError, res.Scenario)
	})
}

func (s *ValidatorSuite) TestContinuationReuseGuard() {
	ctx := context.Background()

	s.Run("terminal parent serial rejected before registry lookup", func() {
		// Registry would say valid; the safety rule must win.
		s.gateway.Records["SN-10"] = registry.ApplicatorRecord{SerialNumber: "SN-10"}

		in := s.input("SN-10")
		in.ParentTerminalSerials = map[string]bool{"SN-10": true}

		res := s.validator.Validate(ctx, in)
		s.Equal(ScenarioWrongTreatment, res.Scenario)
		s.False(res.RequiresConfirmation)
		s.Contains(res.Message, "already finalized in the original treatment")
	})
}

func (s *ValidatorSuite) TestIdempotence() {
	ctx := context.Background()
	s.gateway.Records["SN-11"] = registry.ApplicatorRecord{
		SerialNumber:      "SN-11",
		IntendedPatientID: "patient-2",
	}

	first := s.validator.Validate(ctx, s.input("SN-11"))
	second := s.validator.Validate(ctx, s.input("SN-11"))
	s.Equal(first, second)
}
