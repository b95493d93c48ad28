package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"seedtrace/internal/applicator"
	"seedtrace/internal/registry"
	"seedtrace/internal/removal"
	"seedtrace/internal/treatment"
	"seedtrace/internal/validation"
	"seedtrace/pkg/clock"
	dErrors "seedtrace/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	store   *treatment.InMemoryStore
	gateway *registry.MockGateway
	now     time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = treatment.NewInMemoryStore()
	s.gateway = registry.NewMockGateway()
	s.now = time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) service(opts ...Option) *Service {
	return New(s.store, s.gateway, clock.At(s.now), opts...)
}

// seedTreatment stores a treatment directly so tests can control its date.
func (s *ServiceSuite) seedTreatment(typ treatment.Type, date time.Time, apps ...applicator.Applicator) *treatment.Treatment {
	t := &treatment.Treatment{
		ID:              uuid.New(),
		RegistryOrderID: "order-77",
		Type:            typ,
		PatientID:       "patient-1",
		SiteID:          "site-9",
		Date:            date,
		StartedAt:       date,
		LastActivityAt:  date,
	}
	for i := range apps {
		apps[i].TreatmentID = t.ID
		if apps[i].ID == uuid.Nil {
			apps[i].ID = uuid.New()
		}
	}
	t.Applicators = apps
	s.Require().NoError(s.store.Create(context.Background(), t))
	return t
}

func (s *ServiceSuite) TestCreateTreatment() {
	ctx := context.Background()

	s.Run("rejects missing patient", func() {
		_, err := s.service().CreateTreatment(ctx, CreateTreatmentRequest{
			Type:   treatment.TypeInsertion,
			SiteID: "site-9",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("rejects unknown type", func() {
		_, err := s.service().CreateTreatment(ctx, CreateTreatmentRequest{
			Type:      "revision",
			PatientID: "patient-1",
			SiteID:    "site-9",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("persists and stamps clock times", func() {
		t, err := s.service().CreateTreatment(ctx, CreateTreatmentRequest{
			Type:      treatment.TypeInsertion,
			PatientID: "patient-1",
			SiteID:    "site-9",
			Surgeon:   "dr.osei",
		})
		s.Require().NoError(err)
		s.Equal(s.now, t.Date)
		s.Equal(s.now, t.LastActivityAt)

		stored, err := s.store.Find(ctx, t.ID)
		s.Require().NoError(err)
		s.Equal(t.ID, stored.ID)
	})
}

func (s *ServiceSuite) TestValidateScan() {
	ctx := context.Background()

	s.Run("committed serial is already_scanned without a session set", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now,
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusSealed, SeedQuantity: 10},
		)
		res, err := s.service().ValidateScan(ctx, t.ID, "SN-1", nil)
		s.Require().NoError(err)
		s.Equal(validation.ScenarioAlreadyScanned, res.Scenario)
	})

	s.Run("complete treatment refuses scans", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now)
		s.Require().NoError(s.store.Complete(ctx, t.ID, "dr.osei", s.now))
		_, err := s.service().ValidateScan(ctx, t.ID, "SN-1", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("matching registry record is valid", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now)
		s.gateway.Records["SN-2"] = registry.ApplicatorRecord{
			SerialNumber:      "SN-2",
			SeedCapacity:      10,
			IntendedPatientID: "patient-1",
		}
		res, err := s.service().ValidateScan(ctx, t.ID, "SN-2", nil)
		s.Require().NoError(err)
		s.Equal(validation.ScenarioValid, res.Scenario)
	})

	s.Run("continuation refuses a serial finalized in the parent", func() {
		insertedAt := s.now.Add(-time.Hour)
		parent := s.seedTreatment(treatment.TypeInsertion, s.now.Add(-2*time.Hour),
			applicator.Applicator{SerialNumber: "SN-3", Status: applicator.StatusInserted, SeedQuantity: 10, InsertedAt: &insertedAt},
		)
		parentID := parent.ID
		child := &treatment.Treatment{
			ID:             uuid.New(),
			Type:           treatment.TypeInsertion,
			PatientID:      "patient-1",
			SiteID:         "site-9",
			Date:           s.now,
			StartedAt:      s.now,
			ParentID:       &parentID,
			LastActivityAt: s.now,
		}
		s.Require().NoError(s.store.Create(ctx, child))

		res, err := s.service().ValidateScan(ctx, child.ID, "SN-3", nil)
		s.Require().NoError(err)
		s.Equal(validation.ScenarioWrongTreatment, res.Scenario)
		s.False(res.RequiresConfirmation)
	})
}

func (s *ServiceSuite) TestAddApplicator() {
	ctx := context.Background()

	s.Run("registry push happens before the local write", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now)
		s.gateway.PushErr = registry.NewError(registry.ErrorOutage, "push_usage", "registry down", nil)

		_, err := s.service().AddApplicator(ctx, t.ID, AddApplicatorRequest{
			SerialNumber: "SN-1", SeedQuantity: 10,
		}, "nurse.lee")
		s.True(dErrors.HasCode(err, dErrors.CodeRegistryUnavailable))

		stored, findErr := s.store.Find(ctx, t.ID)
		s.Require().NoError(findErr)
		s.Empty(stored.Applicators) // nothing saved locally
	})

	s.Run("best-effort policy saves despite a failed push", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now)
		s.gateway.PushErr = registry.NewError(registry.ErrorOutage, "push_usage", "registry down", nil)

		a, err := s.service(WithBestEffortPush()).AddApplicator(ctx, t.ID, AddApplicatorRequest{
			SerialNumber: "SN-1", SeedQuantity: 10,
		}, "nurse.lee")
		s.Require().NoError(err)
		s.Equal(applicator.StatusSealed, a.Status)
	})

	s.Run("duplicate serial is a conflict", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now,
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusSealed, SeedQuantity: 10},
		)
		_, err := s.service().AddApplicator(ctx, t.ID, AddApplicatorRequest{
			SerialNumber: "SN-1", SeedQuantity: 10,
		}, "nurse.lee")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown treatment is not found", func() {
		_, err := s.service().AddApplicator(ctx, uuid.New(), AddApplicatorRequest{
			SerialNumber: "SN-1", SeedQuantity: 10,
		}, "nurse.lee")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestApplyTransition() {
	ctx := context.Background()

	s.Run("insertion reaches the registry with the full seed count", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now,
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusLoaded, SeedQuantity: 10},
		)
		insertedAt := s.now
		updated, err := s.service().ApplyTransition(ctx, t.ID, t.Applicators[0].ID, applicator.Transition{
			To:              applicator.StatusInserted,
			Actor:           "dr.osei",
			InsertedSeedQty: 10,
			InsertedAt:      &insertedAt,
		}, treatment.RoleHospital)
		s.Require().NoError(err)
		s.Equal(applicator.StatusInserted, updated.Status)

		s.Require().Len(s.gateway.Pushes, 1)
		s.Equal(applicator.UsageFull, s.gateway.Pushes[0].Usage)
		s.Equal(10, s.gateway.Pushes[0].InsertedSeedQty)

		stored, err := s.store.Find(ctx, t.ID)
		s.Require().NoError(err)
		s.Equal(applicator.StatusInserted, stored.Applicators[0].Status)
	})

	s.Run("failed push leaves the local status untouched", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now,
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusSealed, SeedQuantity: 10},
		)
		s.gateway.PushErr = registry.NewError(registry.ErrorTimeout, "push_usage", "deadline exceeded", nil)

		_, err := s.service().ApplyTransition(ctx, t.ID, t.Applicators[0].ID, applicator.Transition{
			To: applicator.StatusOpened, Actor: "nurse.lee",
		}, treatment.RoleHospital)
		s.True(dErrors.HasCode(err, dErrors.CodeRegistryUnavailable))

		stored, findErr := s.store.Find(ctx, t.ID)
		s.Require().NoError(findErr)
		s.Equal(applicator.StatusSealed, stored.Applicators[0].Status)
	})

	s.Run("edits past the ceiling are blocked", func() {
		insertedAt := s.now.Add(-22 * 24 * time.Hour)
		t := s.seedTreatment(treatment.TypeInsertion, s.now.Add(-22*24*time.Hour),
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusInserted, SeedQuantity: 10, InsertedAt: &insertedAt},
		)
		_, err := s.service().ApplyTransition(ctx, t.ID, t.Applicators[0].ID, applicator.Transition{
			To: applicator.StatusInserted, Actor: "dr.osei", InsertedSeedQty: 10, InsertedAt: &insertedAt,
		}, treatment.RoleHospital)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeWindowExpired))
	})

	s.Run("completed treatment rejects transitions", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now,
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusSealed, SeedQuantity: 10},
		)
		s.Require().NoError(s.store.Complete(ctx, t.ID, "dr.osei", s.now))

		_, err := s.service().ApplyTransition(ctx, t.ID, t.Applicators[0].ID, applicator.Transition{
			To: applicator.StatusOpened, Actor: "nurse.lee",
		}, treatment.RoleHospital)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("illegal transition surfaces the state machine error", func() {
		insertedAt := s.now
		t := s.seedTreatment(treatment.TypeInsertion, s.now,
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusInserted, SeedQuantity: 10, InsertedAt: &insertedAt},
		)
		_, err := s.service().ApplyTransition(ctx, t.ID, t.Applicators[0].ID, applicator.Transition{
			To: applicator.StatusOpened, Actor: "nurse.lee",
		}, treatment.RoleHospital)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func (s *ServiceSuite) TestCompleteTreatment() {
	ctx := context.Background()

	s.Run("pushes completed status and marks complete", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now)
		s.Require().NoError(s.service().CompleteTreatment(ctx, t.ID, "dr.osei"))

		s.Equal("completed", s.gateway.StatusPushes["order-77"])
		stored, err := s.store.Find(ctx, t.ID)
		s.Require().NoError(err)
		s.True(stored.IsComplete)
		s.Equal("dr.osei", stored.CompletedBy)
	})

	s.Run("double completion is a conflict", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now)
		s.Require().NoError(s.service().CompleteTreatment(ctx, t.ID, "dr.osei"))
		err := s.service().CompleteTreatment(ctx, t.ID, "dr.osei")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestRemovalFlow() {
	ctx := context.Background()
	insertedAt := s.now.Add(-30 * 24 * time.Hour)

	removalTreatment := func() *treatment.Treatment {
		return s.seedTreatment(treatment.TypeRemoval, s.now,
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusInserted, SeedQuantity: 10, InsertedAt: &insertedAt},
			applicator.Applicator{SerialNumber: "SN-2", Status: applicator.StatusInserted, SeedQuantity: 10, InsertedAt: &insertedAt},
		)
	}

	s.Run("record removal stamps who and when", func() {
		t := removalTreatment()
		updated, err := s.service().RecordRemoval(ctx, t.ID, t.Applicators[0].ID, "dr.osei", treatment.RoleHospital)
		s.Require().NoError(err)
		s.Require().NotNil(updated.RemovedAt)
		s.Equal(s.now, *updated.RemovedAt)
		s.Equal("dr.osei", updated.RemovedBy)
	})

	s.Run("record removal on an insertion treatment is rejected", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now,
			applicator.Applicator{SerialNumber: "SN-1", Status: applicator.StatusInserted, SeedQuantity: 10, InsertedAt: &insertedAt},
		)
		_, err := s.service().RecordRemoval(ctx, t.ID, t.Applicators[0].ID, "dr.osei", treatment.RoleHospital)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("finalize with an unclarified gap is refused", func() {
		t := removalTreatment()
		// one of two removed: gap of 10 seeds, no clarification
		_, err := s.service().RecordRemoval(ctx, t.ID, t.Applicators[0].ID, "dr.osei", treatment.RoleHospital)
		s.Require().NoError(err)

		_, err = s.service().FinalizeRemoval(ctx, t.ID, removal.Form{}, "dr.osei")
		s.True(dErrors.HasCode(err, dErrors.CodeDiscrepancyUnbalanced))

		stored, findErr := s.store.Find(ctx, t.ID)
		s.Require().NoError(findErr)
		s.False(stored.IsComplete)
	})

	s.Run("finalize with an exactly balanced clarification completes the treatment", func() {
		t := removalTreatment()
		_, err := s.service().RecordRemoval(ctx, t.ID, t.Applicators[0].ID, "dr.osei", treatment.RoleHospital)
		s.Require().NoError(err)

		form := removal.Form{
			Clarification: &removal.Clarification{
				Lost: removal.Category{Checked: true, Amount: 10, Comment: "migrated, not recoverable"},
			},
		}
		summary, err := s.service().FinalizeRemoval(ctx, t.ID, form, "dr.osei")
		s.Require().NoError(err)
		s.Equal(10, summary.SourcesNotRemoved)

		stored, findErr := s.store.Find(ctx, t.ID)
		s.Require().NoError(findErr)
		s.True(stored.IsComplete)
		s.Equal("removal_finalized", s.gateway.StatusPushes["order-77"])

		saved, findErr := s.store.FindRemovalForm(ctx, t.ID)
		s.Require().NoError(findErr)
		s.Require().NotNil(saved)
		s.Equal("dr.osei", saved.FinalizedBy)
	})

	s.Run("finalize on an insertion treatment is rejected", func() {
		t := s.seedTreatment(treatment.TypeInsertion, s.now)
		_, err := s.service().FinalizeRemoval(ctx, t.ID, removal.Form{}, "dr.osei")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
