package removal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"seedtrace/internal/applicator"
	dErrors "seedtrace/pkg/domain-errors"
)

type ReconciliationSuite struct {
	suite.Suite
}

func TestReconciliationSuite(t *testing.T) {
	suite.Run(t, new(ReconciliationSuite))
}

func inserted(serial string, seedQty int, removed bool) applicator.Applicator {
	a := applicator.Applicator{
		SerialNumber: serial,
		Status:       applicator.StatusInserted,
		SeedQuantity: seedQty,
	}
	if removed {
		at := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
		a.RemovedAt = &at
	}
	return a
}

func (s *ReconciliationSuite) TestReconcile() {
	s.Run("groups by seed count with floor progress", func() {
		apps := []applicator.Applicator{
			inserted("A", 10, true),
			inserted("B", 10, false),
			inserted("C", 10, false),
			inserted("D", 5, true),
		}
		sum, err := Reconcile(apps, 0, 0)
		s.NoError(err)
		s.Len(sum.Groups, 2)

		s.Equal(5, sum.Groups[0].SeedCount)
		s.Equal(100, sum.Groups[0].ProgressPct)

		s.Equal(10, sum.Groups[1].SeedCount)
		s.Equal(3, sum.Groups[1].TotalApplicators)
		s.Equal(1, sum.Groups[1].RemovedApplicators)
		s.Equal(30, sum.Groups[1].TotalSources)
		s.Equal(10, sum.Groups[1].RemovedSources)
		s.Equal(33, sum.Groups[1].ProgressPct) // floor of 33.33

		s.Equal(35, sum.TotalSourcesInserted)
		s.Equal(15, sum.TotalSourcesRemoved)
		s.Equal(20, sum.SourcesNotRemoved)
	})

	s.Run("faulty applicator counts its partial insertion", func() {
		faulty := applicator.Applicator{
			SerialNumber:    "F",
			Status:          applicator.StatusFaulty,
			SeedQuantity:    10,
			InsertedSeedQty: 4,
		}
		sum, err := Reconcile([]applicator.Applicator{faulty}, 0, 0)
		s.NoError(err)
		s.Equal(4, sum.TotalSourcesInserted)
	})

	s.Run("never-used applicators are excluded", func() {
		unused := applicator.Applicator{SerialNumber: "U", Status: applicator.StatusLoaded, SeedQuantity: 10}
		sum, err := Reconcile([]applicator.Applicator{unused}, 0, 0)
		s.NoError(err)
		s.Empty(sum.Groups)
		s.Equal(0, sum.TotalSourcesInserted)
	})

	s.Run("individual sources bucket is included", func() {
		sum, err := Reconcile(nil, 3, 2)
		s.NoError(err)
		s.Equal(3, sum.TotalSourcesInserted)
		s.Equal(2, sum.TotalSourcesRemoved)
		s.Equal(1, sum.SourcesNotRemoved)
	})

	s.Run("zero inserted reports zero progress", func() {
		sum, err := Reconcile(nil, 0, 0)
		s.NoError(err)
		s.Equal(0, sum.ProgressPct)
	})

	s.Run("negative gap is surfaced not clamped", func() {
		sum, err := Reconcile(nil, 1, 3)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		s.Equal(-2, sum.SourcesNotRemoved)
	})
}

func (s *ReconciliationSuite) TestFinalizeGate() {
	summary := func(inserted, removed int) Summary {
		return Summary{
			TotalSourcesInserted: inserted,
			TotalSourcesRemoved:  removed,
			SourcesNotRemoved:    inserted - removed,
		}
	}

	s.Run("zero gap finalizes without clarification", func() {
		s.NoError(FinalizeGate(summary(20, 20), nil))
	})

	s.Run("gap of one accepted at exact balance", func() {
		c := &Clarification{Lost: Category{Checked: true, Amount: 1, Comment: "seed migrated"}}
		s.NoError(FinalizeGate(summary(20, 19), c))
	})

	s.Run("gap of two balanced across categories", func() {
		c := &Clarification{
			Lost:           Category{Checked: true, Amount: 1},
			RemovalFailure: Category{Checked: true, Amount: 1},
		}
		s.NoError(FinalizeGate(summary(20, 18), c))
	})

	s.Run("under-clarified gap is rejected", func() {
		c := &Clarification{Lost: Category{Checked: true, Amount: 1}}
		err := FinalizeGate(summary(20, 18), c)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeDiscrepancyUnbalanced))
	})

	s.Run("unchecked categories do not count toward the sum", func() {
		c := &Clarification{
			Lost:           Category{Checked: true, Amount: 1},
			RemovalFailure: Category{Checked: false, Amount: 1},
		}
		err := FinalizeGate(summary(20, 18), c)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeDiscrepancyUnbalanced))
	})

	s.Run("missing clarification with positive gap is rejected", func() {
		err := FinalizeGate(summary(20, 18), nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeDiscrepancyUnbalanced))
	})

	s.Run("other category requires a description", func() {
		c := &Clarification{Other: Category{Checked: true, Amount: 2}}
		err := FinalizeGate(summary(20, 18), c)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("negative amounts are rejected", func() {
		c := &Clarification{
			Lost:            Category{Checked: true, Amount: 5},
			RetrievedToSite: Category{Checked: true, Amount: -3},
		}
		err := FinalizeGate(summary(20, 18), c)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}
