package removal

import (
	dErrors "seedtrace/pkg/domain-errors"
)

// Category is one operator-entered accounting bucket for sources that were
// not physically removed. Categories are not mutually exclusive.
type Category struct {
	Checked bool
	Amount  int
	Comment string
}

// Clarification accounts for every source not removed during a removal
// procedure. The checked categories' amounts must exactly balance the gap;
// this is a hard validation gate, not a warning.
type Clarification struct {
	Lost            Category
	RetrievedToSite Category
	RemovalFailure  Category
	Other           Category

	// OtherDescription is required when Other is checked.
	OtherDescription string
}

// CheckedSum totals the amounts of checked categories only.
func (c Clarification) CheckedSum() int {
	sum := 0
	for _, cat := range []Category{c.Lost, c.RetrievedToSite, c.RemovalFailure, c.Other} {
		if cat.Checked {
			sum += cat.Amount
		}
	}
	return sum
}

// Validate enforces the finalization gate against the reconciled gap.
func (c Clarification) Validate(sourcesNotRemoved int) error {
	for _, cat := range []Category{c.Lost, c.RetrievedToSite, c.RemovalFailure, c.Other} {
		if cat.Checked && cat.Amount < 0 {
			return dErrors.New(dErrors.CodeValidation, "clarification amounts must not be negative")
		}
	}
	if c.Other.Checked && c.OtherDescription == "" {
		return dErrors.New(dErrors.CodeValidation, "a description is required for the 'other' clarification")
	}
	if sum := c.CheckedSum(); sum != sourcesNotRemoved {
		return dErrors.Newf(dErrors.CodeDiscrepancyUnbalanced,
			"clarified amounts total %d but %d sources were not removed", sum, sourcesNotRemoved)
	}
	return nil
}

// FinalizeGate decides whether a removal may be finalized. A zero gap needs
// no clarification; any positive gap requires one that balances exactly.
func FinalizeGate(sum Summary, c *Clarification) error {
	if sum.SourcesNotRemoved < 0 {
		return dErrors.Newf(dErrors.CodeInvariantViolation,
			"removed source count exceeds inserted count by %d", -sum.SourcesNotRemoved)
	}
	if sum.SourcesNotRemoved == 0 {
		if c != nil {
			return c.Validate(0)
		}
		return nil
	}
	if c == nil {
		return dErrors.Newf(dErrors.CodeDiscrepancyUnbalanced,
			"%d sources are unaccounted for; a discrepancy clarification is required", sum.SourcesNotRemoved)
	}
	return c.Validate(sum.SourcesNotRemoved)
}
