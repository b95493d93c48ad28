package removal

import (
	"sort"

	"seedtrace/internal/applicator"
	dErrors "seedtrace/pkg/domain-errors"
)

// Group aggregates applicators sharing one rated seed count. Progress is the
// integer floor of removedSources / totalSources * 100.
type Group struct {
	SeedCount          int
	TotalApplicators   int
	RemovedApplicators int
	TotalSources       int
	RemovedSources     int
	ProgressPct        int
}

// Summary is the reconciled state of a removal procedure. SourcesNotRemoved
// is the gap the operator must account for before finalization.
type Summary struct {
	Groups []Group

	// Individual sources recorded outside the group model (loose seeds).
	IndividualInserted int
	IndividualRemoved  int

	TotalSourcesInserted int
	TotalSourcesRemoved  int
	SourcesNotRemoved    int
	ProgressPct          int
}

// Reconcile aggregates the treatment's applicators plus the individual
// sources bucket. A negative gap means removed counts exceed inserted counts
// — a data-entry bug that must be surfaced, never clamped.
func Reconcile(apps []applicator.Applicator, individualInserted, individualRemoved int) (Summary, error) {
	byCount := make(map[int]*Group)
	for _, a := range apps {
		seeds := a.EffectiveSeedQty()
		if seeds <= 0 {
			continue
		}
		g, ok := byCount[a.SeedQuantity]
		if !ok {
			g = &Group{SeedCount: a.SeedQuantity}
			byCount[a.SeedQuantity] = g
		}
		g.TotalApplicators++
		g.TotalSources += seeds
		if a.Removed() {
			g.RemovedApplicators++
			g.RemovedSources += seeds
		}
	}

	sum := Summary{
		IndividualInserted: individualInserted,
		IndividualRemoved:  individualRemoved,
	}
	for _, g := range byCount {
		g.ProgressPct = progress(g.RemovedSources, g.TotalSources)
		sum.Groups = append(sum.Groups, *g)
		sum.TotalSourcesInserted += g.TotalSources
		sum.TotalSourcesRemoved += g.RemovedSources
	}
	sort.Slice(sum.Groups, func(i, j int) bool { return sum.Groups[i].SeedCount < sum.Groups[j].SeedCount })

	sum.TotalSourcesInserted += individualInserted
	sum.TotalSourcesRemoved += individualRemoved
	sum.SourcesNotRemoved = sum.TotalSourcesInserted - sum.TotalSourcesRemoved
	sum.ProgressPct = progress(sum.TotalSourcesRemoved, sum.TotalSourcesInserted)

	if sum.SourcesNotRemoved < 0 {
		return sum, dErrors.Newf(dErrors.CodeInvariantViolation,
			"removed source count %d exceeds inserted count %d", sum.TotalSourcesRemoved, sum.TotalSourcesInserted)
	}
	return sum, nil
}

func progress(removed, total int) int {
	if total <= 0 {
		return 0
	}
	return removed * 100 / total
}
