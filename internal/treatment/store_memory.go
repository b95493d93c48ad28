package treatment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"seedtrace/internal/applicator"
	"seedtrace/internal/removal"
	"seedtrace/pkg/platform/sentinel"
)

// InMemoryStore keeps treatments in a map for tests and local development.
// The single mutex gives the one-writer-per-treatment guarantee trivially.
type InMemoryStore struct {
	mu            sync.RWMutex
	treatments    map[uuid.UUID]*Treatment
	removalForms  map[uuid.UUID]*removal.Form
	continuations map[string]bool // parentID+date duplicate guard
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		treatments:    make(map[uuid.UUID]*Treatment),
		removalForms:  make(map[uuid.UUID]*removal.Form),
		continuations: make(map[string]bool),
	}
}

func (s *InMemoryStore) Create(_ context.Context, t *Treatment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.treatments[t.ID]; exists {
		return sentinel.ErrConflict
	}
	s.treatments[t.ID] = copyTreatment(t)
	return nil
}

func (s *InMemoryStore) Find(_ context.Context, id uuid.UUID) (*Treatment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.treatments[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return copyTreatment(t), nil
}

func (s *InMemoryStore) Complete(_ context.Context, id uuid.UUID, actor string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.treatments[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if t.IsComplete {
		return sentinel.ErrInvalidState
	}
	t.IsComplete = true
	t.CompletedBy = actor
	t.CompletedAt = &at
	t.LastActivityAt = at
	return nil
}

func (s *InMemoryStore) AddApplicator(_ context.Context, a *applicator.Applicator, activityAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.treatments[a.TreatmentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if t.IsComplete {
		return sentinel.ErrInvalidState
	}
	if t.FindBySerial(a.SerialNumber) != nil {
		return sentinel.ErrConflict
	}
	t.Applicators = append(t.Applicators, *a)
	t.LastActivityAt = activityAt
	return nil
}

func (s *InMemoryStore) UpdateApplicator(_ context.Context, a *applicator.Applicator, activityAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.treatments[a.TreatmentID]
	if !ok {
		return sentinel.ErrNotFound
	}
	existing := t.FindApplicator(a.ID)
	if existing == nil {
		return sentinel.ErrNotFound
	}
	// SeedQuantity is immutable once set from Registry data.
	seedQty := existing.SeedQuantity
	*existing = *a
	existing.SeedQuantity = seedQty
	t.LastActivityAt = activityAt
	return nil
}

func (s *InMemoryStore) CreateContinuation(_ context.Context, child *Treatment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if child.ParentID == nil {
		return sentinel.ErrInvalidState
	}
	key := child.ParentID.String() + "|" + child.Date.UTC().Format("2006-01-02")
	if s.continuations[key] {
		return sentinel.ErrConflict
	}
	if _, exists := s.treatments[child.ID]; exists {
		return sentinel.ErrConflict
	}
	s.continuations[key] = true
	s.treatments[child.ID] = copyTreatment(child)
	return nil
}

func (s *InMemoryStore) SaveRemovalForm(_ context.Context, form *removal.Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.treatments[form.TreatmentID]; !ok {
		return sentinel.ErrNotFound
	}
	f := *form
	if form.Clarification != nil {
		c := *form.Clarification
		f.Clarification = &c
	}
	s.removalForms[form.TreatmentID] = &f
	return nil
}

func (s *InMemoryStore) FindRemovalForm(_ context.Context, treatmentID uuid.UUID) (*removal.Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	form, ok := s.removalForms[treatmentID]
	if !ok {
		return nil, nil
	}
	f := *form
	if form.Clarification != nil {
		c := *form.Clarification
		f.Clarification = &c
	}
	return &f, nil
}

func copyTreatment(t *Treatment) *Treatment {
	cp := *t
	cp.Applicators = append([]applicator.Applicator{}, t.Applicators...)
	return &cp
}
