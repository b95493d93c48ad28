package continuation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"seedtrace/internal/audit"
	"seedtrace/internal/platform/metrics"
	"seedtrace/internal/platform/middleware"
	"seedtrace/internal/treatment"
	"seedtrace/pkg/clock"
	dErrors "seedtrace/pkg/domain-errors"
	"seedtrace/pkg/platform/sentinel"
)

// Window is the activity window within which a completed insertion may be
// continued.
const Window = 24 * time.Hour

// Eligibility answers whether a treatment can be continued right now.
type Eligibility struct {
	CanContinue             bool
	Reason                  string
	HoursRemaining          float64
	ReusableApplicatorCount int
}

// CheckEligibility is the pure rule: complete, insertion type, and within the
// 24-hour window measured from lastActivityAt. HoursRemaining may be negative
// once the window has closed.
func CheckEligibility(t *treatment.Treatment, now time.Time) Eligibility {
	e := Eligibility{
		HoursRemaining:          (Window - now.Sub(t.LastActivityAt)).Hours(),
		ReusableApplicatorCount: len(t.ReusableApplicators()),
	}
	switch {
	case !t.IsComplete:
		e.Reason = "treatment is not complete"
	case t.Type != treatment.TypeInsertion:
		e.Reason = "only insertion treatments can be continued"
	case now.Sub(t.LastActivityAt) > Window:
		e.Reason = "the 24-hour activity window has closed"
	default:
		e.CanContinue = true
		e.Reason = "treatment can be continued"
	}
	return e
}

type Store interface {
	Find(ctx context.Context, id uuid.UUID) (*treatment.Treatment, error)
	CreateContinuation(ctx context.Context, child *treatment.Treatment) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Manager creates and validates continuation treatments. Creation is not
// idempotent; the store's duplicate guard protects against double submission.
type Manager struct {
	store   Store
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   AuditPublisher
}

type Option func(m *Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(m *Manager) { m.audit = publisher }
}

func New(store Store, clk clock.Clock, opts ...Option) *Manager {
	m := &Manager{store: store, clock: clk}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Eligibility loads the treatment and evaluates the continuation rule.
func (m *Manager) Eligibility(ctx context.Context, treatmentID uuid.UUID) (Eligibility, error) {
	parent, err := m.store.Find(ctx, treatmentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Eligibility{}, dErrors.New(dErrors.CodeNotFound, "treatment not found")
		}
		return Eligibility{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load treatment")
	}
	return CheckEligibility(parent, m.clock.Now()), nil
}

// Continue creates a new treatment extending the parent: dated today, linked
// via ParentID to the immediate predecessor, patient/site/surgeon/activity
// copied verbatim, and every reusable applicator inherited with its status
// preserved as-is. Terminal applicators are never copied.
func (m *Manager) Continue(ctx context.Context, treatmentID uuid.UUID, actor string) (*treatment.Treatment, error) {
	parent, err := m.store.Find(ctx, treatmentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "treatment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load treatment")
	}

	now := m.clock.Now()
	eligibility := CheckEligibility(parent, now)
	if !eligibility.CanContinue {
		return nil, dErrors.New(dErrors.CodeTimeWindowExpired, eligibility.Reason)
	}

	parentID := parent.ID
	child := &treatment.Treatment{
		ID:             uuid.New(),
		Type:           treatment.TypeInsertion,
		PatientID:      parent.PatientID,
		SiteID:         parent.SiteID,
		Date:           now, // a new activity session, deliberately not the parent's date
		Surgeon:        parent.Surgeon,
		SeedActivity:   parent.SeedActivity,
		StartedAt:      now,
		ParentID:       &parentID,
		LastActivityAt: now,
	}
	for _, a := range parent.ReusableApplicators() {
		inherited := a
		inherited.ID = uuid.New()
		inherited.TreatmentID = child.ID
		inherited.FromParentTreatment = true
		child.Applicators = append(child.Applicators, inherited)
	}

	if err := m.store.CreateContinuation(ctx, child); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "a continuation of this treatment already exists for today")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create continuation")
	}

	m.logAudit(ctx, actor, child, len(child.Applicators))
	if m.metrics != nil {
		m.metrics.ContinuationsCreated.Inc()
	}
	return child, nil
}

func (m *Manager) logAudit(ctx context.Context, actor string, child *treatment.Treatment, inherited int) {
	if m.logger != nil {
		m.logger.InfoContext(ctx, "continuation created",
			"request_id", middleware.GetRequestID(ctx),
			"treatment_id", child.ID,
			"parent_treatment_id", child.ParentID,
			"inherited_applicators", inherited,
			"log_type", "audit",
		)
	}
	if m.audit == nil {
		return
	}
	_ = m.audit.Emit(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionContinuationCreated,
		TreatmentID: child.ID.String(),
	})
}
