package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"seedtrace/internal/applicator"
	"seedtrace/internal/audit"
	"seedtrace/internal/platform/metrics"
	"seedtrace/internal/platform/middleware"
	"seedtrace/internal/registry"
	"seedtrace/internal/removal"
	"seedtrace/internal/timewindow"
	"seedtrace/internal/treatment"
	"seedtrace/internal/validation"
	"seedtrace/pkg/clock"
	dErrors "seedtrace/pkg/domain-errors"
	"seedtrace/pkg/platform/sentinel"
)

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service orchestrates the treatment workflow: scan validation, applicator
// status transitions, completion, and removal reconciliation. Domain rules
// live in the engine packages; this layer sequences them, talks to the
// Registry, and translates store sentinels into domain errors.
type Service struct {
	store     treatment.Store
	gateway   registry.Gateway
	validator *validation.Validator
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Metrics
	audit     AuditPublisher

	// pushBestEffort relaxes the hard-fail rule on Registry pushes.
	// Default false: a failed push aborts the local write so the local
	// record never diverges from the system of record.
	pushBestEffort bool
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) { s.audit = publisher }
}

func WithBestEffortPush() Option {
	return func(s *Service) { s.pushBestEffort = true }
}

// New constructs a Service.
func New(store treatment.Store, gateway registry.Gateway, clk clock.Clock, opts ...Option) *Service {
	s := &Service{store: store, gateway: gateway, clock: clk}
	for _, opt := range opts {
		opt(s)
	}
	s.validator = validation.New(gateway, s.logger)
	return s
}

// CreateTreatmentRequest carries the fields pre-populated from the Registry
// by the caller.
type CreateTreatmentRequest struct {
	RegistryOrderID string
	Type            treatment.Type
	PatientID       string
	SiteID          string
	Surgeon         string
	SeedActivity    float64
}

func (r *CreateTreatmentRequest) Validate() error {
	if !r.Type.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "unknown treatment type %q", r.Type)
	}
	if strings.TrimSpace(r.PatientID) == "" {
		return dErrors.New(dErrors.CodeValidation, "patient_id is required")
	}
	if strings.TrimSpace(r.SiteID) == "" {
		return dErrors.New(dErrors.CodeValidation, "site_id is required")
	}
	return nil
}

func (s *Service) CreateTreatment(ctx context.Context, req CreateTreatmentRequest) (*treatment.Treatment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	t := &treatment.Treatment{
		ID:              uuid.New(),
		RegistryOrderID: req.RegistryOrderID,
		Type:            req.Type,
		PatientID:       req.PatientID,
		SiteID:          req.SiteID,
		Date:            now,
		Surgeon:         req.Surgeon,
		SeedActivity:    req.SeedActivity,
		StartedAt:       now,
		LastActivityAt:  now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create treatment")
	}
	s.logAudit(ctx, audit.Event{
		Action:      audit.ActionTreatmentCreated,
		TreatmentID: t.ID.String(),
	}, "type", string(t.Type))
	return t, nil
}

func (s *Service) GetTreatment(ctx context.Context, id uuid.UUID) (*treatment.Treatment, error) {
	return s.load(ctx, id)
}

// ValidateScan resolves a scanned serial number against the validation
// scenarios. The session's scanned set is merged with the treatment's
// committed serials so a committed duplicate is caught even when the caller
// supplies an empty session.
func (s *Service) ValidateScan(ctx context.Context, treatmentID uuid.UUID, serialNumber string, sessionSerials []string) (validation.Result, error) {
	serialNumber = strings.TrimSpace(serialNumber)
	if serialNumber == "" {
		return validation.Result{}, dErrors.New(dErrors.CodeValidation, "serial_number is required")
	}
	t, err := s.load(ctx, treatmentID)
	if err != nil {
		return validation.Result{}, err
	}
	if t.IsComplete {
		return validation.Result{}, dErrors.New(dErrors.CodeValidation, "treatment is complete; create a continuation to add applicators")
	}

	scanned := make(map[string]bool, len(sessionSerials)+len(t.Applicators))
	for _, sn := range sessionSerials {
		scanned[sn] = true
	}
	for _, sn := range t.SerialNumbers() {
		scanned[sn] = true
	}

	in := validation.Input{
		SerialNumber:   serialNumber,
		PatientID:      t.PatientID,
		SiteID:         t.SiteID,
		TreatmentDate:  t.Date,
		ScannedSerials: scanned,
	}
	if t.ParentID != nil {
		parent, err := s.load(ctx, *t.ParentID)
		if err != nil {
			return validation.Result{}, err
		}
		in.ParentTerminalSerials = parent.TerminalSerials()
	}

	result := s.validator.Validate(ctx, in)
	if s.metrics != nil {
		s.metrics.ScansValidated.WithLabelValues(string(result.Scenario)).Inc()
	}
	s.logAudit(ctx, audit.Event{
		Action:       audit.ActionScanValidated,
		TreatmentID:  t.ID.String(),
		SerialNumber: serialNumber,
		Details:      string(result.Scenario),
	}, "scenario", string(result.Scenario))
	return result, nil
}

// AddApplicatorRequest registers a validated scan on the treatment.
// OverrideComment is required when the validation scenario demanded
// confirmation; it becomes part of the audit trail.
type AddApplicatorRequest struct {
	SerialNumber    string
	SeedQuantity    int
	OverrideComment string
}

func (s *Service) AddApplicator(ctx context.Context, treatmentID uuid.UUID, req AddApplicatorRequest, actor string) (*applicator.Applicator, error) {
	req.SerialNumber = strings.TrimSpace(req.SerialNumber)
	if req.SerialNumber == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "serial_number is required")
	}
	if req.SeedQuantity <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "seed_quantity must be positive")
	}
	t, err := s.load(ctx, treatmentID)
	if err != nil {
		return nil, err
	}
	if t.IsComplete {
		return nil, dErrors.New(dErrors.CodeValidation, "treatment is complete; create a continuation to add applicators")
	}

	a := &applicator.Applicator{
		ID:           uuid.New(),
		TreatmentID:  t.ID,
		SerialNumber: req.SerialNumber,
		Status:       applicator.StatusSealed,
		SeedQuantity: req.SeedQuantity,
		Comments:     req.OverrideComment,
	}

	// The Registry must accept the record before it is durable locally.
	if err := s.pushUsage(ctx, t, a); err != nil {
		return nil, err
	}

	if err := s.store.AddApplicator(ctx, a, s.clock.Now()); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrConflict):
			return nil, dErrors.New(dErrors.CodeConflict, "applicator was already scanned in this treatment")
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeValidation, "treatment is complete")
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add applicator")
		}
	}

	action := audit.ActionScanValidated
	if req.OverrideComment != "" {
		action = audit.ActionScanOverridden
	}
	s.logAudit(ctx, audit.Event{
		Actor:        actor,
		Action:       action,
		TreatmentID:  t.ID.String(),
		SerialNumber: a.SerialNumber,
		Details:      req.OverrideComment,
	})
	return a, nil
}

// ApplyTransition validates the edit window, runs the state machine, pushes
// the resulting usage to the Registry, and persists — in that order, so a
// Registry rejection leaves the local record untouched.
func (s *Service) ApplyTransition(ctx context.Context, treatmentID, applicatorID uuid.UUID, tr applicator.Transition, role treatment.Role) (*applicator.Applicator, error) {
	t, err := s.load(ctx, treatmentID)
	if err != nil {
		return nil, err
	}
	if t.IsComplete {
		return nil, dErrors.New(dErrors.CodeValidation, "completed treatment accepts no further applicator mutations")
	}
	current := t.FindApplicator(applicatorID)
	if current == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "applicator not found on this treatment")
	}

	decision := timewindow.Check(timewindow.Input{
		TreatmentDate:    t.Date,
		Now:              s.clock.Now(),
		Type:             t.Type,
		Role:             role,
		ApplicatorStatus: &current.Status,
	})
	if !decision.Editable {
		return nil, dErrors.New(dErrors.CodeTimeWindowExpired, decision.Reason)
	}

	updated := *current
	if err := applicator.Apply(&updated, tr); err != nil {
		return nil, err
	}

	if err := s.pushUsage(ctx, t, &updated); err != nil {
		return nil, err
	}

	if err := s.store.UpdateApplicator(ctx, &updated, s.clock.Now()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "applicator not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update applicator")
	}

	if s.metrics != nil {
		s.metrics.TransitionsApplied.WithLabelValues(string(updated.Status)).Inc()
	}
	s.logAudit(ctx, audit.Event{
		Actor:        tr.Actor,
		Action:       audit.ActionTransitionApplied,
		TreatmentID:  t.ID.String(),
		SerialNumber: updated.SerialNumber,
		Details:      string(updated.Status),
	}, "status", string(updated.Status))
	return &updated, nil
}

// CheckTimeWindow re-evaluates editability. Callers must not cache the
// decision; elapsed time changes continuously.
func (s *Service) CheckTimeWindow(ctx context.Context, treatmentID uuid.UUID, applicatorID *uuid.UUID, role treatment.Role) (timewindow.Decision, error) {
	t, err := s.load(ctx, treatmentID)
	if err != nil {
		return timewindow.Decision{}, err
	}
	in := timewindow.Input{
		TreatmentDate: t.Date,
		Now:           s.clock.Now(),
		Type:          t.Type,
		Role:          role,
	}
	if applicatorID != nil {
		a := t.FindApplicator(*applicatorID)
		if a == nil {
			return timewindow.Decision{}, dErrors.New(dErrors.CodeNotFound, "applicator not found on this treatment")
		}
		in.ApplicatorStatus = &a.Status
	}
	return timewindow.Check(in), nil
}

func (s *Service) CompleteTreatment(ctx context.Context, treatmentID uuid.UUID, actor string) error {
	t, err := s.load(ctx, treatmentID)
	if err != nil {
		return err
	}
	if t.IsComplete {
		return dErrors.New(dErrors.CodeConflict, "treatment is already complete")
	}

	if err := s.pushStatus(ctx, t, "completed"); err != nil {
		return err
	}

	if err := s.store.Complete(ctx, treatmentID, actor, s.clock.Now()); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return dErrors.New(dErrors.CodeConflict, "treatment is already complete")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete treatment")
	}

	if s.metrics != nil {
		s.metrics.TreatmentsCompleted.Inc()
	}
	s.logAudit(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionTreatmentCompleted,
		TreatmentID: t.ID.String(),
	})
	return nil
}

// RecordRemoval marks one applicator as physically removed.
func (s *Service) RecordRemoval(ctx context.Context, treatmentID, applicatorID uuid.UUID, actor string, role treatment.Role) (*applicator.Applicator, error) {
	t, err := s.load(ctx, treatmentID)
	if err != nil {
		return nil, err
	}
	if t.Type != treatment.TypeRemoval {
		return nil, dErrors.New(dErrors.CodeValidation, "removals can only be recorded on removal treatments")
	}
	if t.IsComplete {
		return nil, dErrors.New(dErrors.CodeValidation, "completed treatment accepts no further applicator mutations")
	}
	current := t.FindApplicator(applicatorID)
	if current == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "applicator not found on this treatment")
	}
	if current.Removed() {
		return nil, dErrors.New(dErrors.CodeConflict, "removal already recorded for this applicator")
	}

	decision := timewindow.Check(timewindow.Input{
		TreatmentDate: t.Date,
		Now:           s.clock.Now(),
		Type:          t.Type,
		Role:          role,
	})
	if !decision.Editable {
		return nil, dErrors.New(dErrors.CodeTimeWindowExpired, decision.Reason)
	}

	now := s.clock.Now()
	updated := *current
	updated.RemovedAt = &now
	updated.RemovedBy = actor
	if err := s.store.UpdateApplicator(ctx, &updated, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record removal")
	}
	return &updated, nil
}

// ReconcileRemoval aggregates the current removal state without finalizing.
func (s *Service) ReconcileRemoval(ctx context.Context, treatmentID uuid.UUID) (removal.Summary, error) {
	t, err := s.load(ctx, treatmentID)
	if err != nil {
		return removal.Summary{}, err
	}
	if t.Type != treatment.TypeRemoval {
		return removal.Summary{}, dErrors.New(dErrors.CodeValidation, "reconciliation applies to removal treatments only")
	}
	form, err := s.store.FindRemovalForm(ctx, treatmentID)
	if err != nil {
		return removal.Summary{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load removal form")
	}
	individualInserted, individualRemoved := 0, 0
	if form != nil {
		individualInserted = form.IndividualInserted
		individualRemoved = form.IndividualRemoved
	}
	return removal.Reconcile(t.Applicators, individualInserted, individualRemoved)
}

// FinalizeRemoval runs the discrepancy gate and, when it passes, persists the
// signed form and completes the treatment. A gap that does not balance
// exactly refuses finalization.
func (s *Service) FinalizeRemoval(ctx context.Context, treatmentID uuid.UUID, form removal.Form, actor string) (removal.Summary, error) {
	t, err := s.load(ctx, treatmentID)
	if err != nil {
		return removal.Summary{}, err
	}
	if t.Type != treatment.TypeRemoval {
		return removal.Summary{}, dErrors.New(dErrors.CodeValidation, "finalization applies to removal treatments only")
	}
	if t.IsComplete {
		return removal.Summary{}, dErrors.New(dErrors.CodeConflict, "removal is already finalized")
	}
	existing, err := s.store.FindRemovalForm(ctx, t.ID)
	if err != nil {
		return removal.Summary{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load removal form")
	}
	if existing.Finalized() {
		return removal.Summary{}, dErrors.New(dErrors.CodeConflict, "removal is already finalized")
	}

	summary, err := removal.Reconcile(t.Applicators, form.IndividualInserted, form.IndividualRemoved)
	if err != nil {
		return summary, err
	}
	if err := removal.FinalizeGate(summary, form.Clarification); err != nil {
		return summary, err
	}

	if err := s.pushStatus(ctx, t, "removal_finalized"); err != nil {
		return summary, err
	}

	now := s.clock.Now()
	form.TreatmentID = t.ID
	form.FinalizedBy = actor
	form.FinalizedAt = &now
	if err := s.store.SaveRemovalForm(ctx, &form); err != nil {
		return summary, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save removal form")
	}
	if err := s.store.Complete(ctx, t.ID, actor, now); err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
		return summary, dErrors.Wrap(err, dErrors.CodeInternal, "failed to complete treatment")
	}

	if s.metrics != nil {
		s.metrics.RemovalsFinalized.Inc()
	}
	s.logAudit(ctx, audit.Event{
		Actor:       actor,
		Action:      audit.ActionRemovalFinalized,
		TreatmentID: t.ID.String(),
	}, "sources_not_removed", summary.SourcesNotRemoved)
	return summary, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*treatment.Treatment, error) {
	t, err := s.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "treatment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load treatment")
	}
	return t, nil
}

// pushUsage reports an applicator outcome to the Registry before the local
// write. Treatments not yet correlated with a Registry order have nothing to
// push against.
func (s *Service) pushUsage(ctx context.Context, t *treatment.Treatment, a *applicator.Applicator) error {
	if t.RegistryOrderID == "" {
		return nil
	}
	err := s.gateway.PushApplicatorUsage(ctx, registry.UsagePush{
		TreatmentOrderID: t.RegistryOrderID,
		SerialNumber:     a.SerialNumber,
		Usage:            a.Status.Usage(),
		InsertedSeedQty:  a.EffectiveSeedQty(),
		Comments:         a.Comments,
	})
	return s.handlePushError(ctx, err, "applicator usage push failed")
}

func (s *Service) pushStatus(ctx context.Context, t *treatment.Treatment, status string) error {
	if t.RegistryOrderID == "" {
		return nil
	}
	err := s.gateway.PushTreatmentStatus(ctx, t.RegistryOrderID, status)
	return s.handlePushError(ctx, err, "treatment status push failed")
}

func (s *Service) handlePushError(ctx context.Context, err error, msg string) error {
	if err == nil {
		return nil
	}
	if s.metrics != nil {
		s.metrics.RegistryErrors.WithLabelValues(string(registry.CategoryOf(err))).Inc()
	}
	if s.pushBestEffort {
		if s.logger != nil {
			s.logger.WarnContext(ctx, msg+" (best-effort policy, continuing)",
				"request_id", middleware.GetRequestID(ctx),
				"error", err.Error(),
			)
		}
		return nil
	}
	return dErrors.Wrap(err, dErrors.CodeRegistryUnavailable, "the registry did not accept the update; nothing was saved")
}

func (s *Service) logAudit(ctx context.Context, event audit.Event, attributes ...any) {
	if requestID := middleware.GetRequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", string(event.Action), "treatment_id", event.TreatmentID, "log_type", "audit")
	if s.logger != nil {
		s.logger.InfoContext(ctx, string(event.Action), args...)
	}
	if s.audit == nil {
		return
	}
	if event.Actor == "" {
		event.Actor = middleware.GetActor(ctx)
	}
	_ = s.audit.Emit(ctx, event)
}
