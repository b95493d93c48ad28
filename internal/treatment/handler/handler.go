package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"seedtrace/internal/applicator"
	"seedtrace/internal/continuation"
	"seedtrace/internal/platform/metrics"
	"seedtrace/internal/platform/middleware"
	"seedtrace/internal/removal"
	"seedtrace/internal/timewindow"
	"seedtrace/internal/treatment"
	"seedtrace/internal/treatment/service"
	"seedtrace/internal/validation"
	dErrors "seedtrace/pkg/domain-errors"
	"seedtrace/pkg/platform/httputil"
)

// Service defines the interface for treatment operations.
type Service interface {
	CreateTreatment(ctx context.Context, req service.CreateTreatmentRequest) (*treatment.Treatment, error)
	GetTreatment(ctx context.Context, id uuid.UUID) (*treatment.Treatment, error)
	ValidateScan(ctx context.Context, treatmentID uuid.UUID, serialNumber string, sessionSerials []string) (validation.Result, error)
	AddApplicator(ctx context.Context, treatmentID uuid.UUID, req service.AddApplicatorRequest, actor string) (*applicator.Applicator, error)
	ApplyTransition(ctx context.Context, treatmentID, applicatorID uuid.UUID, tr applicator.Transition, role treatment.Role) (*applicator.Applicator, error)
	CheckTimeWindow(ctx context.Context, treatmentID uuid.UUID, applicatorID *uuid.UUID, role treatment.Role) (timewindow.Decision, error)
	CompleteTreatment(ctx context.Context, treatmentID uuid.UUID, actor string) error
	RecordRemoval(ctx context.Context, treatmentID, applicatorID uuid.UUID, actor string, role treatment.Role) (*applicator.Applicator, error)
	ReconcileRemoval(ctx context.Context, treatmentID uuid.UUID) (removal.Summary, error)
	FinalizeRemoval(ctx context.Context, treatmentID uuid.UUID, form removal.Form, actor string) (removal.Summary, error)
}

// Continuations defines the interface for the continuation workflow.
type Continuations interface {
	Eligibility(ctx context.Context, treatmentID uuid.UUID) (continuation.Eligibility, error)
	Continue(ctx context.Context, treatmentID uuid.UUID, actor string) (*treatment.Treatment, error)
}

// Handler wires treatment endpoints to the treatment service.
type Handler struct {
	service       Service
	continuations Continuations
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

// New constructs a treatment Handler with its dependencies.
func New(service Service, continuations Continuations, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		service:       service,
		continuations: continuations,
		logger:        logger,
		metrics:       metrics,
	}
}

// Register mounts the treatment routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	treatmentRouter := chi.NewRouter()
	treatmentRouter.Use(middleware.Recovery(h.logger))
	treatmentRouter.Use(middleware.RequestID)
	treatmentRouter.Use(middleware.ActorContext)
	treatmentRouter.Use(middleware.Logger(h.logger))
	treatmentRouter.Use(middleware.Timeout(30 * time.Second))
	treatmentRouter.Use(middleware.ContentTypeJSON)
	treatmentRouter.Use(middleware.Latency(h.metrics))

	treatmentRouter.Post("/treatments", h.handleCreateTreatment)
	treatmentRouter.Get("/treatments/{treatmentID}", h.handleGetTreatment)
	treatmentRouter.Post("/treatments/{treatmentID}/complete", h.handleCompleteTreatment)
	treatmentRouter.Get("/treatments/{treatmentID}/edit-window", h.handleEditWindow)

	treatmentRouter.Post("/treatments/{treatmentID}/applicators/validate", h.handleValidateScan)
	treatmentRouter.Post("/treatments/{treatmentID}/applicators", h.handleAddApplicator)
	treatmentRouter.Post("/treatments/{treatmentID}/applicators/{applicatorID}/transition", h.handleTransition)
	treatmentRouter.Post("/treatments/{treatmentID}/applicators/{applicatorID}/removal", h.handleRecordRemoval)

	treatmentRouter.Get("/treatments/{treatmentID}/continuation", h.handleContinuationEligibility)
	treatmentRouter.Post("/treatments/{treatmentID}/continuation", h.handleContinue)

	treatmentRouter.Get("/treatments/{treatmentID}/removal/reconciliation", h.handleReconciliation)
	treatmentRouter.Post("/treatments/{treatmentID}/removal/finalize", h.handleFinalizeRemoval)

	r.Mount("/", treatmentRouter)
}

func (h *Handler) handleCreateTreatment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.Decode[createTreatmentRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.CreateTreatment(ctx, req.toDomain())
	if err != nil {
		h.logger.WarnContext(ctx, "failed to create treatment",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, fromTreatment(created))
}

func (h *Handler) handleGetTreatment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}

	t, err := h.service.GetTreatment(ctx, treatmentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromTreatment(t))
}

func (h *Handler) handleCompleteTreatment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}

	if err := h.service.CompleteTreatment(ctx, treatmentID, middleware.GetActor(ctx)); err != nil {
		h.logger.WarnContext(ctx, "failed to complete treatment",
			"request_id", requestID,
			"treatment_id", treatmentID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEditWindow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}

	var applicatorID *uuid.UUID
	if raw := r.URL.Query().Get("applicator_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "applicator_id must be a UUID"))
			return
		}
		applicatorID = &id
	}

	decision, err := h.service.CheckTimeWindow(ctx, treatmentID, applicatorID, middleware.GetActorRole(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromDecision(decision))
}

func (h *Handler) handleValidateScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}
	req, ok := httputil.Decode[validateScanRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.ValidateScan(ctx, treatmentID, req.SerialNumber, req.SessionSerials)
	if err != nil {
		h.logger.WarnContext(ctx, "scan validation failed",
			"request_id", requestID,
			"treatment_id", treatmentID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromValidation(result))
}

func (h *Handler) handleAddApplicator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}
	req, ok := httputil.Decode[addApplicatorRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	a, err := h.service.AddApplicator(ctx, treatmentID, service.AddApplicatorRequest{
		SerialNumber:    req.SerialNumber,
		SeedQuantity:    req.SeedQuantity,
		OverrideComment: req.OverrideComment,
	}, middleware.GetActor(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to add applicator",
			"request_id", requestID,
			"treatment_id", treatmentID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, fromApplicator(*a))
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}
	applicatorID, ok := h.pathID(w, r, "applicatorID")
	if !ok {
		return
	}
	req, ok := httputil.Decode[transitionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	tr := applicator.Transition{
		To:              applicator.Status(req.Status),
		Actor:           middleware.GetActor(ctx),
		Comment:         req.Comment,
		InsertedSeedQty: req.InsertedSeedQty,
	}
	if req.InsertedAt != nil {
		ts, err := time.Parse(time.RFC3339, *req.InsertedAt)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "inserted_at must be RFC 3339"))
			return
		}
		tr.InsertedAt = &ts
	}

	updated, err := h.service.ApplyTransition(ctx, treatmentID, applicatorID, tr, middleware.GetActorRole(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "transition rejected",
			"request_id", requestID,
			"treatment_id", treatmentID,
			"applicator_id", applicatorID,
			"target_status", req.Status,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromApplicator(*updated))
}

func (h *Handler) handleRecordRemoval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}
	applicatorID, ok := h.pathID(w, r, "applicatorID")
	if !ok {
		return
	}

	updated, err := h.service.RecordRemoval(ctx, treatmentID, applicatorID, middleware.GetActor(ctx), middleware.GetActorRole(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "failed to record removal",
			"request_id", requestID,
			"treatment_id", treatmentID,
			"applicator_id", applicatorID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromApplicator(*updated))
}

func (h *Handler) handleContinuationEligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}

	eligibility, err := h.continuations.Eligibility(ctx, treatmentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromEligibility(eligibility))
}

func (h *Handler) handleContinue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}

	child, err := h.continuations.Continue(ctx, treatmentID, middleware.GetActor(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "continuation rejected",
			"request_id", requestID,
			"treatment_id", treatmentID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, fromTreatment(child))
}

func (h *Handler) handleReconciliation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}

	summary, err := h.service.ReconcileRemoval(ctx, treatmentID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromSummary(summary))
}

func (h *Handler) handleFinalizeRemoval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	treatmentID, ok := h.pathID(w, r, "treatmentID")
	if !ok {
		return
	}
	req, ok := httputil.Decode[finalizeRemovalRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	summary, err := h.service.FinalizeRemoval(ctx, treatmentID, req.toDomain(), middleware.GetActor(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "removal finalization rejected",
			"request_id", requestID,
			"treatment_id", treatmentID,
			"error", err.Error(),
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, fromSummary(summary))
}

// pathID parses a UUID path parameter, answering the client on failure.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		httputil.WriteError(w, dErrors.Newf(dErrors.CodeBadRequest, "%s must be a UUID", param))
		return uuid.Nil, false
	}
	return id, true
}
