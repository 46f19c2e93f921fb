package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dosegate/internal/escalation/models"
	"dosegate/internal/platform/middleware"
	settingsmodels "dosegate/internal/settings/models"
	"dosegate/internal/transport/shared"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/requestcontext"
)

// Engine defines the escalation operations the handler needs.
type Engine interface {
	GrantException(ctx context.Context, tenantID id.TenantID, patientID id.PatientID, days int, cfg settingsmodels.DiversionSettings) (models.ExceptionGrant, error)
	ResolveCallback(ctx context.Context, eventID id.EventID) error
	EventsForPatient(ctx context.Context, patientID id.PatientID) ([]models.EscalationEvent, error)
}

// ViolationResolver marks a violation record handled.
type ViolationResolver interface {
	Resolve(ctx context.Context, recordID id.RecordID) error
}

// SettingsLoader supplies the tenant policy bounding exception grants.
type SettingsLoader interface {
	Load(ctx context.Context, tenantID id.TenantID) (*settingsmodels.DiversionSettings, error)
}

// Handler exposes the admin-only review workflow: exception grants and the
// human resolution of callbacks and violations.
type Handler struct {
	engine     Engine
	violations ViolationResolver
	settings   SettingsLoader
	logger     *slog.Logger
}

func New(engine Engine, violations ViolationResolver, settings SettingsLoader, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, violations: violations, settings: settings, logger: logger}
}

// Register mounts the review routes. Caller wraps with RequireAuth +
// RequireAdmin.
func (h *Handler) Register(r chi.Router) {
	r.Post("/diversion/exceptions", h.handleGrantException)
	r.Post("/diversion/escalations/{eventID}/resolve", h.handleResolveCallback)
	r.Post("/diversion/violations/{recordID}/resolve", h.handleResolveViolation)
	r.Get("/diversion/patients/{patientID}/escalations", h.handleListEvents)
}

type grantRequest struct {
	PatientID string `json:"patient_id"`
	Days      int    `json:"days"`
}

type grantResponse struct {
	GrantID   string    `json:"grant_id"`
	PatientID string    `json:"patient_id"`
	GrantedAt time.Time `json:"granted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) handleGrantException(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	patientID, err := id.ParsePatientID(req.PatientID)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid patient id"))
		return
	}
	tenantID := requestcontext.TenantID(ctx)
	cfg, err := h.settings.Load(ctx, tenantID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	grant, err := h.engine.GrantException(ctx, tenantID, patientID, req.Days, *cfg)
	if err != nil {
		h.logger.WarnContext(ctx, "exception grant rejected",
			"request_id", middleware.GetRequestID(ctx),
			"patient_id", patientID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, grantResponse{
		GrantID:   grant.ID.String(),
		PatientID: grant.PatientID.String(),
		GrantedAt: grant.GrantedAt,
		ExpiresAt: grant.ExpiresAt,
	})
}

func (h *Handler) handleResolveCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	eventID, err := id.ParseEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid event id"))
		return
	}
	if err := h.engine.ResolveCallback(ctx, eventID); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) handleResolveViolation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid record id"))
		return
	}
	if err := h.violations.Resolve(ctx, recordID); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	patientID, err := id.ParsePatientID(chi.URLParam(r, "patientID"))
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid patient id"))
		return
	}
	events, err := h.engine.EventsForPatient(ctx, patientID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if events == nil {
		events = []models.EscalationEvent{}
	}
	shared.WriteJSON(w, http.StatusOK, events)
}
