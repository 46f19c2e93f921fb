package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dosegate/internal/biometric"
	"dosegate/internal/geofence"
	"dosegate/internal/platform/middleware"
	"dosegate/internal/session/service"
	settingsmodels "dosegate/internal/settings/models"
	"dosegate/internal/transport/shared"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/requestcontext"
)

// Service defines the session operations the handler needs.
type Service interface {
	StartAttempt(ctx context.Context, tenantID id.TenantID, patientID id.PatientID, deviceID id.DeviceID) (*service.Result, error)
	SubmitScan(ctx context.Context, attemptID id.AttemptID, codePayload string) (*service.Result, error)
	SubmitLocation(ctx context.Context, attemptID id.AttemptID, coords geofence.Coordinates) (*service.Result, error)
	SubmitBiometric(ctx context.Context, attemptID id.AttemptID, sample biometric.Sample) (*service.Result, error)
	Get(ctx context.Context, attemptID id.AttemptID) (*service.Result, error)
}

// ContactSource resolves the tenant's emergency contact for error envelopes
// on rejections that never create an attempt.
type ContactSource interface {
	Load(ctx context.Context, tenantID id.TenantID) (*settingsmodels.DiversionSettings, error)
}

// Handler exposes the patient-facing verification protocol.
type Handler struct {
	sessions Service
	contacts ContactSource
	logger   *slog.Logger
}

func New(sessions Service, contacts ContactSource, logger *slog.Logger) *Handler {
	return &Handler{sessions: sessions, contacts: contacts, logger: logger}
}

// Register mounts the attempt routes. Caller wraps with RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Post("/diversion/attempts", h.handleStart)
	r.Post("/diversion/attempts/{attemptID}/scan", h.handleScan)
	r.Post("/diversion/attempts/{attemptID}/location", h.handleLocation)
	r.Post("/diversion/attempts/{attemptID}/biometric", h.handleBiometric)
	r.Get("/diversion/attempts/{attemptID}", h.handleGet)
}

// attemptResponse is the uniform stage-submission envelope.
type attemptResponse struct {
	AttemptID              string   `json:"attempt_id"`
	State                  string   `json:"state"`
	Reason                 string   `json:"reason,omitempty"`
	UnitID                 string   `json:"unit_id,omitempty"`
	BiometricScore         *float64 `json:"biometric_score,omitempty"`
	WindowRemainingSeconds int64    `json:"window_remaining_seconds"`
	EmergencyContact       string   `json:"emergency_contact,omitempty"`
}

func toResponse(res *service.Result) attemptResponse {
	out := attemptResponse{
		AttemptID:              res.Attempt.ID.String(),
		State:                  string(res.Attempt.State),
		Reason:                 string(res.Attempt.FailureReason),
		BiometricScore:         res.Attempt.BiometricScore,
		WindowRemainingSeconds: int64(res.WindowRemaining.Seconds()),
		EmergencyContact:       res.EmergencyContact,
	}
	if !res.Attempt.UnitID.IsNil() {
		out.UnitID = res.Attempt.UnitID.String()
	}
	return out
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.sessions.StartAttempt(ctx,
		requestcontext.TenantID(ctx),
		requestcontext.PatientID(ctx),
		requestcontext.DeviceID(ctx),
	)
	if err != nil {
		h.logger.WarnContext(ctx, "start attempt rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteErrorWithContact(w, err, h.emergencyContact(ctx, err))
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toResponse(res))
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CodePayload string `json:"code_payload"`
	}
	h.handleStage(w, r, &req, func(ctx context.Context, attemptID id.AttemptID) (*service.Result, error) {
		return h.sessions.SubmitScan(ctx, attemptID, req.CodePayload)
	})
}

func (h *Handler) handleLocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	h.handleStage(w, r, &req, func(ctx context.Context, attemptID id.AttemptID) (*service.Result, error) {
		return h.sessions.SubmitLocation(ctx, attemptID, geofence.Coordinates{Lat: req.Lat, Lng: req.Lng})
	})
}

func (h *Handler) handleBiometric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sample []byte `json:"sample"`
	}
	h.handleStage(w, r, &req, func(ctx context.Context, attemptID id.AttemptID) (*service.Result, error) {
		return h.sessions.SubmitBiometric(ctx, attemptID, biometric.Sample(req.Sample))
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attemptID, err := id.ParseAttemptID(chi.URLParam(r, "attemptID"))
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid attempt id"))
		return
	}
	res, err := h.sessions.Get(ctx, attemptID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResponse(res))
}

// handleStage shares the decode/parse/respond plumbing of the three stage
// submissions.
func (h *Handler) handleStage(w http.ResponseWriter, r *http.Request, req any, submit func(context.Context, id.AttemptID) (*service.Result, error)) {
	ctx := r.Context()
	attemptID, err := id.ParseAttemptID(chi.URLParam(r, "attemptID"))
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid attempt id"))
		return
	}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	res, err := submit(ctx, attemptID)
	if err != nil {
		h.logger.WarnContext(ctx, "stage submission rejected",
			"request_id", middleware.GetRequestID(ctx),
			"attempt_id", attemptID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toResponse(res))
}

// emergencyContact resolves the clinic contact for policy rejections that
// leave no attempt behind. Best effort: a missing policy must not mask the
// original error.
func (h *Handler) emergencyContact(ctx context.Context, cause error) string {
	if dErrors.CodeOf(cause) != dErrors.CodeWindowClosed {
		return ""
	}
	cfg, err := h.contacts.Load(ctx, requestcontext.TenantID(ctx))
	if err != nil {
		return ""
	}
	return cfg.EmergencyContact
}
