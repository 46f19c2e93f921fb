package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dosegate/internal/dosingwindow"
	"dosegate/internal/platform/middleware"
	"dosegate/internal/settings/models"
	"dosegate/internal/transport/shared"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/requestcontext"
)

// Service defines the settings operations the handler needs.
type Service interface {
	Load(ctx context.Context, tenantID id.TenantID) (*models.DiversionSettings, error)
	Update(ctx context.Context, tenantID id.TenantID, update models.Update) (*models.DiversionSettings, error)
	Bootstrap(ctx context.Context, settings models.DiversionSettings) (*models.DiversionSettings, error)
	Versions(ctx context.Context, tenantID id.TenantID) ([]models.DiversionSettings, error)
}

// Handler exposes admin-only, tenant-scoped settings endpoints.
type Handler struct {
	settings Service
	logger   *slog.Logger
}

func New(settings Service, logger *slog.Logger) *Handler {
	return &Handler{settings: settings, logger: logger}
}

// Register mounts the settings routes. Caller wraps with RequireAuth +
// RequireAdmin.
func (h *Handler) Register(r chi.Router) {
	r.Get("/diversion/settings", h.handleGet)
	r.Put("/diversion/settings", h.handlePut)
	r.Post("/diversion/settings", h.handleBootstrap)
	r.Get("/diversion/settings/versions", h.handleVersions)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := h.settings.Load(ctx, requestcontext.TenantID(ctx))
	if err != nil {
		h.logger.WarnContext(ctx, "settings load failed",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, settings)
}

// updateRequest mirrors models.Update with JSON tags; pointer fields
// distinguish "absent" from zero values.
type updateRequest struct {
	GeofenceRadiusMeters         *int           `json:"geofence_radius_meters"`
	DosingWindow                 *windowRequest `json:"dosing_window"`
	BiometricConfidenceThreshold *float64       `json:"biometric_confidence_threshold"`
	RequireBiometric             *bool          `json:"require_biometric"`
	AlertDelaySeconds            *int64         `json:"alert_delay_seconds"`
	CallbackThresholdViolations  *int           `json:"callback_threshold_violations"`
	NotifySponsorOnViolation     *bool          `json:"notify_sponsor_on_violation"`
	AllowLocationExceptions      *bool          `json:"allow_location_exceptions"`
	MaxExceptionDays             *int           `json:"max_exception_days"`
	RequireSealPhoto             *bool          `json:"require_seal_photo"`
	AutoAlertOnMiss              *bool          `json:"auto_alert_on_miss"`
	MaxRegisteredDevices         *int           `json:"max_registered_devices"`
	RiskScoreWindowDays          *int           `json:"risk_score_window_days"`
	StageRetryLimit              *int           `json:"stage_retry_limit"`
	EmergencyContact             *string        `json:"emergency_contact"`
}

type windowRequest struct {
	StartHour   int `json:"start_hour"`
	StartMinute int `json:"start_minute"`
	EndHour     int `json:"end_hour"`
	EndMinute   int `json:"end_minute"`
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	updated, err := h.settings.Update(ctx, requestcontext.TenantID(ctx), req.toUpdate())
	if err != nil {
		h.logger.WarnContext(ctx, "settings update rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, updated)
}

// bootstrapRequest carries the full initial policy for a tenant.
type bootstrapRequest struct {
	GeofenceRadiusMeters         int           `json:"geofence_radius_meters"`
	DosingWindow                 windowRequest `json:"dosing_window"`
	BiometricConfidenceThreshold float64       `json:"biometric_confidence_threshold"`
	RequireBiometric             bool          `json:"require_biometric"`
	AlertDelaySeconds            int64         `json:"alert_delay_seconds"`
	CallbackThresholdViolations  int           `json:"callback_threshold_violations"`
	NotifySponsorOnViolation     bool          `json:"notify_sponsor_on_violation"`
	AllowLocationExceptions      bool          `json:"allow_location_exceptions"`
	MaxExceptionDays             int           `json:"max_exception_days"`
	RequireSealPhoto             bool          `json:"require_seal_photo"`
	AutoAlertOnMiss              bool          `json:"auto_alert_on_miss"`
	MaxRegisteredDevices         int           `json:"max_registered_devices"`
	RiskScoreWindowDays          int           `json:"risk_score_window_days"`
	StageRetryLimit              int           `json:"stage_retry_limit"`
	EmergencyContact             string        `json:"emergency_contact"`
}

func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req bootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	created, err := h.settings.Bootstrap(ctx, models.DiversionSettings{
		TenantID:             requestcontext.TenantID(ctx),
		GeofenceRadiusMeters: req.GeofenceRadiusMeters,
		DosingWindow: dosingwindow.Window{
			Start: dosingwindow.TimeOfDay{Hour: req.DosingWindow.StartHour, Minute: req.DosingWindow.StartMinute},
			End:   dosingwindow.TimeOfDay{Hour: req.DosingWindow.EndHour, Minute: req.DosingWindow.EndMinute},
		},
		BiometricConfidenceThreshold: req.BiometricConfidenceThreshold,
		RequireBiometric:             req.RequireBiometric,
		AlertDelay:                   time.Duration(req.AlertDelaySeconds) * time.Second,
		CallbackThresholdViolations:  req.CallbackThresholdViolations,
		NotifySponsorOnViolation:     req.NotifySponsorOnViolation,
		AllowLocationExceptions:      req.AllowLocationExceptions,
		MaxExceptionDays:             req.MaxExceptionDays,
		RequireSealPhoto:             req.RequireSealPhoto,
		AutoAlertOnMiss:              req.AutoAlertOnMiss,
		MaxRegisteredDevices:         req.MaxRegisteredDevices,
		RiskScoreWindowDays:          req.RiskScoreWindowDays,
		StageRetryLimit:              req.StageRetryLimit,
		EmergencyContact:             req.EmergencyContact,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "settings bootstrap rejected",
			"request_id", middleware.GetRequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleVersions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	versions, err := h.settings.Versions(ctx, requestcontext.TenantID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (r updateRequest) toUpdate() models.Update {
	update := models.Update{
		GeofenceRadiusMeters:         r.GeofenceRadiusMeters,
		BiometricConfidenceThreshold: r.BiometricConfidenceThreshold,
		RequireBiometric:             r.RequireBiometric,
		CallbackThresholdViolations:  r.CallbackThresholdViolations,
		NotifySponsorOnViolation:     r.NotifySponsorOnViolation,
		AllowLocationExceptions:      r.AllowLocationExceptions,
		MaxExceptionDays:             r.MaxExceptionDays,
		RequireSealPhoto:             r.RequireSealPhoto,
		AutoAlertOnMiss:              r.AutoAlertOnMiss,
		MaxRegisteredDevices:         r.MaxRegisteredDevices,
		RiskScoreWindowDays:          r.RiskScoreWindowDays,
		StageRetryLimit:              r.StageRetryLimit,
		EmergencyContact:             r.EmergencyContact,
	}
	if r.DosingWindow != nil {
		w := dosingwindow.Window{
			Start: dosingwindow.TimeOfDay{Hour: r.DosingWindow.StartHour, Minute: r.DosingWindow.StartMinute},
			End:   dosingwindow.TimeOfDay{Hour: r.DosingWindow.EndHour, Minute: r.DosingWindow.EndMinute},
		}
		update.DosingWindow = &w
	}
	if r.AlertDelaySeconds != nil {
		d := time.Duration(*r.AlertDelaySeconds) * time.Second
		update.AlertDelay = &d
	}
	return update
}
