package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dosegate/internal/device"
	"dosegate/internal/platform/middleware"
	settingsmodels "dosegate/internal/settings/models"
	"dosegate/internal/transport/shared"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/requestcontext"
)

const deviceTokenTTL = 24 * time.Hour

// Registrar defines the device operations the handler needs.
type Registrar interface {
	Register(ctx context.Context, patientID id.PatientID, userAgent, pairingSecret string, maxDevices int) (*device.Registration, error)
	Verify(ctx context.Context, patientID id.PatientID, deviceID id.DeviceID, pairingSecret string) error
}

// TokenIssuer mints device-scoped JWTs after pairing proof.
type TokenIssuer interface {
	GenerateDeviceToken(tenantID id.TenantID, patientID id.PatientID, deviceID id.DeviceID, expiresIn time.Duration) (string, error)
}

// SettingsLoader supplies the device cap.
type SettingsLoader interface {
	Load(ctx context.Context, tenantID id.TenantID) (*settingsmodels.DiversionSettings, error)
}

// Handler covers the pairing lifecycle: clinic staff register a patient's
// device, the device then exchanges its pairing secret for a JWT.
type Handler struct {
	devices  Registrar
	tokens   TokenIssuer
	settings SettingsLoader
	logger   *slog.Logger
}

func New(devices Registrar, tokens TokenIssuer, settings SettingsLoader, logger *slog.Logger) *Handler {
	return &Handler{devices: devices, tokens: tokens, settings: settings, logger: logger}
}

// RegisterAdmin mounts the staff-side registration route. Caller wraps with
// RequireAuth + RequireAdmin.
func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Post("/diversion/devices", h.handleRegister)
}

// RegisterPublic mounts the token exchange. The pairing secret is the
// credential; no prior JWT exists at this point.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Post("/auth/device-token", h.handleToken)
}

type registerRequest struct {
	PatientID     string `json:"patient_id"`
	PairingSecret string `json:"pairing_secret"`
}

type registerResponse struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	patientID, err := id.ParsePatientID(req.PatientID)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid patient id"))
		return
	}
	cfg, err := h.settings.Load(ctx, requestcontext.TenantID(ctx))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	reg, err := h.devices.Register(ctx, patientID, r.UserAgent(), req.PairingSecret, cfg.MaxRegisteredDevices)
	if err != nil {
		h.logger.WarnContext(ctx, "device registration rejected",
			"request_id", middleware.GetRequestID(ctx),
			"patient_id", patientID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, registerResponse{
		DeviceID:    reg.ID.String(),
		DisplayName: reg.DisplayName,
	})
}

type tokenRequest struct {
	TenantID      string `json:"tenant_id"`
	PatientID     string `json:"patient_id"`
	DeviceID      string `json:"device_id"`
	PairingSecret string `json:"pairing_secret"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in_seconds"`
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	tenantID, err := id.ParseTenantID(req.TenantID)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid tenant id"))
		return
	}
	patientID, err := id.ParsePatientID(req.PatientID)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid patient id"))
		return
	}
	deviceID, err := id.ParseDeviceID(req.DeviceID)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid device id"))
		return
	}
	if err := h.devices.Verify(ctx, patientID, deviceID, req.PairingSecret); err != nil {
		h.logger.WarnContext(ctx, "device token exchange rejected",
			"request_id", middleware.GetRequestID(ctx),
			"patient_id", patientID.String(),
			"error", err.Error(),
		)
		shared.WriteError(w, err)
		return
	}
	token, err := h.tokens.GenerateDeviceToken(tenantID, patientID, deviceID, deviceTokenTTL)
	if err != nil {
		shared.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "issue device token"))
		return
	}
	shared.WriteJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresIn: int64(deviceTokenTTL.Seconds()),
	})
}
