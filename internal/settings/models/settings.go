package models

import (
	"time"

	"dosegate/internal/dosingwindow"
	id "dosegate/pkg/domain"
	dErrors "dosegate/pkg/domain-errors"
)

// DiversionSettings is the tenant-scoped diversion-control policy.
//
// Invariants:
//   - exactly one active version per tenant
//   - updates append a new version; old versions are retained for audit replay
//   - every numeric field is range-checked before the policy can reach the
//     session machine; an invalid policy blocks the tenant's diversion feature
//     entirely rather than falling back to defaults
type DiversionSettings struct {
	ID       id.SettingsID `json:"id"`
	TenantID id.TenantID   `json:"tenant_id"`
	Version  int           `json:"version"`
	Active   bool          `json:"active"`

	GeofenceRadiusMeters         int                 `json:"geofence_radius_meters"`
	DosingWindow                 dosingwindow.Window `json:"dosing_window"`
	BiometricConfidenceThreshold float64             `json:"biometric_confidence_threshold"`
	RequireBiometric             bool                `json:"require_biometric"`
	AlertDelay                   time.Duration       `json:"alert_delay"`
	CallbackThresholdViolations  int                 `json:"callback_threshold_violations"`
	NotifySponsorOnViolation     bool                `json:"notify_sponsor_on_violation"`
	AllowLocationExceptions      bool                `json:"allow_location_exceptions"`
	MaxExceptionDays             int                 `json:"max_exception_days"`
	RequireSealPhoto             bool                `json:"require_seal_photo"`
	AutoAlertOnMiss              bool                `json:"auto_alert_on_miss"`
	MaxRegisteredDevices         int                 `json:"max_registered_devices"`
	RiskScoreWindowDays          int                 `json:"risk_score_window_days"`
	StageRetryLimit              int                 `json:"stage_retry_limit"`
	EmergencyContact             string              `json:"emergency_contact"`

	CreatedAt time.Time `json:"created_at"`
}

// DefaultStageRetryLimit bounds per-stage retries when a tenant has not set
// its own limit.
const DefaultStageRetryLimit = 3

// Validate enforces the policy range invariants. Called at load AND at update
// so an inconsistent policy can never reach the session machine.
func (s *DiversionSettings) Validate() error {
	if s.TenantID.IsNil() {
		return invalid("tenant id is required")
	}
	if s.GeofenceRadiusMeters <= 0 {
		return invalid("geofence radius must be positive")
	}
	if !s.DosingWindow.Start.Valid() || !s.DosingWindow.End.Valid() {
		return invalid("dosing window bounds must be valid times of day")
	}
	if s.DosingWindow.Start == s.DosingWindow.End {
		return invalid("dosing window must not be zero-length")
	}
	if s.BiometricConfidenceThreshold <= 0 || s.BiometricConfidenceThreshold > 100 {
		return invalid("biometric confidence threshold must be in (0,100]")
	}
	if s.AlertDelay < 0 {
		return invalid("alert delay must not be negative")
	}
	if s.CallbackThresholdViolations < 1 {
		return invalid("callback threshold must be at least 1")
	}
	if s.MaxExceptionDays < 0 {
		return invalid("max exception days must not be negative")
	}
	if s.MaxRegisteredDevices < 0 {
		return invalid("max registered devices must not be negative")
	}
	if s.RiskScoreWindowDays <= 0 {
		return invalid("risk score window must be positive")
	}
	if s.StageRetryLimit < 1 {
		return invalid("stage retry limit must be at least 1")
	}
	if s.EmergencyContact == "" {
		return invalid("emergency contact is required")
	}
	return nil
}

func invalid(msg string) error {
	return dErrors.New(dErrors.CodeInvalidSettings, msg)
}

// Update carries a partial settings change. Nil fields keep the active
// version's value; the result is validated as a whole before it is appended
// as a new version.
type Update struct {
	GeofenceRadiusMeters         *int
	DosingWindow                 *dosingwindow.Window
	BiometricConfidenceThreshold *float64
	RequireBiometric             *bool
	AlertDelay                   *time.Duration
	CallbackThresholdViolations  *int
	NotifySponsorOnViolation     *bool
	AllowLocationExceptions      *bool
	MaxExceptionDays             *int
	RequireSealPhoto             *bool
	AutoAlertOnMiss              *bool
	MaxRegisteredDevices         *int
	RiskScoreWindowDays          *int
	StageRetryLimit              *int
	EmergencyContact             *string
}

// Apply returns a copy of base with the non-nil fields of u replacing the
// base values. Version bookkeeping belongs to the store, not here.
func (u Update) Apply(base DiversionSettings) DiversionSettings {
	next := base
	if u.GeofenceRadiusMeters != nil {
		next.GeofenceRadiusMeters = *u.GeofenceRadiusMeters
	}
	if u.DosingWindow != nil {
		next.DosingWindow = *u.DosingWindow
	}
	if u.BiometricConfidenceThreshold != nil {
		next.BiometricConfidenceThreshold = *u.BiometricConfidenceThreshold
	}
	if u.RequireBiometric != nil {
		next.RequireBiometric = *u.RequireBiometric
	}
	if u.AlertDelay != nil {
		next.AlertDelay = *u.AlertDelay
	}
	if u.CallbackThresholdViolations != nil {
		next.CallbackThresholdViolations = *u.CallbackThresholdViolations
	}
	if u.NotifySponsorOnViolation != nil {
		next.NotifySponsorOnViolation = *u.NotifySponsorOnViolation
	}
	if u.AllowLocationExceptions != nil {
		next.AllowLocationExceptions = *u.AllowLocationExceptions
	}
	if u.MaxExceptionDays != nil {
		next.MaxExceptionDays = *u.MaxExceptionDays
	}
	if u.RequireSealPhoto != nil {
		next.RequireSealPhoto = *u.RequireSealPhoto
	}
	if u.AutoAlertOnMiss != nil {
		next.AutoAlertOnMiss = *u.AutoAlertOnMiss
	}
	if u.MaxRegisteredDevices != nil {
		next.MaxRegisteredDevices = *u.MaxRegisteredDevices
	}
	if u.RiskScoreWindowDays != nil {
		next.RiskScoreWindowDays = *u.RiskScoreWindowDays
	}
	if u.StageRetryLimit != nil {
		next.StageRetryLimit = *u.StageRetryLimit
	}
	if u.EmergencyContact != nil {
		next.EmergencyContact = *u.EmergencyContact
	}
	return next
}
