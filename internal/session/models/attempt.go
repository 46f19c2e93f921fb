package models

import (
	"time"

	id "dosegate/pkg/domain"
	domainerrors "dosegate/pkg/domain-errors"
)

// State is the position of a verification attempt in the four-stage
// protocol. The ordering is strict: no stage is skipped and no backward
// transition exists except the bounded retry of the current stage.
type State string

const (
	StateScanning       State = "scanning"
	StateLocationCheck  State = "location_check"
	StateBiometricCheck State = "biometric_check"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// VerificationAttempt is one patient's pass through the verification
// protocol for one dose occasion. The attempt is owned by the session that
// created it and is immutable once terminal; the outcome is authoritative on
// the server, so a client reopening mid-session resumes rather than
// restarts.
type VerificationAttempt struct {
	ID        id.AttemptID `json:"id"`
	TenantID  id.TenantID  `json:"tenant_id"`
	PatientID id.PatientID `json:"patient_id"`
	DeviceID  id.DeviceID  `json:"device_id"`
	UnitID    id.UnitID    `json:"unit_id,omitempty"`

	State         State             `json:"state"`
	FailureReason domainerrors.Code `json:"failure_reason,omitempty"`

	StartedAt          time.Time  `json:"started_at"`
	ScannedAt          *time.Time `json:"scanned_at,omitempty"`
	LocationCheckedAt  *time.Time `json:"location_checked_at,omitempty"`
	BiometricCheckedAt *time.Time `json:"biometric_checked_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`

	GPSLatitude    *float64 `json:"gps_latitude,omitempty"`
	GPSLongitude   *float64 `json:"gps_longitude,omitempty"`
	BiometricScore *float64 `json:"biometric_score,omitempty"`

	// StageRetries counts recoverable failures consumed on the current
	// stage. It resets when a stage passes.
	StageRetries int `json:"stage_retries"`
}

// Terminal reports whether the attempt reached an outcome.
func (a *VerificationAttempt) Terminal() bool {
	return a.State.Terminal()
}
