package models

import (
	"time"

	id "dosegate/pkg/domain"
)

// Kind classifies why a verification attempt was held against the patient.
type Kind string

const (
	KindMissedWindow  Kind = "missed-window"
	KindLocationFail  Kind = "location-fail"
	KindBiometricFail Kind = "biometric-fail"
	KindReplayAttempt Kind = "replay-attempt"
)

func (k Kind) Valid() bool {
	switch k {
	case KindMissedWindow, KindLocationFail, KindBiometricFail, KindReplayAttempt:
		return true
	}
	return false
}

// ViolationRecord is one failed or missed verification held against a
// patient. Records are never deleted; they age out of the rolling risk
// window by time filter only, and a human can mark one resolved.
type ViolationRecord struct {
	ID         id.RecordID
	TenantID   id.TenantID
	PatientID  id.PatientID
	AttemptID  id.AttemptID
	Kind       Kind
	OccurredAt time.Time
	Resolved   bool
	ResolvedAt *time.Time
}

// RiskLevel buckets the unresolved-violation count against the tenant's
// callback threshold.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

// RiskLevelFor is a pure function of the count. Zero unresolved violations
// is low, anything below the callback threshold is elevated, at or above
// the threshold is high.
func RiskLevelFor(count, callbackThreshold int) RiskLevel {
	switch {
	case count <= 0:
		return RiskLow
	case count < callbackThreshold:
		return RiskElevated
	default:
		return RiskHigh
	}
}
