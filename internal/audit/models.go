package audit

import (
	"time"

	id "dosegate/pkg/domain"
)

// Category classifies audit entries for retention and routing. Diversion
// control entries are regulatory records: they must survive attempt deletion,
// anonymization, and tenant offboarding.
type Category string

const (
	// CategoryCompliance covers entries with regulatory significance and long
	// retention: every stage transition of a verification attempt.
	CategoryCompliance Category = "compliance"

	// CategorySecurity covers entries that feed monitoring: replay attempts,
	// device mismatches.
	CategorySecurity Category = "security"

	// CategoryOperations covers routine visibility: settings reads, health.
	CategoryOperations Category = "operations"
)

// Stage labels the attempt lifecycle point an entry records.
type Stage string

const (
	StageCreated   Stage = "created"
	StageScanned   Stage = "scanned"
	StageLocation  Stage = "location_checked"
	StageBiometric Stage = "biometric_checked"
	StageCompleted Stage = "completed"
)

// Entry is one append-only audit record. One entry per attempt per stage
// transition, written regardless of outcome.
type Entry struct {
	ID        id.EventID
	Category  Category
	Timestamp time.Time
	TenantID  id.TenantID
	PatientID id.PatientID
	AttemptID id.AttemptID
	UnitID    id.UnitID // zero until the scan stage binds a unit
	Stage     Stage
	Outcome   string // "", "success", "failed"
	Reason    string // failure reason code when Outcome is "failed"
	Detail    string // free-form context, e.g. "exception_applied"
	RequestID string
}
