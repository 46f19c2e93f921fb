package models

import (
	"time"

	id "dosegate/pkg/domain"
)

// DispensedUnit is one take-home dose ("bottle") issued to exactly one
// patient at dispensing time.
//
// Invariants:
//   - CodePayload is unique across all units; the core treats it as an opaque
//     lookup key and never parses its structure
//   - PatientID is the exclusive owner, fixed at issuance
//   - ConsumedAt transitions nil -> non-nil exactly once; a second transition
//     is a replay and must surface as a distinct error, never silently succeed
type DispensedUnit struct {
	ID                      id.UnitID    `json:"id"`
	PatientID               id.PatientID `json:"patient_id"`
	TenantID                id.TenantID  `json:"tenant_id"`
	CodePayload             string       `json:"code_payload"`
	Medication              string       `json:"medication"`
	DoseAmount              string       `json:"dose_amount"`
	SequenceNumber          int          `json:"sequence_number"`
	TotalInSeries           int          `json:"total_in_series"`
	DispenseDate            time.Time    `json:"dispense_date"`
	ExpectedConsumptionDate time.Time    `json:"expected_consumption_date"`
	ConsumedAt              *time.Time   `json:"consumed_at,omitempty"`
}

// Consumed reports whether the unit has already been used.
func (u *DispensedUnit) Consumed() bool {
	return u.ConsumedAt != nil
}
