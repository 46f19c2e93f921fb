package models

import (
	"time"

	id "dosegate/pkg/domain"
)

// Action identifies what an escalation event asks the outside world to do.
type Action string

const (
	ActionSponsorNotified  Action = "sponsor-notified"
	ActionCallbackRequired Action = "callback-required"
	ActionExceptionGranted Action = "exception-granted"
	ActionExceptionExpired Action = "exception-expired"
)

// EscalationEvent is an immutable, append-only record of an escalation
// decision. Delivery of the resulting notification is external; the engine's
// contract ends at producing the event. The one mutable bit is the resolved
// flag on callback-required events, flipped by a human workflow.
type EscalationEvent struct {
	ID          id.EventID    `json:"id"`
	TenantID    id.TenantID   `json:"tenant_id"`
	PatientID   id.PatientID  `json:"patient_id"`
	TriggeredBy []id.RecordID `json:"triggered_by,omitempty"`
	Action      Action        `json:"action"`
	CreatedAt   time.Time     `json:"created_at"`
	Resolved    bool          `json:"resolved"`
	ResolvedAt  *time.Time    `json:"resolved_at,omitempty"`
}

// ExceptionGrant temporarily suspends the geofence check for a patient.
// Expiry is lazy at evaluation time plus a periodic sweep; ExpiredEventAt
// records when the exception-expired event was emitted so the sweep and the
// lazy path never double-emit.
type ExceptionGrant struct {
	ID             id.GrantID
	TenantID       id.TenantID
	PatientID      id.PatientID
	GrantedAt      time.Time
	ExpiresAt      time.Time
	ExpiredEventAt *time.Time
}

// Active reports whether the grant covers the given instant. A grant expires
// strictly after ExpiresAt, so the boundary instant itself is still covered.
func (g ExceptionGrant) Active(now time.Time) bool {
	return !now.Before(g.GrantedAt) && !now.After(g.ExpiresAt)
}
