// Package patient exposes the read-only slice of the patient record the
// diversion core consumes. Enrollment and updates belong to the surrounding
// EMR; this package is a port plus adapters, never a write path.
package patient

import (
	"context"
	"time"

	"dosegate/internal/geofence"
	id "dosegate/pkg/domain"
)

// Profile is the externally maintained verification profile.
type Profile struct {
	PatientID            id.PatientID
	TenantID             id.TenantID
	Home                 geofence.Coordinates
	Timezone             string // IANA zone name, e.g. "America/Chicago"
	BiometricTemplateRef string // opaque reference into the matching engine
	SponsorContact       string
}

// Location resolves the patient's registered timezone. An unknown zone falls
// back to UTC; profile enrollment validates zones upstream, so this is a
// safety net for legacy rows, not a policy.
func (p *Profile) Location() *time.Location {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ProfileStore reads verification profiles.
type ProfileStore interface {
	FindByPatient(ctx context.Context, patientID id.PatientID) (*Profile, error)
}
