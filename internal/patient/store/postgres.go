package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dosegate/internal/patient"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

// Postgres reads verification profiles maintained by the EMR.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) FindByPatient(ctx context.Context, patientID id.PatientID) (*patient.Profile, error) {
	query := `
		SELECT patient_id, tenant_id, home_lat, home_lng, timezone,
		       biometric_template_ref, sponsor_contact
		FROM patient_verification_profiles
		WHERE patient_id = $1`
	var (
		p   patient.Profile
		pid uuid.UUID
		tid uuid.UUID
	)
	err := s.db.QueryRowContext(ctx, query, uuid.UUID(patientID)).Scan(
		&pid, &tid, &p.Home.Lat, &p.Home.Lng, &p.Timezone,
		&p.BiometricTemplateRef, &p.SponsorContact,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query patient profile: %w", err)
	}
	p.PatientID = id.PatientID(pid)
	p.TenantID = id.TenantID(tid)
	return &p, nil
}
