package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dosegate/internal/device"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Create(ctx context.Context, reg *device.Registration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO registered_devices (id, patient_id, display_name, pairing_secret_hash, registered_at)
		VALUES ($1,$2,$3,$4,$5)`,
		uuid.UUID(reg.ID), uuid.UUID(reg.PatientID), reg.DisplayName,
		reg.PairingSecretHash, reg.RegisteredAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert device registration: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, deviceID id.DeviceID) (*device.Registration, error) {
	var (
		reg device.Registration
		did uuid.UUID
		pid uuid.UUID
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, patient_id, display_name, pairing_secret_hash, registered_at
		FROM registered_devices WHERE id = $1`,
		uuid.UUID(deviceID),
	).Scan(&did, &pid, &reg.DisplayName, &reg.PairingSecretHash, &reg.RegisteredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query device registration: %w", err)
	}
	reg.ID = id.DeviceID(did)
	reg.PatientID = id.PatientID(pid)
	return &reg, nil
}

func (s *Postgres) CountByPatient(ctx context.Context, patientID id.PatientID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registered_devices WHERE patient_id = $1`,
		uuid.UUID(patientID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registered devices: %w", err)
	}
	return count, nil
}
