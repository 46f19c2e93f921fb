package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dosegate/internal/session/models"
	id "dosegate/pkg/domain"
	domainerrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/platform/sentinel"
	txcontext "dosegate/pkg/platform/tx"
)

const uniqueViolation = "23505"

const attemptColumns = `id, tenant_id, patient_id, device_id, unit_id, state, failure_reason,
	started_at, scanned_at, location_checked_at, biometric_checked_at, completed_at,
	gps_latitude, gps_longitude, biometric_score, stage_retries`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Create(ctx context.Context, attempt models.VerificationAttempt) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO verification_attempts (`+attemptColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		uuid.UUID(attempt.ID), uuid.UUID(attempt.TenantID), uuid.UUID(attempt.PatientID),
		uuid.UUID(attempt.DeviceID), nullableUUID(uuid.UUID(attempt.UnitID)),
		string(attempt.State), string(attempt.FailureReason),
		attempt.StartedAt, attempt.ScannedAt, attempt.LocationCheckedAt,
		attempt.BiometricCheckedAt, attempt.CompletedAt,
		attempt.GPSLatitude, attempt.GPSLongitude, attempt.BiometricScore,
		attempt.StageRetries,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert verification attempt: %w", err)
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, attemptID id.AttemptID) (*models.VerificationAttempt, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+attemptColumns+`
		FROM verification_attempts
		WHERE id = $1`,
		uuid.UUID(attemptID))
	attempt, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// Update replaces the mutable columns. The WHERE clause excludes terminal
// rows, so a terminal attempt can never be rewritten regardless of caller
// bugs or races.
func (s *Postgres) Update(ctx context.Context, attempt models.VerificationAttempt) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE verification_attempts
		SET unit_id = $2, state = $3, failure_reason = $4,
		    scanned_at = $5, location_checked_at = $6, biometric_checked_at = $7,
		    completed_at = $8, gps_latitude = $9, gps_longitude = $10,
		    biometric_score = $11, stage_retries = $12
		WHERE id = $1 AND state NOT IN ($13, $14)`,
		uuid.UUID(attempt.ID), nullableUUID(uuid.UUID(attempt.UnitID)),
		string(attempt.State), string(attempt.FailureReason),
		attempt.ScannedAt, attempt.LocationCheckedAt, attempt.BiometricCheckedAt,
		attempt.CompletedAt, attempt.GPSLatitude, attempt.GPSLongitude,
		attempt.BiometricScore, attempt.StageRetries,
		string(models.StateSucceeded), string(models.StateFailed),
	)
	if err != nil {
		return fmt.Errorf("update verification attempt: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update verification attempt rows affected: %w", err)
	}
	if affected == 0 {
		var state string
		err := s.execer(ctx).QueryRowContext(ctx,
			`SELECT state FROM verification_attempts WHERE id = $1`,
			uuid.UUID(attempt.ID)).Scan(&state)
		switch {
		case err == sql.ErrNoRows:
			return sentinel.ErrNotFound
		case err != nil:
			return fmt.Errorf("check verification attempt: %w", err)
		default:
			return sentinel.ErrInvalidState
		}
	}
	return nil
}

func scanAttempt(row *sql.Row) (*models.VerificationAttempt, error) {
	var (
		attempt   models.VerificationAttempt
		attemptID uuid.UUID
		tenantID  uuid.UUID
		patientID uuid.UUID
		deviceID  uuid.UUID
		unitID    uuid.NullUUID
		state     string
		reason    string
	)
	err := row.Scan(&attemptID, &tenantID, &patientID, &deviceID, &unitID,
		&state, &reason, &attempt.StartedAt, &attempt.ScannedAt,
		&attempt.LocationCheckedAt, &attempt.BiometricCheckedAt, &attempt.CompletedAt,
		&attempt.GPSLatitude, &attempt.GPSLongitude, &attempt.BiometricScore,
		&attempt.StageRetries)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan verification attempt: %w", err)
	}
	attempt.ID = id.AttemptID(attemptID)
	attempt.TenantID = id.TenantID(tenantID)
	attempt.PatientID = id.PatientID(patientID)
	attempt.DeviceID = id.DeviceID(deviceID)
	if unitID.Valid {
		attempt.UnitID = id.UnitID(unitID.UUID)
	}
	attempt.State = models.State(state)
	attempt.FailureReason = domainerrors.Code(reason)
	return &attempt, nil
}

func nullableUUID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u
}
