package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dosegate/internal/violation/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
	txcontext "dosegate/pkg/platform/tx"
)

const violationColumns = `id, tenant_id, patient_id, attempt_id, kind, occurred_at, resolved, resolved_at`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) Append(ctx context.Context, rec models.ViolationRecord) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO diversion_violations (`+violationColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.UUID(rec.ID), uuid.UUID(rec.TenantID), uuid.UUID(rec.PatientID),
		uuid.UUID(rec.AttemptID), string(rec.Kind), rec.OccurredAt,
		rec.Resolved, rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert violation record: %w", err)
	}
	return nil
}

func (s *Postgres) UnresolvedSince(ctx context.Context, patientID id.PatientID, cutoff time.Time) ([]models.ViolationRecord, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+violationColumns+`
		FROM diversion_violations
		WHERE patient_id = $1 AND resolved = FALSE AND occurred_at >= $2
		ORDER BY occurred_at`,
		uuid.UUID(patientID), cutoff)
	if err != nil {
		return nil, fmt.Errorf("query unresolved violations: %w", err)
	}
	defer rows.Close()

	var out []models.ViolationRecord
	for rows.Next() {
		rec, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) Resolve(ctx context.Context, recordID id.RecordID, at time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE diversion_violations
		SET resolved = TRUE, resolved_at = $2
		WHERE id = $1 AND resolved = FALSE`,
		uuid.UUID(recordID), at)
	if err != nil {
		return fmt.Errorf("resolve violation record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve violation record rows affected: %w", err)
	}
	if affected == 0 {
		// Either the record does not exist or it is already resolved.
		// Resolving twice is not an error; absence is.
		exists, err := s.exists(ctx, recordID)
		if err != nil {
			return err
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

func (s *Postgres) exists(ctx context.Context, recordID id.RecordID) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM diversion_violations WHERE id = $1)`,
		uuid.UUID(recordID)).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check violation record exists: %w", err)
	}
	return found, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanViolation(row rowScanner) (models.ViolationRecord, error) {
	var (
		rec        models.ViolationRecord
		recID      uuid.UUID
		tenantID   uuid.UUID
		patientID  uuid.UUID
		attemptID  uuid.UUID
		kind       string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&recID, &tenantID, &patientID, &attemptID, &kind,
		&rec.OccurredAt, &rec.Resolved, &resolvedAt); err != nil {
		return models.ViolationRecord{}, fmt.Errorf("scan violation record: %w", err)
	}
	rec.ID = id.RecordID(recID)
	rec.TenantID = id.TenantID(tenantID)
	rec.PatientID = id.PatientID(patientID)
	rec.AttemptID = id.AttemptID(attemptID)
	rec.Kind = models.Kind(kind)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		rec.ResolvedAt = &t
	}
	return rec, nil
}
