package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dosegate/internal/bottle/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
	txcontext "dosegate/pkg/platform/tx"
)

// Postgres persists dispensed units. The consume transition is a conditional
// UPDATE guarded by consumed_at IS NULL, so two racing sessions resolve to
// exactly one success at the database.
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

const unitColumns = `
	id, patient_id, tenant_id, code_payload, medication, dose_amount,
	sequence_number, total_in_series, dispense_date,
	expected_consumption_date, consumed_at`

func (s *Postgres) Create(ctx context.Context, unit *models.DispensedUnit) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO dispensed_units (`+unitColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		uuid.UUID(unit.ID), uuid.UUID(unit.PatientID), uuid.UUID(unit.TenantID),
		unit.CodePayload, unit.Medication, unit.DoseAmount,
		unit.SequenceNumber, unit.TotalInSeries, unit.DispenseDate,
		unit.ExpectedConsumptionDate, unit.ConsumedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert dispensed unit: %w", err)
	}
	return nil
}

func (s *Postgres) FindByCode(ctx context.Context, codePayload string) (*models.DispensedUnit, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+unitColumns+` FROM dispensed_units WHERE code_payload = $1`,
		codePayload)
	return scanUnit(row)
}

func (s *Postgres) FindByID(ctx context.Context, unitID id.UnitID) (*models.DispensedUnit, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+unitColumns+` FROM dispensed_units WHERE id = $1`,
		uuid.UUID(unitID))
	return scanUnit(row)
}

// Consume sets consumed_at iff it is still NULL. Zero rows affected with an
// existing row means the unit was consumed by a concurrent session.
func (s *Postgres) Consume(ctx context.Context, unitID id.UnitID, at time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE dispensed_units SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL`,
		uuid.UUID(unitID), at)
	if err != nil {
		return fmt.Errorf("consume dispensed unit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	// Distinguish replay from absence.
	if _, err := s.FindByID(ctx, unitID); err != nil {
		return err
	}
	return sentinel.ErrAlreadyUsed
}

func scanUnit(row *sql.Row) (*models.DispensedUnit, error) {
	var (
		unit       models.DispensedUnit
		unitID     uuid.UUID
		patientID  uuid.UUID
		tenantID   uuid.UUID
		consumedAt sql.NullTime
	)
	err := row.Scan(
		&unitID, &patientID, &tenantID, &unit.CodePayload, &unit.Medication,
		&unit.DoseAmount, &unit.SequenceNumber, &unit.TotalInSeries,
		&unit.DispenseDate, &unit.ExpectedConsumptionDate, &consumedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan dispensed unit: %w", err)
	}
	unit.ID = id.UnitID(unitID)
	unit.PatientID = id.PatientID(patientID)
	unit.TenantID = id.TenantID(tenantID)
	if consumedAt.Valid {
		t := consumedAt.Time
		unit.ConsumedAt = &t
	}
	return &unit, nil
}
