package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dosegate/internal/dosingwindow"
	"dosegate/internal/settings/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
)

// Postgres persists settings versions. Schema expectations:
//
//	diversion_settings (
//	  id uuid primary key,
//	  tenant_id uuid not null,
//	  version int not null,
//	  active boolean not null,
//	  ... policy columns ...,
//	  created_at timestamptz not null,
//	  unique (tenant_id, version)
//	)
//	unique partial index on (tenant_id) where active
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const settingsColumns = `
	id, tenant_id, version, active,
	geofence_radius_meters, window_start_hour, window_start_minute,
	window_end_hour, window_end_minute,
	biometric_confidence_threshold, require_biometric, alert_delay_seconds,
	callback_threshold_violations, notify_sponsor_on_violation,
	allow_location_exceptions, max_exception_days, require_seal_photo,
	auto_alert_on_miss, max_registered_devices, risk_score_window_days,
	stage_retry_limit, emergency_contact, created_at`

func (s *Postgres) ActiveByTenant(ctx context.Context, tenantID id.TenantID) (*models.DiversionSettings, error) {
	query := `SELECT ` + settingsColumns + `
		FROM diversion_settings
		WHERE tenant_id = $1 AND active`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(tenantID))
	settings, err := scanSettings(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("query active settings: %w", err)
	}
	return settings, nil
}

func (s *Postgres) AppendVersion(ctx context.Context, settings *models.DiversionSettings) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Deactivate the current version and claim the next version number under
	// the same transaction so concurrent updates serialize on the unique
	// (tenant_id, version) constraint.
	if _, err := tx.ExecContext(ctx,
		`UPDATE diversion_settings SET active = false WHERE tenant_id = $1 AND active`,
		uuid.UUID(settings.TenantID),
	); err != nil {
		return fmt.Errorf("deactivate settings version: %w", err)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM diversion_settings WHERE tenant_id = $1`,
		uuid.UUID(settings.TenantID),
	).Scan(&next); err != nil {
		return fmt.Errorf("next settings version: %w", err)
	}
	settings.Version = next
	settings.Active = true

	_, err = tx.ExecContext(ctx, `
		INSERT INTO diversion_settings (`+settingsColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		uuid.UUID(settings.ID), uuid.UUID(settings.TenantID), settings.Version, settings.Active,
		settings.GeofenceRadiusMeters,
		settings.DosingWindow.Start.Hour, settings.DosingWindow.Start.Minute,
		settings.DosingWindow.End.Hour, settings.DosingWindow.End.Minute,
		settings.BiometricConfidenceThreshold, settings.RequireBiometric,
		int64(settings.AlertDelay/time.Second),
		settings.CallbackThresholdViolations, settings.NotifySponsorOnViolation,
		settings.AllowLocationExceptions, settings.MaxExceptionDays, settings.RequireSealPhoto,
		settings.AutoAlertOnMiss, settings.MaxRegisteredDevices, settings.RiskScoreWindowDays,
		settings.StageRetryLimit, settings.EmergencyContact, settings.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert settings version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit settings tx: %w", err)
	}
	return nil
}

func (s *Postgres) VersionsByTenant(ctx context.Context, tenantID id.TenantID) ([]models.DiversionSettings, error) {
	query := `SELECT ` + settingsColumns + `
		FROM diversion_settings
		WHERE tenant_id = $1
		ORDER BY version`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("query settings versions: %w", err)
	}
	defer rows.Close()

	var out []models.DiversionSettings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("scan settings version: %w", err)
		}
		out = append(out, *settings)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettings(row rowScanner) (*models.DiversionSettings, error) {
	var (
		settings          models.DiversionSettings
		settingsID        uuid.UUID
		tenantID          uuid.UUID
		window            dosingwindow.Window
		alertDelaySeconds int64
	)
	err := row.Scan(
		&settingsID, &tenantID, &settings.Version, &settings.Active,
		&settings.GeofenceRadiusMeters,
		&window.Start.Hour, &window.Start.Minute,
		&window.End.Hour, &window.End.Minute,
		&settings.BiometricConfidenceThreshold, &settings.RequireBiometric, &alertDelaySeconds,
		&settings.CallbackThresholdViolations, &settings.NotifySponsorOnViolation,
		&settings.AllowLocationExceptions, &settings.MaxExceptionDays, &settings.RequireSealPhoto,
		&settings.AutoAlertOnMiss, &settings.MaxRegisteredDevices, &settings.RiskScoreWindowDays,
		&settings.StageRetryLimit, &settings.EmergencyContact, &settings.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	settings.ID = id.SettingsID(settingsID)
	settings.TenantID = id.TenantID(tenantID)
	settings.DosingWindow = window
	settings.AlertDelay = time.Duration(alertDelaySeconds) * time.Second
	return &settings, nil
}
