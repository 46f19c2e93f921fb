package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"dosegate/internal/escalation/models"
	id "dosegate/pkg/domain"
	"dosegate/pkg/platform/sentinel"
	txcontext "dosegate/pkg/platform/tx"
)

const uniqueViolation = "23505"

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresEvents persists escalation events.
type PostgresEvents struct {
	db *sql.DB
}

func NewPostgresEvents(db *sql.DB) *PostgresEvents {
	return &PostgresEvents{db: db}
}

func (s *PostgresEvents) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresEvents) Append(ctx context.Context, event models.EscalationEvent) error {
	triggered := make([]uuid.UUID, len(event.TriggeredBy))
	for i, recID := range event.TriggeredBy {
		triggered[i] = uuid.UUID(recID)
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO escalation_events (
			id, tenant_id, patient_id, triggered_by, action, created_at, resolved, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.UUID(event.ID), uuid.UUID(event.TenantID), uuid.UUID(event.PatientID),
		pq.Array(triggered), string(event.Action), event.CreatedAt,
		event.Resolved, event.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation event: %w", err)
	}
	return nil
}

func (s *PostgresEvents) ListByPatient(ctx context.Context, patientID id.PatientID) ([]models.EscalationEvent, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, patient_id, triggered_by, action, created_at, resolved, resolved_at
		FROM escalation_events
		WHERE patient_id = $1
		ORDER BY created_at`,
		uuid.UUID(patientID))
	if err != nil {
		return nil, fmt.Errorf("query escalation events: %w", err)
	}
	defer rows.Close()

	var out []models.EscalationEvent
	for rows.Next() {
		var (
			event      models.EscalationEvent
			eventID    uuid.UUID
			tenantID   uuid.UUID
			pID        uuid.UUID
			triggered  []uuid.UUID
			action     string
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(&eventID, &tenantID, &pID, pq.Array(&triggered),
			&action, &event.CreatedAt, &event.Resolved, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan escalation event: %w", err)
		}
		event.ID = id.EventID(eventID)
		event.TenantID = id.TenantID(tenantID)
		event.PatientID = id.PatientID(pID)
		event.Action = models.Action(action)
		event.TriggeredBy = make([]id.RecordID, len(triggered))
		for i, t := range triggered {
			event.TriggeredBy[i] = id.RecordID(t)
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			event.ResolvedAt = &t
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func (s *PostgresEvents) HasUnresolvedCallback(ctx context.Context, patientID id.PatientID) (bool, error) {
	var found bool
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM escalation_events
			WHERE patient_id = $1 AND action = $2 AND resolved = FALSE
		)`,
		uuid.UUID(patientID), string(models.ActionCallbackRequired)).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("check unresolved callback: %w", err)
	}
	return found, nil
}

func (s *PostgresEvents) ResolveCallback(ctx context.Context, eventID id.EventID, at time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE escalation_events
		SET resolved = TRUE, resolved_at = $2
		WHERE id = $1 AND action = $3 AND resolved = FALSE`,
		uuid.UUID(eventID), at, string(models.ActionCallbackRequired))
	if err != nil {
		return fmt.Errorf("resolve callback event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve callback rows affected: %w", err)
	}
	if affected == 0 {
		var action string
		err := s.execer(ctx).QueryRowContext(ctx,
			`SELECT action FROM escalation_events WHERE id = $1`,
			uuid.UUID(eventID)).Scan(&action)
		switch {
		case err == sql.ErrNoRows:
			return sentinel.ErrNotFound
		case err != nil:
			return fmt.Errorf("check escalation event: %w", err)
		case action != string(models.ActionCallbackRequired):
			return sentinel.ErrInvalidState
		}
	}
	return nil
}

// PostgresGrants persists location exception grants.
type PostgresGrants struct {
	db *sql.DB
}

func NewPostgresGrants(db *sql.DB) *PostgresGrants {
	return &PostgresGrants{db: db}
}

func (s *PostgresGrants) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresGrants) Create(ctx context.Context, grant models.ExceptionGrant) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO exception_grants (id, tenant_id, patient_id, granted_at, expires_at, expired_event_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		uuid.UUID(grant.ID), uuid.UUID(grant.TenantID), uuid.UUID(grant.PatientID),
		grant.GrantedAt, grant.ExpiresAt, grant.ExpiredEventAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert exception grant: %w", err)
	}
	return nil
}

func (s *PostgresGrants) LatestByPatient(ctx context.Context, patientID id.PatientID) (models.ExceptionGrant, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, tenant_id, patient_id, granted_at, expires_at, expired_event_at
		FROM exception_grants
		WHERE patient_id = $1
		ORDER BY granted_at DESC
		LIMIT 1`,
		uuid.UUID(patientID))
	grant, err := scanGrant(row)
	if err == sql.ErrNoRows {
		return models.ExceptionGrant{}, sentinel.ErrNotFound
	}
	if err != nil {
		return models.ExceptionGrant{}, err
	}
	return grant, nil
}

func (s *PostgresGrants) ExpiredUnnotified(ctx context.Context, now time.Time) ([]models.ExceptionGrant, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, tenant_id, patient_id, granted_at, expires_at, expired_event_at
		FROM exception_grants
		WHERE expires_at < $1 AND expired_event_at IS NULL
		ORDER BY expires_at`,
		now)
	if err != nil {
		return nil, fmt.Errorf("query expired grants: %w", err)
	}
	defer rows.Close()

	var out []models.ExceptionGrant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, grant)
	}
	return out, rows.Err()
}

// MarkExpiredNotified is a compare-and-set on expired_event_at so the
// exception-expired event is emitted exactly once across the lazy check and
// the sweep.
func (s *PostgresGrants) MarkExpiredNotified(ctx context.Context, grantID id.GrantID, at time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE exception_grants
		SET expired_event_at = $2
		WHERE id = $1 AND expired_event_at IS NULL`,
		uuid.UUID(grantID), at)
	if err != nil {
		return fmt.Errorf("mark grant expired: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark grant expired rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		err := s.execer(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM exception_grants WHERE id = $1)`,
			uuid.UUID(grantID)).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check exception grant: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (models.ExceptionGrant, error) {
	var (
		grant     models.ExceptionGrant
		grantID   uuid.UUID
		tenantID  uuid.UUID
		patientID uuid.UUID
		expiredAt sql.NullTime
	)
	err := row.Scan(&grantID, &tenantID, &patientID, &grant.GrantedAt, &grant.ExpiresAt, &expiredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.ExceptionGrant{}, err
		}
		return models.ExceptionGrant{}, fmt.Errorf("scan exception grant: %w", err)
	}
	grant.ID = id.GrantID(grantID)
	grant.TenantID = id.TenantID(tenantID)
	grant.PatientID = id.PatientID(patientID)
	if expiredAt.Valid {
		t := expiredAt.Time
		grant.ExpiredEventAt = &t
	}
	return grant, nil
}
