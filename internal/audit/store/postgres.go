package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dosegate/internal/audit"
	id "dosegate/pkg/domain"
	txcontext "dosegate/pkg/platform/tx"
)

// Postgres implements audit.Store using the transactional outbox pattern.
// Entries are written to audit_entries (the queryable regulatory record) and
// to the outbox table in the same statement batch; the relay worker publishes
// outbox rows to Kafka and marks them published.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka.
type outboxPayload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
	TenantID  string `json:"tenant_id"`
	PatientID string `json:"patient_id"`
	AttemptID string `json:"attempt_id"`
	UnitID    string `json:"unit_id,omitempty"`
	Stage     string `json:"stage"`
	Outcome   string `json:"outcome,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Postgres) Append(ctx context.Context, entry audit.Entry) error {
	payload := outboxPayload{
		ID:        entry.ID.String(),
		Category:  string(entry.Category),
		Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
		TenantID:  entry.TenantID.String(),
		PatientID: entry.PatientID.String(),
		AttemptID: entry.AttemptID.String(),
		Stage:     string(entry.Stage),
		Outcome:   entry.Outcome,
		Reason:    entry.Reason,
		Detail:    entry.Detail,
		RequestID: entry.RequestID,
	}
	if !entry.UnitID.IsNil() {
		payload.UnitID = entry.UnitID.String()
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	execer := s.execer(ctx)
	_, err = execer.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, category, timestamp, tenant_id, patient_id, attempt_id,
			unit_id, stage, outcome, reason, detail, request_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		uuid.UUID(entry.ID), string(entry.Category), entry.Timestamp,
		uuid.UUID(entry.TenantID), uuid.UUID(entry.PatientID), uuid.UUID(entry.AttemptID),
		nullableUUID(uuid.UUID(entry.UnitID)), string(entry.Stage),
		entry.Outcome, entry.Reason, entry.Detail, entry.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	_, err = execer.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, aggregate_id, payload, created_at)
		VALUES ($1,$2,$3,$4)`,
		uuid.New(), uuid.UUID(entry.AttemptID), payloadBytes, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert audit outbox row: %w", err)
	}
	return nil
}

func (s *Postgres) ListByAttempt(ctx context.Context, attemptID id.AttemptID) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, timestamp, tenant_id, patient_id, attempt_id,
		       unit_id, stage, outcome, reason, detail, request_id
		FROM audit_entries
		WHERE attempt_id = $1
		ORDER BY timestamp`,
		uuid.UUID(attemptID))
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			entry     audit.Entry
			entryID   uuid.UUID
			tenantID  uuid.UUID
			patientID uuid.UUID
			aID       uuid.UUID
			unitID    uuid.NullUUID
			category  string
			stage     string
		)
		if err := rows.Scan(
			&entryID, &category, &entry.Timestamp, &tenantID, &patientID, &aID,
			&unitID, &stage, &entry.Outcome, &entry.Reason, &entry.Detail, &entry.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = id.EventID(entryID)
		entry.Category = audit.Category(category)
		entry.TenantID = id.TenantID(tenantID)
		entry.PatientID = id.PatientID(patientID)
		entry.AttemptID = id.AttemptID(aID)
		if unitID.Valid {
			entry.UnitID = id.UnitID(unitID.UUID)
		}
		entry.Stage = audit.Stage(stage)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// PendingOutbox returns unpublished outbox rows, oldest first.
func (s *Postgres) PendingOutbox(ctx context.Context, limit int) ([]audit.OutboxRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit outbox: %w", err)
	}
	defer rows.Close()

	var out []audit.OutboxRow
	for rows.Next() {
		var row audit.OutboxRow
		if err := rows.Scan(&row.ID, &row.AggregateID, &row.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// MarkPublished stamps an outbox row after confirmed delivery.
func (s *Postgres) MarkPublished(ctx context.Context, outboxID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE audit_outbox SET published_at = $2 WHERE id = $1`,
		outboxID, time.Now())
	if err != nil {
		return fmt.Errorf("mark outbox row published: %w", err)
	}
	return nil
}

func nullableUUID(u uuid.UUID) any {
	if u == uuid.Nil {
		return nil
	}
	return u
}
