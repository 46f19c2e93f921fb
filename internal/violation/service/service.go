package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dosegate/internal/platform/metrics"
	"dosegate/internal/violation/models"
	id "dosegate/pkg/domain"
	domainerrors "dosegate/pkg/domain-errors"
	"dosegate/pkg/platform/sentinel"
	"dosegate/pkg/requestcontext"
)

// Store persists violation records. Records are append-only; the only
// mutation is the human-driven resolve transition.
type Store interface {
	Append(ctx context.Context, rec models.ViolationRecord) error
	UnresolvedSince(ctx context.Context, patientID id.PatientID, cutoff time.Time) ([]models.ViolationRecord, error)
	Resolve(ctx context.Context, recordID id.RecordID, at time.Time) error
}

type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record appends a violation and returns every unresolved record within the
// rolling window, newest record included. The returned slice feeds the
// escalation rules, which need both the count and the triggering records.
func (s *Service) Record(ctx context.Context, rec models.ViolationRecord, windowDays int) ([]models.ViolationRecord, error) {
	if !rec.Kind.Valid() {
		return nil, domainerrors.New(domainerrors.CodeInvalidInput, fmt.Sprintf("unknown violation kind %q", rec.Kind))
	}
	now := requestcontext.Now(ctx)
	if rec.ID.IsNil() {
		rec.ID = id.RecordID(uuid.New())
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = now
	}
	if err := s.store.Append(ctx, rec); err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "append violation record")
	}
	if s.metrics != nil {
		s.metrics.ViolationsTotal.WithLabelValues(string(rec.Kind)).Inc()
	}
	s.logger.InfoContext(ctx, "violation recorded",
		"patient_id", rec.PatientID.String(),
		"attempt_id", rec.AttemptID.String(),
		"kind", string(rec.Kind),
		"request_id", requestcontext.RequestID(ctx),
	)

	recent, err := s.unresolvedInWindow(ctx, rec.PatientID, windowDays, now)
	if err != nil {
		return nil, err
	}
	return recent, nil
}

// CountRecent sums unresolved records within the rolling window.
func (s *Service) CountRecent(ctx context.Context, patientID id.PatientID, windowDays int) (int, error) {
	recent, err := s.unresolvedInWindow(ctx, patientID, windowDays, requestcontext.Now(ctx))
	if err != nil {
		return 0, err
	}
	return len(recent), nil
}

// RiskLevel derives the patient's current risk bucket from the unresolved
// count and the tenant's callback threshold.
func (s *Service) RiskLevel(ctx context.Context, patientID id.PatientID, windowDays, callbackThreshold int) (models.RiskLevel, error) {
	count, err := s.CountRecent(ctx, patientID, windowDays)
	if err != nil {
		return "", err
	}
	return models.RiskLevelFor(count, callbackThreshold), nil
}

// Resolve marks one record resolved. Resolving an already-resolved record is
// a no-op.
func (s *Service) Resolve(ctx context.Context, recordID id.RecordID) error {
	err := s.store.Resolve(ctx, recordID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return domainerrors.Wrap(err, domainerrors.CodeNotFound, "violation record not found")
		}
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "resolve violation record")
	}
	s.logger.InfoContext(ctx, "violation resolved",
		"record_id", recordID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

func (s *Service) unresolvedInWindow(ctx context.Context, patientID id.PatientID, windowDays int, now time.Time) ([]models.ViolationRecord, error) {
	cutoff := now.AddDate(0, 0, -windowDays)
	recent, err := s.store.UnresolvedSince(ctx, patientID, cutoff)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list unresolved violations")
	}
	return recent, nil
}
