package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"dosegate/internal/platform/metrics"
	id "dosegate/pkg/domain"
	"dosegate/pkg/requestcontext"
)

// Store is the append-only persistence for audit entries.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByAttempt(ctx context.Context, attemptID id.AttemptID) ([]Entry, error)
}

// Publisher captures structured audit entries with fail-closed semantics: if
// the entry cannot be persisted, the calling operation must fail. Diversion
// logs are a regulatory requirement, not telemetry.
type Publisher struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

func NewPublisher(store Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously persists one entry. The caller blocks until the write
// succeeds or fails; on failure the caller MUST fail its operation.
func (p *Publisher) Emit(ctx context.Context, entry Entry) error {
	if entry.ID.IsNil() {
		entry.ID = id.EventID(uuid.New())
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = requestcontext.Now(ctx)
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}
	if entry.Category == "" {
		entry.Category = CategoryCompliance
	}
	if err := p.store.Append(ctx, entry); err != nil {
		if p.metrics != nil {
			p.metrics.AuditAppendErrors.Inc()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: audit append failed",
				"attempt_id", entry.AttemptID.String(),
				"stage", string(entry.Stage),
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	return nil
}

// List returns the audit trail of a single attempt, oldest first.
func (p *Publisher) List(ctx context.Context, attemptID id.AttemptID) ([]Entry, error) {
	return p.store.ListByAttempt(ctx, attemptID)
}
