package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// OutboxSource is the subset of the postgres store the relay needs.
type OutboxSource interface {
	PendingOutbox(ctx context.Context, limit int) ([]OutboxRow, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID) error
}

// OutboxRow is one pending relay unit.
type OutboxRow struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	Payload     []byte
}

// Publisher delivers one payload, keyed for ordering per attempt.
type RelayPublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte) error
}

// Relay drains the audit outbox into Kafka. Rows are only marked published
// after confirmed delivery, so a crash between publish and mark produces a
// duplicate, never a loss.
type Relay struct {
	source   OutboxSource
	producer RelayPublisher
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

func NewRelay(source OutboxSource, producer RelayPublisher, topic string, logger *slog.Logger) *Relay {
	return &Relay{
		source:   source,
		producer: producer,
		topic:    topic,
		interval: 5 * time.Second,
		batch:    100,
		logger:   logger,
	}
}

// Run loops until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				r.logger.ErrorContext(ctx, "audit relay drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	rows, err := r.source.PendingOutbox(ctx, r.batch)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := r.producer.Publish(ctx, r.topic, row.AggregateID[:], row.Payload); err != nil {
			// Stop the batch; the row stays pending and is retried next tick.
			return err
		}
		if err := r.source.MarkPublished(ctx, row.ID); err != nil {
			return err
		}
	}
	return nil
}
