package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer wraps a franz-go client for topic-keyed publishing. Escalation
// notifications and the audit outbox relay share one client; records are keyed
// by patient so per-patient ordering is preserved within a partition.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer connects to the given brokers. Returns nil if no brokers are
// configured (Kafka not wired; callers must treat a nil producer as a no-op
// sink, never as an error).
func NewProducer(brokers []string, logger *slog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// Publish synchronously produces one record. Used by the outbox relay where
// delivery must be confirmed before the outbox row is marked published.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p == nil || p.client == nil {
		return nil
	}
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// PublishAsync fires a record without blocking the caller. Failures are logged
// only; the async path is for best-effort notification delivery where the
// business outcome must not depend on the broker.
func (p *Producer) PublishAsync(ctx context.Context, topic string, key, value []byte) {
	if p == nil || p.client == nil {
		return
	}
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.Error("async kafka produce failed",
				"topic", r.Topic,
				"error", err,
			)
		}
	})
}

// Close flushes pending records and releases the client.
func (p *Producer) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Close()
}
