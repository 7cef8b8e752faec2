// Package relay streams the audit outbox to the compliance Kafka topic.
// Kafka-side consumers (the compliance collaborator) are out of scope; the
// relay only guarantees at-least-once delivery of every outbox row.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditpg "cachet/internal/audit/store/postgres"
)

// Producer is the publish seam, satisfied by platform/kafka.Client.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
}

// Source is the outbox seam, satisfied by the Postgres audit store.
type Source interface {
	UnpublishedOutbox(ctx context.Context, limit int) ([]auditpg.OutboxRow, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}

// Relay polls the outbox and publishes pending rows.
type Relay struct {
	source   Source
	producer Producer
	topic    string
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

func New(source Source, producer Producer, topic string, logger *slog.Logger) *Relay {
	return &Relay{
		source:   source,
		producer: producer,
		topic:    topic,
		logger:   logger,
		interval: 2 * time.Second,
		batch:    256,
	}
}

// Run polls until the context ends. Publish failures leave rows unpublished;
// the next tick retries them, so delivery is at-least-once.
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
	rows, err := r.source.UnpublishedOutbox(ctx, r.batch)
	if err != nil {
		return err
	}

	var published []uuid.UUID
	for _, row := range rows {
		if err := r.producer.Produce(ctx, r.topic, []byte(row.ID.String()), row.Payload); err != nil {
			r.logger.WarnContext(ctx, "audit relay produce failed, will retry",
				"event_id", row.ID,
				"error", err,
			)
			break
		}
		published = append(published, row.ID)
	}
	return r.source.MarkPublished(ctx, published)
}
