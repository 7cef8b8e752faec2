// Package publisher delivers issuance events to the notification
// collaborator.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"

	"cachet/internal/issuance"
	"cachet/internal/platform/kafka"
)

// Kafka produces one event per issued document onto the issuance topic,
// keyed by application so retries land in the same partition.
type Kafka struct {
	client *kafka.Client
}

func NewKafka(client *kafka.Client) *Kafka {
	return &Kafka{client: client}
}

func (p *Kafka) PublishIssued(ctx context.Context, event issuance.IssuedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Produce(ctx, kafka.TopicIssuanceEvents, []byte(event.ApplicationID), value)
}

// Log stands in when no broker is configured; the event is only written to
// the structured log.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (p *Log) PublishIssued(ctx context.Context, event issuance.IssuedEvent) error {
	p.logger.InfoContext(ctx, "issuance event",
		"application_id", event.ApplicationID,
		"document_id", event.DocumentID,
		"issued_at", event.IssuedAt,
	)
	return nil
}
