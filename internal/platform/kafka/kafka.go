// Package kafka wraps the franz-go producer used for the issuance event feed
// and the audit compliance relay.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Topics used by the pipeline.
const (
	TopicIssuanceEvents = "cachet.documents.issued"
	TopicAuditEvents    = "cachet.audit.events"
)

// Client is a thin synchronous-produce wrapper around kgo.
type Client struct {
	kc *kgo.Client
}

// New connects to the brokers and ensures the pipeline topics exist.
// Topic-exists errors from racing instances are ignored.
func New(ctx context.Context, brokers []string) (*Client, error) {
	kc, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	adm := kadm.NewClient(kc)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, TopicIssuanceEvents, TopicAuditEvents)
	if err != nil {
		kc.Close()
		return nil, fmt.Errorf("ensure topics: %w", err)
	}
	for _, tr := range resp {
		if tr.Err != nil && !errors.Is(tr.Err, kerr.TopicAlreadyExists) {
			kc.Close()
			return nil, fmt.Errorf("ensure topic %s: %w", tr.Topic, tr.Err)
		}
	}
	return &Client{kc: kc}, nil
}

// Produce synchronously publishes one record and waits for the ack.
func (c *Client) Produce(ctx context.Context, topic string, key, value []byte) error {
	rec := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := c.kc.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (c *Client) Close() {
	c.kc.Close()
}
