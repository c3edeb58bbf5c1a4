// Package stream publishes committed identity operations to Kafka so
// downstream consumers (matchers, analytics, replication) can follow the
// registry without polling the provenance log.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"idregistry/internal/provenance"
)

const defaultTopic = "registry.operations"

// Event is the wire payload: one committed operation with the transactions
// it recorded.
type Event struct {
	CUID         string        `json:"cuid"`
	Operation    string        `json:"operation"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
}

// Transaction mirrors one recorded entity-level change.
type Transaction struct {
	Change string          `json:"change"`
	Entity string          `json:"entity"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// Publisher streams operation events to a Kafka topic. Publishing is
// fire-and-forget: delivery failures are logged, never surfaced to the
// operation that already committed.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// Option configures the publisher.
type Option func(*Publisher)

// WithTopic overrides the default topic.
func WithTopic(topic string) Option {
	return func(p *Publisher) { p.topic = topic }
}

// New connects to the given brokers.
func New(brokers []string, logger *slog.Logger, opts ...Option) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, err
	}
	p := &Publisher{client: client, topic: defaultTopic, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PublishOperation emits one event for a committed operation. The context's
// cuid keys the record so per-operation ordering is preserved per partition.
func (p *Publisher) PublishOperation(ctx context.Context, opCtx provenance.Context, txns []provenance.Transaction) {
	event := Event{
		CUID:      opCtx.CUID,
		Operation: string(opCtx.Operation),
		Timestamp: opCtx.Timestamp,
	}
	for _, txn := range txns {
		event.Transactions = append(event.Transactions, Transaction{
			Change: string(txn.Change),
			Entity: string(txn.Entity),
			Args:   json.RawMessage(txn.Args),
		})
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal operation event", "cuid", opCtx.CUID, "error", err.Error())
		return
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(opCtx.CUID),
		Value: payload,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.ErrorContext(ctx, "publish operation event",
				"cuid", opCtx.CUID,
				"operation", string(opCtx.Operation),
				"error", err.Error(),
			)
		}
	})
}

// Close flushes pending records and releases the client.
func (p *Publisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return err
	}
	p.client.Close()
	return nil
}
