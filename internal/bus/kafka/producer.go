// Package kafka wraps twmb/franz-go into the bus.Producer/bus.Consumer
// contract, adapted from ws/internal/shared/kafka/consumer.go's franz-go
// consumer but generalized from its token/event-type broadcast shape to
// generic keyed records, and with batching removed in favor of direct
// per-record handling plus a bounded-retry dead-letter policy.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer publishes records to Kafka/Redpanda with full-ack durability.
type Producer struct {
	client  *kgo.Client
	logger  zerolog.Logger
	timeout time.Duration
}

func NewProducer(brokers []string, logger zerolog.Logger, timeout time.Duration) (*Producer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchMaxBytes(4*1024*1024),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger, timeout: timeout}, nil
}

// Produce publishes one record and blocks for broker acknowledgement,
// bounded by the configured publish timeout.
func (p *Producer) Produce(ctx context.Context, topic, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	record := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}

	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	p.client.Close()
	return nil
}
