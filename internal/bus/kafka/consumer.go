package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/chat4all/backbone/internal/apierr"
	"github.com/chat4all/backbone/internal/bus"
)

// Consumer polls a consumer group over one or more topics and dispatches
// records to a bus.Handler one at a time per partition, committing
// offsets manually only after the handler returns nil.
//
// A record whose handler keeps failing is not retried forever: after
// MaxRetries attempts it is republished to "<topic>.dlq" and its offset
// is committed anyway, so a poison message cannot stall its partition.
type Consumer struct {
	client     *kgo.Client
	producer   *Producer
	logger     zerolog.Logger
	maxRetries int

	mu       sync.Mutex
	attempts map[string]int // per-record key: "topic/partition/offset" -> attempt count
}

type ConsumerConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        []string
	Logger        zerolog.Logger
	MaxRetries    int
	Producer      *Producer // used to republish to the DLQ topic
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.SessionTimeout(30*time.Second),
		kgo.RebalanceTimeout(60*time.Second),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			cfg.Logger.Info().Interface("partitions", assigned).Msg("partitions assigned")
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			cfg.Logger.Info().Interface("partitions", revoked).Msg("partitions revoked")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Consumer{
		client:     client,
		producer:   cfg.Producer,
		logger:     cfg.Logger,
		maxRetries: cfg.MaxRetries,
		attempts:   make(map[string]int),
	}, nil
}

// Run polls until ctx is cancelled. Each fetched record is handled and,
// on success, its offset is committed before the next poll proceeds —
// this keeps per-partition ordering intact.
func (c *Consumer) Run(ctx context.Context, handle bus.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil {
			return nil
		}

		for _, err := range fetches.Errors() {
			c.logger.Error().Err(err.Err).Str("topic", err.Topic).Int32("partition", err.Partition).Msg("fetch error")
		}

		// Each partition is handled in fetch order. A record that is
		// dead-lettered (permanent failure or retries exhausted) is
		// committed and the partition moves on; a still-retryable
		// transient failure stops the partition without committing and
		// rewinds it so the same record is re-handed on the next poll.
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				if !c.handleOne(ctx, record, handle) {
					return
				}
			}
		})
	}
}

// handleOne processes and commits a single record. It returns false when
// processing of the owning partition should stop for this poll cycle
// (a transient failure that must be redelivered, preserving order).
func (c *Consumer) handleOne(ctx context.Context, record *kgo.Record, handle bus.Handler) bool {
	rec := bus.Record{
		Topic:     record.Topic,
		Key:       string(record.Key),
		Value:     record.Value,
		Partition: record.Partition,
		Offset:    record.Offset,
	}

	err := handle(ctx, rec)
	if err == nil {
		c.resetAttempts(rec)
		c.commit(ctx, record)
		return true
	}

	if apierr.Permanent(err) {
		c.deadLetter(ctx, rec, err)
		c.commit(ctx, record)
		return true
	}

	attempts := c.incrementAttempts(rec)
	if attempts >= c.maxRetries {
		c.logger.Error().Err(err).Str("topic", rec.Topic).Int("attempts", attempts).
			Msg("exhausted retries, routing to dead-letter topic")
		c.deadLetter(ctx, rec, err)
		c.commit(ctx, record)
		return true
	}

	c.logger.Warn().Err(err).Str("topic", rec.Topic).Int("attempt", attempts).Msg("handler failed, will redeliver")
	// The client's fetch position is already past this record; move it
	// back so the next poll fetches the record again.
	c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		record.Topic: {record.Partition: {Epoch: record.LeaderEpoch, Offset: record.Offset}},
	})
	return false
}

func (c *Consumer) commit(ctx context.Context, record *kgo.Record) {
	if err := c.client.CommitRecords(ctx, record); err != nil {
		c.logger.Error().Err(err).Str("topic", record.Topic).Int64("offset", record.Offset).Msg("commit offset")
	}
}

func (c *Consumer) deadLetter(ctx context.Context, rec bus.Record, cause error) {
	if c.producer == nil {
		c.logger.Error().Err(cause).Str("topic", rec.Topic).Msg("no DLQ producer configured, dropping record")
		c.resetAttempts(rec)
		return
	}
	dlqTopic := rec.Topic + ".dlq"
	if err := c.producer.Produce(ctx, dlqTopic, rec.Key, rec.Value); err != nil {
		c.logger.Error().Err(err).Str("topic", dlqTopic).Msg("failed to publish to dead-letter topic")
		return
	}
	c.resetAttempts(rec)
}

func attemptKey(rec bus.Record) string {
	return fmt.Sprintf("%s/%d/%d", rec.Topic, rec.Partition, rec.Offset)
}

func (c *Consumer) incrementAttempts(rec bus.Record) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := attemptKey(rec)
	c.attempts[key]++
	return c.attempts[key]
}

func (c *Consumer) resetAttempts(rec bus.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, attemptKey(rec))
}

func (c *Consumer) Close() error {
	c.client.Close()
	return nil
}
