// Package membus is an in-memory bus.Producer/bus.Consumer pair used by
// unit tests to exercise the pipeline stages' logic (dedup, sequencing,
// fan-out, DLQ routing) without a live Kafka broker.
//
// It preserves the one ordering guarantee the core relies on: records
// sharing a key are delivered to a given consumer in publish order.
// It does not model partitions, consumer groups, or rebalancing —
// those are Kafka's job, faked away here.
package membus

import (
	"context"
	"fmt"
	"sync"

	"github.com/chat4all/backbone/internal/apierr"
	"github.com/chat4all/backbone/internal/bus"
)

type Bus struct {
	mu     sync.Mutex
	topics map[string][]bus.Record
	dlq    map[string][]bus.Record
	closed bool
}

func New() *Bus {
	return &Bus{
		topics: make(map[string][]bus.Record),
		dlq:    make(map[string][]bus.Record),
	}
}

// Producer returns a bus.Producer bound to this Bus.
func (b *Bus) Producer() bus.Producer { return &producer{bus: b} }

// Consumer returns a bus.Consumer that drains the given topics in
// publish order and routes permanently-failed or retry-exhausted
// records to "<topic>.dlq" (mirroring kafka.Consumer's policy).
func (b *Bus) Consumer(topics []string, maxRetries int) bus.Consumer {
	return &consumer{bus: b, topics: topics, maxRetries: maxRetries}
}

// DLQ returns a snapshot of records routed to topic+".dlq", for
// assertions in tests.
func (b *Bus) DLQ(topic string) []bus.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Record, len(b.dlq[topic+".dlq"]))
	copy(out, b.dlq[topic+".dlq"])
	return out
}

// Topic returns a snapshot of all records ever published to topic, in
// publish order.
func (b *Bus) Topic(topic string) []bus.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bus.Record, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}

type producer struct{ bus *Bus }

func (p *producer) Produce(_ context.Context, topic, key string, value []byte) error {
	p.bus.mu.Lock()
	defer p.bus.mu.Unlock()
	if p.bus.closed {
		return apierr.Unavailable("membus.Produce", errClosed)
	}
	rec := bus.Record{Topic: topic, Key: key, Value: value, Offset: int64(len(p.bus.topics[topic]))}
	p.bus.topics[topic] = append(p.bus.topics[topic], rec)
	return nil
}

func (p *producer) Close() error { return nil }

type consumer struct {
	bus        *Bus
	topics     []string
	maxRetries int
	offsets    map[string]int
	attempts   map[string]int
}

// Run drains every configured topic to completion, in publish order per
// topic, then returns nil. It is meant for deterministic tests: unlike
// the Kafka consumer it does not block waiting for new records.
func (c *consumer) Run(ctx context.Context, handle bus.Handler) error {
	if c.offsets == nil {
		c.offsets = make(map[string]int)
	}
	if c.attempts == nil {
		c.attempts = make(map[string]int)
	}

	for _, topic := range c.topics {
		for {
			if ctx.Err() != nil {
				return nil
			}

			c.bus.mu.Lock()
			idx := c.offsets[topic]
			records := c.bus.topics[topic]
			if idx >= len(records) {
				c.bus.mu.Unlock()
				break
			}
			rec := records[idx]
			c.bus.mu.Unlock()

			err := handle(ctx, rec)
			if err == nil {
				c.offsets[topic] = idx + 1
				delete(c.attempts, attemptKey(rec))
				continue
			}

			if apierr.Permanent(err) {
				c.deadLetter(ctx, rec)
				c.offsets[topic] = idx + 1
				continue
			}

			key := attemptKey(rec)
			c.attempts[key]++
			if c.attempts[key] >= c.maxRetries {
				c.deadLetter(ctx, rec)
				c.offsets[topic] = idx + 1
				delete(c.attempts, key)
				continue
			}
			// Transient failure under retry budget: stop draining this
			// topic for now rather than skip ahead, preserving order.
			break
		}
	}
	return nil
}

func (c *consumer) deadLetter(ctx context.Context, rec bus.Record) {
	c.bus.mu.Lock()
	dlqTopic := rec.Topic + ".dlq"
	c.bus.dlq[dlqTopic] = append(c.bus.dlq[dlqTopic], rec)
	c.bus.mu.Unlock()
}

func (c *consumer) Close() error { return nil }

func attemptKey(rec bus.Record) string { return fmt.Sprintf("%s/%s/%d", rec.Topic, rec.Key, rec.Offset) }

var errClosed = closedErr{}

type closedErr struct{}

func (closedErr) Error() string { return "membus: closed" }
