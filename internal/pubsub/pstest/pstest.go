// Package pstest is an in-memory pubsub.PubSub fake used by unit tests
// for the delivery worker, status processor, and socket gateway, so
// those packages can be exercised without a live NATS server (mirrors
// the role internal/bus/membus plays for the Kafka-backed bus).
package pstest

import (
	"context"
	"sync"
)

type subscriber struct {
	ch chan []byte
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func New() *Broker {
	return &Broker{subs: make(map[string]map[*subscriber]struct{})}
}

func (b *Broker) Publish(_ context.Context, channel string, payload []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	listeners := b.subs[channel]
	count := 0
	for s := range listeners {
		select {
		case s.ch <- payload:
			count++
		default:
			// Slow subscriber, drop rather than block — matches the
			// fire-and-forget contract.
		}
	}
	return count, nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	s := &subscriber{ch: make(chan []byte, 64)}

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*subscriber]struct{})
	}
	b.subs[channel][s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[channel], s)
			if len(b.subs[channel]) == 0 {
				delete(b.subs, channel)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return s.ch, cancel, nil
}

func (b *Broker) Close() error { return nil }

// Subscribers reports how many listeners are currently registered on
// channel, for test assertions.
func (b *Broker) Subscribers(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
