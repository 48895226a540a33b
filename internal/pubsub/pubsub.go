// Package pubsub defines the ephemeral, non-durable, fire-and-forget
// broadcast contract: Publish is non-blocking and reports
// the subscriber count; Subscribe delivers only messages published after
// the subscription was established. No replay, no cross-channel
// ordering guarantee.
package pubsub

import "context"

// PubSub is implemented by the NATS-backed client (natsps) and by an
// in-memory fake (membus-style) for tests.
type PubSub interface {
	// Publish sends payload to channel and returns how many subscribers
	// were live to receive it. A count of 0 means nobody was listening.
	Publish(ctx context.Context, channel string, payload []byte) (subscribers int, err error)

	// Subscribe opens a stream of messages published to channel from
	// this point forward. The returned cancel func unsubscribes and
	// releases resources; callers must call it exactly once.
	Subscribe(ctx context.Context, channel string) (stream <-chan []byte, cancel func(), err error)

	Close() error
}

// ChannelForUser builds the `user:<id>` channel name used for per-user
// pub/sub.
func ChannelForUser(userID string) string { return "user:" + userID }
