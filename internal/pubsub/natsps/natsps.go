// Package natsps adapts go-server/pkg/nats/client.go's NATS client
// wrapper to the pubsub.PubSub contract: core NATS pub/sub (no
// JetStream), giving non-durable, no-replay, fire-and-forget semantics.
package natsps

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/chat4all/backbone/internal/pubsub"
)

type Client struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

func Connect(url string, logger zerolog.Logger) (*Client, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error().Err(err).Msg("nats error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

var _ pubsub.PubSub = (*Client)(nil)

// Publish is non-blocking: NATS core Publish only queues onto the
// connection's write buffer, with no durability or replay. The returned
// count is the number of subscriptions this connection itself holds, on
// any subject; it is not the number of receivers of channel, which NATS
// core does not report. A process that subscribes to nothing, such as the
// delivery worker, therefore always gets 0 and always queues the push
// notification fallback, even when a gateway session received the message.
func (c *Client) Publish(_ context.Context, channel string, payload []byte) (int, error) {
	if err := c.conn.Publish(channel, payload); err != nil {
		return 0, fmt.Errorf("publish to %s: %w", channel, err)
	}
	return c.conn.NumSubscriptions(), nil
}

// Subscribe opens a NATS subscription on channel and forwards messages
// onto a buffered Go channel until ctx is cancelled or cancel() is
// called.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	out := make(chan []byte, 64)

	sub, err := c.conn.Subscribe(channel, func(msg *nats.Msg) {
		select {
		case out <- msg.Data:
		default:
			c.logger.Warn().Str("channel", channel).Msg("subscriber slow, dropping message")
		}
	})
	if err != nil {
		close(out)
		return nil, func() {}, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	done := make(chan struct{})
	cancel := func() {
		select {
		case <-done:
			return
		default:
			close(done)
		}
		_ = sub.Unsubscribe()
		close(out)
	}

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	return out, cancel, nil
}

func (c *Client) Close() error {
	c.conn.Close()
	return nil
}
