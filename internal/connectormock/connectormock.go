// Package connectormock stands in for the external channel connectors
// (whatsapp, instagram, ...) this repository doesn't build for real.
// It records delivery jobs routed to it and can simulate the
// DELIVERED/READ status callbacks those connectors would emit, in the
// same shape as original_source/services/connector-mock/src/main.py's
// simulate_delivery_callbacks. Used only by tests that need to assert a
// whatsapp/instagram-routed job is byte-reproducible end to end.
package connectormock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/domain"
)

// Connector is an in-memory stand-in for one external channel. Its
// Handle method is a bus.Handler so it can be wired directly into a test
// harness's consumer fake the same way a real connector would consume
// its `connector.<channel>.outbound.v1` topic.
type Connector struct {
	Channel      string
	StatusTopic  string
	Producer     bus.Producer

	mu       sync.Mutex
	Received []domain.DeliveryJob
}

func New(channel, statusTopic string, producer bus.Producer) *Connector {
	return &Connector{Channel: channel, StatusTopic: statusTopic, Producer: producer}
}

// Handle decodes a delivery job and records it. It does not publish
// status callbacks itself; call SimulateCallbacks for that, so tests can
// control timing instead of sleeping through the mocked 1.5s/3s delays
// the original used.
func (c *Connector) Handle(_ context.Context, rec bus.Record) error {
	var job domain.DeliveryJob
	if err := json.Unmarshal(rec.Value, &job); err != nil {
		return fmt.Errorf("decode delivery job: %w", err)
	}
	c.mu.Lock()
	c.Received = append(c.Received, job)
	c.mu.Unlock()
	return nil
}

// Jobs returns the jobs received so far, in arrival order.
func (c *Connector) Jobs() []domain.DeliveryJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.DeliveryJob, len(c.Received))
	copy(out, c.Received)
	return out
}

// SimulateCallbacks publishes DELIVERED then READ status events for the
// given job, as the real connector would after round-tripping through
// whatsapp/instagram. It does not sleep between them; callers that want
// to exercise timing do so explicitly.
func (c *Connector) SimulateCallbacks(ctx context.Context, job domain.DeliveryJob, at time.Time) error {
	delivered := domain.StatusEvent{
		EventID:        uuid.NewString(),
		MessageID:      job.MessageID,
		ConversationID: job.ConversationID,
		Sequence:       job.Payload.Sequence,
		UserID:         job.RecipientID,
		SenderID:       job.Payload.SenderID,
		NewStatus:      domain.StatusDelivered,
		Timestamp:      at,
	}
	if err := c.publishStatus(ctx, delivered); err != nil {
		return err
	}

	read := delivered
	read.EventID = uuid.NewString()
	read.NewStatus = domain.StatusRead
	read.Timestamp = at
	return c.publishStatus(ctx, read)
}

func (c *Connector) publishStatus(ctx context.Context, event domain.StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode status event: %w", err)
	}
	if err := c.Producer.Produce(ctx, c.StatusTopic, event.MessageID, payload); err != nil {
		return fmt.Errorf("produce status event: %w", err)
	}
	return nil
}
