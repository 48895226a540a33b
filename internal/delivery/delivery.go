// Package delivery implements the worker behind the "delivery" channel
// (and, by the same shape, a connector-facing outbound channel): write
// the message into the recipient's inbox first, then attempt a
// best-effort live push over pub/sub, falling back to a push
// notification when nobody is subscribed. Grounded on the original
// delivery-worker/src/main.py's Scylla-then-Redis ordering.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chat4all/backbone/internal/apierr"
	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/messagelog"
	"github.com/chat4all/backbone/internal/metrics"
	"github.com/chat4all/backbone/internal/pubsub"
)

type Worker struct {
	MessageLog messagelog.Store
	PubSub     pubsub.PubSub
	Producer   bus.Producer
	PushTopic  string
	Metrics    *metrics.Pipeline
	Logger     zerolog.Logger
}

func (w *Worker) Handle(ctx context.Context, rec bus.Record) error {
	const op = "delivery.Handle"

	var job domain.DeliveryJob
	if err := json.Unmarshal(rec.Value, &job); err != nil {
		return apierr.Invalid(op, fmt.Errorf("decode delivery job: %w", err))
	}

	now := job.Payload.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Write-ahead: the inbox copy is unconditional, regardless of
	// whether a live subscriber is reachable.
	inboxRow := domain.InboxRow{
		UserID:         job.RecipientID,
		ArrivalTime:    now,
		ConversationID: job.ConversationID,
		MessageID:      job.MessageID,
		Sequence:       job.Payload.Sequence,
		Content:        job.Payload.Content,
		SenderID:       job.Payload.SenderID,
		Status:         domain.StatusSent,
	}
	if err := w.MessageLog.PushInbox(ctx, inboxRow); err != nil {
		return fmt.Errorf("write-ahead inbox: %w", err)
	}

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return apierr.Internal(op, fmt.Errorf("encode push payload: %w", err))
	}

	channel := pubsub.ChannelForUser(job.RecipientID)
	subscribers, err := w.PubSub.Publish(ctx, channel, payload)
	if err != nil {
		// Live delivery is best-effort: the inbox write-ahead already
		// landed, so a pub/sub failure here falls through to the push
		// notification below rather than aborting (redelivering) the job.
		w.Logger.Warn().Err(err).Str("recipient_id", job.RecipientID).Msg("live delivery publish failed, falling back to push")
	}

	if subscribers > 0 {
		w.Logger.Info().Str("recipient_id", job.RecipientID).Int("subscribers", subscribers).Msg("delivered live")
		return nil
	}

	w.Logger.Info().Str("recipient_id", job.RecipientID).Msg("recipient offline, queuing push notification")
	notification := domain.PushNotificationEvent{
		NotificationID: uuid.NewString(),
		RecipientID:    job.RecipientID,
		Title:          fmt.Sprintf("New message from %s", job.Payload.SenderID),
		Body:           truncate(job.Payload.Content, 100),
		Data:           mustMarshal(map[string]string{"conversation_id": job.ConversationID, "message_id": job.MessageID}),
		Timestamp:      now,
	}
	notifPayload, err := json.Marshal(notification)
	if err != nil {
		return apierr.Internal(op, fmt.Errorf("encode push notification: %w", err))
	}
	if err := w.Producer.Produce(ctx, w.PushTopic, job.RecipientID, notifPayload); err != nil {
		// Also best-effort: the message is already durably in the inbox,
		// so a failed push just means the offline recipient finds it on
		// their next history read instead of via a push notification.
		w.Logger.Warn().Err(err).Str("recipient_id", job.RecipientID).Msg("push notification publish failed")
		return nil
	}
	if w.Metrics != nil {
		w.Metrics.MessagesProcessed.WithLabelValues(w.PushTopic).Inc()
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
