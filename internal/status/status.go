// Package status implements the processor that applies a status
// transition to the durable log and, unless the reporter is the
// original sender, notifies the sender over pub/sub. Grounded on the
// original status-service/src/main.py's Scylla-update-then-conditional-
// notify shape.
package status

import (
	"context"
	"encoding/json"
	"fmt"

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
	Metrics    *metrics.Pipeline
	Logger     zerolog.Logger
}

func (w *Worker) Handle(ctx context.Context, rec bus.Record) error {
	const op = "status.Handle"

	var event domain.StatusEvent
	if err := json.Unmarshal(rec.Value, &event); err != nil {
		return apierr.Invalid(op, fmt.Errorf("decode status event: %w", err))
	}

	if err := w.MessageLog.UpdateStatus(ctx, event.ConversationID, event.Sequence, event.NewStatus); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	if event.SenderID == event.UserID {
		return nil // the sender updating their own status is not news to themself
	}

	notification := domain.StatusUpdateNotification{
		Type:           "STATUS_UPDATE",
		ConversationID: event.ConversationID,
		MessageID:      event.MessageID,
		Status:         event.NewStatus,
		ReadBy:         event.UserID,
		Timestamp:      event.Timestamp,
	}
	payload, err := json.Marshal(notification)
	if err != nil {
		return apierr.Internal(op, fmt.Errorf("encode status notification: %w", err))
	}

	channel := pubsub.ChannelForUser(event.SenderID)
	if _, err := w.PubSub.Publish(ctx, channel, payload); err != nil {
		return fmt.Errorf("publish status notification: %w", err)
	}
	if w.Metrics != nil {
		w.Metrics.MessagesProcessed.WithLabelValues(rec.Topic).Inc()
	}
	w.Logger.Info().Str("sender_id", event.SenderID).Str("status", string(event.NewStatus)).Msg("sender notified of status change")
	return nil
}
