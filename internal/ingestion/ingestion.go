// Package ingestion implements the worker that turns a submitted event
// into a durably sequenced, persisted one: dedupe, assign sequence,
// append to the message log, publish onward. Grounded on
// the original ingestion-service/src/main.py's dedupe-then-sequence-
// then-persist order.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/chat4all/backbone/internal/apierr"
	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/idempotency"
	"github.com/chat4all/backbone/internal/messagelog"
	"github.com/chat4all/backbone/internal/metadata"
	"github.com/chat4all/backbone/internal/metrics"
)

// Worker wires storage, the dedup guard, and the outbound producer into
// a single bus.Handler.
type Worker struct {
	Metadata    metadata.Store
	MessageLog  messagelog.Store
	Dedupe      *idempotency.Seen
	Producer    bus.Producer
	OutputTopic string
	Metrics     *metrics.Pipeline
	Logger      zerolog.Logger
}

// Handle is the bus.Handler the ingestion consumer runs per record.
func (w *Worker) Handle(ctx context.Context, rec bus.Record) error {
	const op = "ingestion.Handle"

	var event domain.SubmittedEvent
	if err := json.Unmarshal(rec.Value, &event); err != nil {
		return apierr.Invalid(op, fmt.Errorf("decode submitted event: %w", err))
	}

	if w.Dedupe.CheckAndAdd(event.MessageID) {
		w.Logger.Info().Str("message_id", event.MessageID).Msg("duplicate submission ignored")
		return nil
	}

	sequence, err := w.Metadata.NextSequence(ctx, event.ConversationID, event.MessageID)
	if err != nil {
		return fmt.Errorf("assign sequence: %w", err)
	}

	row := domain.MessageRow{
		ConversationID: event.ConversationID,
		Sequence:       sequence,
		MessageID:      event.MessageID,
		SenderID:       event.SenderID,
		Content:        event.Content,
		Type:           event.Type,
		Status:         domain.StatusSent,
		Timestamp:      event.Timestamp,
		Attachments:    event.Attachments,
	}
	if err := w.MessageLog.Append(ctx, row); err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	persisted := domain.PersistedEvent{SubmittedEvent: event, Sequence: sequence}
	persisted.Status = domain.StatusSent

	payload, err := json.Marshal(persisted)
	if err != nil {
		return apierr.Internal(op, fmt.Errorf("encode persisted event: %w", err))
	}

	if err := w.Producer.Produce(ctx, w.OutputTopic, event.ConversationID, payload); err != nil {
		return fmt.Errorf("publish persisted event: %w", err)
	}

	if w.Metrics != nil {
		w.Metrics.MessagesProcessed.WithLabelValues(w.OutputTopic).Inc()
	}
	w.Logger.Info().Str("message_id", event.MessageID).Int64("sequence", sequence).Msg("persisted and forwarded")
	return nil
}
