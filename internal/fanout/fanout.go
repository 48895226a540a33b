// Package fanout implements the dispatcher that turns one persisted
// event into one delivery job per (recipient, channel) pair, grounded
// on the original fanout-service/src/main.py's resolve_target_channels
// and echo-suppression logic.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chat4all/backbone/internal/apierr"
	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/metadata"
	"github.com/chat4all/backbone/internal/metrics"
)

// Worker resolves conversation membership and per-user channel
// identities into routed delivery jobs.
type Worker struct {
	Metadata metadata.Store
	Producer bus.Producer
	// ChannelTopics maps a channel name (e.g. "delivery", "whatsapp") to
	// the outbound topic a DeliveryJob for that channel is published to.
	ChannelTopics map[string]string
	Metrics       *metrics.Pipeline
	Logger        zerolog.Logger
}

func (w *Worker) Handle(ctx context.Context, rec bus.Record) error {
	const op = "fanout.Handle"

	var event domain.PersistedEvent
	if err := json.Unmarshal(rec.Value, &event); err != nil {
		return apierr.Invalid(op, fmt.Errorf("decode persisted event: %w", err))
	}

	members, err := w.Metadata.GetMembers(ctx, event.ConversationID)
	if err != nil {
		return fmt.Errorf("get members: %w", err)
	}
	if len(members) == 0 {
		w.Logger.Warn().Str("conversation_id", event.ConversationID).Msg("conversation has no members, nothing to dispatch")
		return nil
	}

	for _, member := range members {
		if member == event.SenderID {
			continue // echo suppression: sender never receives their own message
		}

		identities, err := w.Metadata.GetIdentities(ctx, member)
		if err != nil {
			return fmt.Errorf("get identities for %s: %w", member, err)
		}

		requested := event.RequestedChannels
		if len(requested) == 0 {
			// An absent channel set defaults to the internal socket
			// channel, not to nothing.
			requested = []string{domain.DeliveryChannel}
		}

		routes := resolveTargetChannels(requested, identities)
		if len(routes) == 0 {
			w.Logger.Warn().Str("recipient_id", member).Strs("requested", requested).Msg("no compatible route for recipient")
			continue
		}

		for channel := range routes {
			topic, ok := w.ChannelTopics[channel]
			if !ok {
				continue
			}

			jobID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s:%s:%s", event.MessageID, member, channel))).String()
			job := domain.DeliveryJob{
				JobID:          jobID,
				MessageID:      event.MessageID,
				ConversationID: event.ConversationID,
				RecipientID:    member,
				Channel:        channel,
				Payload:        event,
			}

			payload, err := json.Marshal(job)
			if err != nil {
				return apierr.Internal(op, fmt.Errorf("encode delivery job: %w", err))
			}

			if err := w.Producer.Produce(ctx, topic, member, payload); err != nil {
				return fmt.Errorf("publish delivery job: %w", err)
			}
			if w.Metrics != nil {
				w.Metrics.MessagesProcessed.WithLabelValues(topic).Inc()
			}
		}
	}
	return nil
}

// resolveTargetChannels returns {channel: externalID} for each requested
// channel the recipient actually has linked. The "all" sentinel expands
// to every identity the recipient has.
func resolveTargetChannels(requested []string, identities map[string]string) map[string]string {
	targetSet := make(map[string]struct{})
	for _, ch := range requested {
		if ch == domain.AllChannelsSentinel {
			for ch := range identities {
				targetSet[ch] = struct{}{}
			}
			break
		}
		targetSet[ch] = struct{}{}
	}

	routes := make(map[string]string)
	for ch := range targetSet {
		if externalID, ok := identities[ch]; ok {
			routes[ch] = externalID
		}
	}
	return routes
}
