package delivery_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/bus/membus"
	"github.com/chat4all/backbone/internal/delivery"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/messagelog/memlog"
	"github.com/chat4all/backbone/internal/pubsub"
	"github.com/chat4all/backbone/internal/pubsub/pstest"
)

func job(t *testing.T) bus.Record {
	t.Helper()
	j := domain.DeliveryJob{
		JobID:          "job-1",
		MessageID:      "m1",
		ConversationID: "conv-1",
		RecipientID:    "bob",
		Channel:        domain.DeliveryChannel,
		Payload: domain.PersistedEvent{
			SubmittedEvent: domain.SubmittedEvent{MessageID: "m1", ConversationID: "conv-1", SenderID: "alice", Content: "hi"},
			Sequence:       1,
		},
	}
	payload, err := json.Marshal(j)
	require.NoError(t, err)
	return bus.Record{Topic: "delivery", Key: "bob", Value: payload}
}

func TestHandleWritesInboxRow(t *testing.T) {
	log := memlog.New()
	broker := pstest.New()
	b := membus.New()

	w := &delivery.Worker{MessageLog: log, PubSub: broker, Producer: b.Producer(), PushTopic: "push", Logger: zerolog.Nop()}
	require.NoError(t, w.Handle(context.Background(), job(t)))

	inbox, err := log.ReadInbox(context.Background(), "bob", 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "m1", inbox[0].MessageID)
}

func TestHandleFallsBackToPushWhenOffline(t *testing.T) {
	log := memlog.New()
	broker := pstest.New()
	b := membus.New()

	w := &delivery.Worker{MessageLog: log, PubSub: broker, Producer: b.Producer(), PushTopic: "push", Logger: zerolog.Nop()}
	require.NoError(t, w.Handle(context.Background(), job(t)))

	assert.Len(t, b.Topic("push"), 1, "with no live subscriber, a push notification must be queued")
}

func TestHandleDeliversLiveWhenSubscribed(t *testing.T) {
	log := memlog.New()
	broker := pstest.New()
	b := membus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsub, err := broker.Subscribe(ctx, pubsub.ChannelForUser("bob"))
	require.NoError(t, err)
	defer unsub()

	w := &delivery.Worker{MessageLog: log, PubSub: broker, Producer: b.Producer(), PushTopic: "push", Logger: zerolog.Nop()}
	require.NoError(t, w.Handle(context.Background(), job(t)))

	assert.Empty(t, b.Topic("push"), "a live subscriber must suppress the push fallback")
	select {
	case msg := <-stream:
		assert.NotEmpty(t, msg)
	default:
		t.Fatal("expected a message delivered over the live subscription")
	}
}
