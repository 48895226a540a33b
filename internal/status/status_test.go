package status_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/messagelog/memlog"
	"github.com/chat4all/backbone/internal/pubsub"
	"github.com/chat4all/backbone/internal/pubsub/pstest"
	"github.com/chat4all/backbone/internal/status"
)

func statusRecord(t *testing.T, senderID, userID string) bus.Record {
	t.Helper()
	payload, err := json.Marshal(domain.StatusEvent{
		EventID: "e1", MessageID: "m1", ConversationID: "conv-1", Sequence: 1,
		UserID: userID, SenderID: senderID, NewStatus: domain.StatusRead,
	})
	require.NoError(t, err)
	return bus.Record{Topic: "status", Key: "conv-1", Value: payload}
}

func TestHandleUpdatesLogAndNotifiesSender(t *testing.T) {
	log := memlog.New()
	require.NoError(t, log.Append(context.Background(), domain.MessageRow{ConversationID: "conv-1", Sequence: 1, Status: domain.StatusSent}))

	broker := pstest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsub, err := broker.Subscribe(ctx, pubsub.ChannelForUser("alice"))
	require.NoError(t, err)
	defer unsub()

	w := &status.Worker{MessageLog: log, PubSub: broker, Logger: zerolog.Nop()}
	require.NoError(t, w.Handle(context.Background(), statusRecord(t, "alice", "bob")))

	history, err := log.ReadHistory(context.Background(), "conv-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusRead, history[0].Status)

	select {
	case msg := <-stream:
		var n domain.StatusUpdateNotification
		require.NoError(t, json.Unmarshal(msg, &n))
		assert.Equal(t, "bob", n.ReadBy)
	default:
		t.Fatal("expected sender to be notified")
	}
}

func TestHandleDoesNotNotifySelf(t *testing.T) {
	log := memlog.New()
	require.NoError(t, log.Append(context.Background(), domain.MessageRow{ConversationID: "conv-1", Sequence: 1, Status: domain.StatusSent}))

	broker := pstest.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, unsub, err := broker.Subscribe(ctx, pubsub.ChannelForUser("alice"))
	require.NoError(t, err)
	defer unsub()

	w := &status.Worker{MessageLog: log, PubSub: broker, Logger: zerolog.Nop()}
	require.NoError(t, w.Handle(context.Background(), statusRecord(t, "alice", "alice")))

	assert.Empty(t, stream, "the sender updating their own status must not be notified")
}
