package ingestion_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/bus/membus"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/idempotency"
	"github.com/chat4all/backbone/internal/ingestion"
	"github.com/chat4all/backbone/internal/messagelog/memlog"
	"github.com/chat4all/backbone/internal/metadata/memstore"
)

func newWorker(t *testing.T) (*ingestion.Worker, *membus.Bus, *memstore.Store) {
	t.Helper()
	meta := memstore.New()
	_, err := meta.CreateConversation(context.Background(), "conv-1", domain.ConversationGroup, []string{"alice", "bob"}, nil)
	require.NoError(t, err)

	b := membus.New()
	return &ingestion.Worker{
		Metadata:    meta,
		MessageLog:  memlog.New(),
		Dedupe:      idempotency.NewSeen(100),
		Producer:    b.Producer(),
		OutputTopic: "persisted",
		Logger:      zerolog.Nop(),
	}, b, meta
}

func submit(t *testing.T, messageID string) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.SubmittedEvent{
		MessageID:      messageID,
		ConversationID: "conv-1",
		SenderID:       "alice",
		Timestamp:      time.Unix(0, 0).UTC(),
		Type:           domain.MessageText,
		Content:        "hello",
	})
	require.NoError(t, err)
	return payload
}

func TestHandlePersistsAndForwards(t *testing.T) {
	ctx := context.Background()
	w, b, _ := newWorker(t)

	err := w.Handle(ctx, busRecord("conv-1", submit(t, "m1")))
	require.NoError(t, err)

	out := b.Topic("persisted")
	require.Len(t, out, 1)

	var persisted domain.PersistedEvent
	require.NoError(t, json.Unmarshal(out[0].Value, &persisted))
	assert.Equal(t, int64(1), persisted.Sequence)
}

func TestHandleIsIdempotentOnDuplicateMessage(t *testing.T) {
	ctx := context.Background()
	w, b, _ := newWorker(t)

	payload := submit(t, "m1")
	require.NoError(t, w.Handle(ctx, busRecord("conv-1", payload)))
	require.NoError(t, w.Handle(ctx, busRecord("conv-1", payload)))

	assert.Len(t, b.Topic("persisted"), 1, "a duplicate message id must not be processed twice")
}

func busRecord(key string, value []byte) bus.Record {
	return bus.Record{Topic: "submit", Key: key, Value: value}
}
