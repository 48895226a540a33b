package fanout_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/bus/membus"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/fanout"
	"github.com/chat4all/backbone/internal/metadata/memstore"
)

func setup(t *testing.T) (*fanout.Worker, *membus.Bus) {
	t.Helper()
	meta := memstore.New()
	_, err := meta.CreateConversation(context.Background(), "conv-1", domain.ConversationGroup, []string{"alice", "bob", "carol"}, nil)
	require.NoError(t, err)
	require.NoError(t, meta.AddIdentity(context.Background(), "bob", "whatsapp", "+5511999999999"))

	b := membus.New()
	return &fanout.Worker{
		Metadata: meta,
		Producer: b.Producer(),
		ChannelTopics: map[string]string{
			domain.DeliveryChannel: "delivery",
			"whatsapp":             "connector.whatsapp.outbound",
		},
		Logger: zerolog.Nop(),
	}, b
}

func persistedEvent(t *testing.T, requested []string) bus.Record {
	t.Helper()
	event := domain.PersistedEvent{
		SubmittedEvent: domain.SubmittedEvent{
			MessageID:         "m1",
			ConversationID:    "conv-1",
			SenderID:          "alice",
			RequestedChannels: requested,
		},
		Sequence: 1,
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)
	return bus.Record{Topic: "persisted", Key: "conv-1", Value: payload}
}

func TestHandleSuppressesSenderEcho(t *testing.T) {
	w, b := setup(t)
	require.NoError(t, w.Handle(context.Background(), persistedEvent(t, []string{domain.AllChannelsSentinel})))

	out := b.Topic("delivery")
	for _, rec := range out {
		assert.NotEqual(t, "alice", rec.Key, "sender must never receive their own message")
	}
}

func TestHandleRoutesAllSentinelToEveryIdentity(t *testing.T) {
	w, b := setup(t)
	require.NoError(t, w.Handle(context.Background(), persistedEvent(t, []string{domain.AllChannelsSentinel})))

	bobDelivery := b.Topic("delivery")
	bobWhatsapp := b.Topic("connector.whatsapp.outbound")

	var sawBobDelivery, sawBobWhatsapp bool
	for _, rec := range bobDelivery {
		if rec.Key == "bob" {
			sawBobDelivery = true
		}
	}
	for _, rec := range bobWhatsapp {
		if rec.Key == "bob" {
			sawBobWhatsapp = true
		}
	}
	assert.True(t, sawBobDelivery, "bob has an implicit delivery-channel identity")
	assert.True(t, sawBobWhatsapp, "bob has a whatsapp identity and requested all channels")
}

func TestHandleDeterministicJobID(t *testing.T) {
	w, b := setup(t)
	require.NoError(t, w.Handle(context.Background(), persistedEvent(t, []string{domain.DeliveryChannel})))

	out := b.Topic("delivery")
	require.NotEmpty(t, out)

	var job domain.DeliveryJob
	require.NoError(t, json.Unmarshal(out[0].Value, &job))
	want := uuid.NewSHA1(uuid.NameSpaceDNS, []byte("m1:"+job.RecipientID+":delivery")).String()
	assert.Equal(t, want, job.JobID)
}

func TestHandleDefaultsAbsentChannelsToDelivery(t *testing.T) {
	w, b := setup(t)
	require.NoError(t, w.Handle(context.Background(), persistedEvent(t, nil)))

	out := b.Topic("delivery")
	var sawBob bool
	for _, rec := range out {
		if rec.Key == "bob" {
			sawBob = true
		}
	}
	assert.True(t, sawBob, "an absent channel set must still route to the internal delivery channel")
	assert.Empty(t, b.Topic("connector.whatsapp.outbound"), "an absent channel set must not expand to every identity")
}

func TestHandleSkipsUnrequestedChannel(t *testing.T) {
	w, b := setup(t)
	require.NoError(t, w.Handle(context.Background(), persistedEvent(t, []string{"whatsapp"})))

	assert.Empty(t, b.Topic("delivery"), "only whatsapp was requested, delivery channel must not fire")
	assert.NotEmpty(t, b.Topic("connector.whatsapp.outbound"))
}
