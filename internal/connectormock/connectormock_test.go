package connectormock_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat4all/backbone/internal/bus"
	"github.com/chat4all/backbone/internal/bus/membus"
	"github.com/chat4all/backbone/internal/connectormock"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/fanout"
	"github.com/chat4all/backbone/internal/metadata/memstore"
)

func TestWhatsappRoutedJobRoundTripsByteForByte(t *testing.T) {
	ctx := context.Background()
	meta := memstore.New()

	require.NoError(t, meta.AddIdentity(ctx, "bob", "whatsapp", "+5511999999999"))

	convID, err := meta.CreateConversation(ctx, "conv-1", domain.ConversationGroup, []string{"alice", "bob"}, nil)
	require.NoError(t, err)

	b := membus.New()
	worker := &fanout.Worker{
		Metadata: meta,
		Producer: b.Producer(),
		ChannelTopics: map[string]string{
			domain.DeliveryChannel: "delivery",
			"whatsapp":             "connector.whatsapp.outbound.v1",
		},
	}

	persisted := domain.PersistedEvent{
		SubmittedEvent: domain.SubmittedEvent{
			MessageID:         "msg-1",
			ConversationID:    convID,
			SenderID:          "alice",
			Timestamp:         time.Unix(0, 0).UTC(),
			Type:              domain.MessageText,
			Content:           "hello",
			Status:            domain.StatusSent,
			RequestedChannels: []string{"whatsapp"},
		},
		Sequence: 1,
	}
	payload, err := json.Marshal(persisted)
	require.NoError(t, err)

	require.NoError(t, worker.Handle(ctx, bus.Record{Topic: "persisted", Key: convID, Value: payload}))

	outbound := b.Topic("connector.whatsapp.outbound.v1")
	require.Len(t, outbound, 1)

	connector := connectormock.New("whatsapp", "status", b.Producer())
	require.NoError(t, connector.Handle(ctx, outbound[0]))

	jobs := connector.Jobs()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, "bob", job.RecipientID)
	assert.Equal(t, "whatsapp", job.Channel)
	assert.Equal(t, persisted, job.Payload)

	require.NoError(t, connector.SimulateCallbacks(ctx, job, time.Unix(100, 0).UTC()))
	statusEvents := b.Topic("status")
	require.Len(t, statusEvents, 2)

	var delivered, read domain.StatusEvent
	require.NoError(t, json.Unmarshal(statusEvents[0].Value, &delivered))
	require.NoError(t, json.Unmarshal(statusEvents[1].Value, &read))
	assert.Equal(t, domain.StatusDelivered, delivered.NewStatus)
	assert.Equal(t, domain.StatusRead, read.NewStatus)
	assert.Equal(t, job.MessageID, delivered.MessageID)
	assert.Equal(t, job.MessageID, read.MessageID)
}
