package memlog_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/messagelog/memlog"
)

func TestAppendIsOverwriteSafe(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()

	row := domain.MessageRow{ConversationID: "c1", Sequence: 1, MessageID: "m1", Content: "hi", Status: domain.StatusSent, Timestamp: time.Unix(0, 0)}
	require.NoError(t, store.Append(ctx, row))
	require.NoError(t, store.Append(ctx, row))

	history, err := store.ReadHistory(ctx, "c1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "appending the same sequence twice must not duplicate the row")
}

func TestReadHistoryOrderedAndBounded(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, store.Append(ctx, domain.MessageRow{ConversationID: "c1", Sequence: i, Timestamp: time.Unix(i, 0)}))
	}

	history, err := store.ReadHistory(ctx, "c1", 2, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(3), history[0].Sequence)
	assert.Equal(t, int64(4), history[1].Sequence)
}

func TestUpdateStatusIsMonotone(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()

	require.NoError(t, store.Append(ctx, domain.MessageRow{ConversationID: "c1", Sequence: 1, Status: domain.StatusSent}))
	require.NoError(t, store.PushInbox(ctx, domain.InboxRow{UserID: "bob", ConversationID: "c1", Sequence: 1, Status: domain.StatusSent}))

	require.NoError(t, store.UpdateStatus(ctx, "c1", 1, domain.StatusRead))
	require.NoError(t, store.UpdateStatus(ctx, "c1", 1, domain.StatusDelivered)) // must not move status backward

	inbox, err := store.ReadInbox(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, domain.StatusRead, inbox[0].Status)
}

func TestReadInboxNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := memlog.New()

	require.NoError(t, store.PushInbox(ctx, domain.InboxRow{UserID: "bob", MessageID: "m1"}))
	require.NoError(t, store.PushInbox(ctx, domain.InboxRow{UserID: "bob", MessageID: "m2"}))

	inbox, err := store.ReadInbox(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "m2", inbox[0].MessageID)
}
