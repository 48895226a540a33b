package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/metadata/memstore"
)

func TestCreateConversationPrivateIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	id1, err := store.CreateConversation(ctx, "conv-1", domain.ConversationPrivate, []string{"alice", "bob"}, nil)
	require.NoError(t, err)

	id2, err := store.CreateConversation(ctx, "conv-2", domain.ConversationPrivate, []string{"bob", "alice"}, nil)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "a second private conversation between the same pair must reuse the first")
}

func TestNextSequenceIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	_, err := store.CreateConversation(ctx, "conv-1", domain.ConversationGroup, []string{"alice", "bob", "carol"}, nil)
	require.NoError(t, err)

	seq1, err := store.NextSequence(ctx, "conv-1", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)

	seq2, err := store.NextSequence(ctx, "conv-1", "msg-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)

	replay, err := store.NextSequence(ctx, "conv-1", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, seq1, replay, "replaying the same message id must not advance the sequence")
}

func TestNextSequenceUnknownConversation(t *testing.T) {
	store := memstore.New()
	_, err := store.NextSequence(context.Background(), "missing", "msg-1")
	assert.Error(t, err)
}

func TestGetMembers(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	_, err := store.CreateConversation(ctx, "conv-1", domain.ConversationGroup, []string{"a", "b", "a"}, nil)
	require.NoError(t, err)

	members, err := store.GetMembers(ctx, "conv-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)
}

func TestIdentities(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()

	require.NoError(t, store.AddIdentity(ctx, "alice", "whatsapp", "+551100000000"))
	require.NoError(t, store.AddIdentity(ctx, "alice", "whatsapp", "+551199999999"))

	ids, err := store.GetIdentities(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "+551199999999", ids["whatsapp"], "re-adding a channel identity must overwrite, not duplicate")
}
