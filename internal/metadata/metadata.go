// Package metadata is the control-plane store behind Postgres: it owns
// conversations, membership, per-conversation sequence counters, user
// identities across external channels, and (supplemented from the
// directory lookups in original_source's metadata-service) a read-side
// user profile listing. Grounded on ShopMindAI's chat_repository.go for
// Go idiom and on the original Python repository.py for exact semantics.
package metadata

import (
	"context"

	"github.com/chat4all/backbone/internal/domain"
)

// Store is the metadata service's storage contract. Implementations must
// make CreateConversation and NextSequence idempotent: retried calls
// with the same idempotency key must not double-create or double-count.
type Store interface {
	// CreateConversation creates conversationID with the given kind and
	// members. For a private conversation between exactly two members
	// that already has a conversation, the existing conversation's ID is
	// returned instead of creating a duplicate.
	CreateConversation(ctx context.Context, conversationID string, kind domain.ConversationKind, members []string, meta []byte) (string, error)

	// GetMembers returns every member of conversationID.
	GetMembers(ctx context.Context, conversationID string) ([]string, error)

	// GetUserConversations lists every conversation userID belongs to.
	GetUserConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error)

	// NextSequence assigns or replays the sequence number for messageID
	// within conversationID. Calling it twice with the same messageID
	// returns the same sequence both times.
	NextSequence(ctx context.Context, conversationID, messageID string) (int64, error)

	// GetIdentities returns userID's known external-channel identities,
	// keyed by channel name (e.g. "whatsapp" -> "+5511..."), plus an
	// implicit domain.DeliveryChannel -> userID binding every user has
	// regardless of which external channels they've linked.
	GetIdentities(ctx context.Context, userID string) (map[string]string, error)

	// AddIdentity upserts a single channel identity for userID.
	AddIdentity(ctx context.Context, userID, channel, externalID string) error

	// ListUsers returns directory profiles, supplementing the
	// distillation with the original's user-directory read side.
	ListUsers(ctx context.Context) ([]domain.UserProfile, error)

	Close() error
}
