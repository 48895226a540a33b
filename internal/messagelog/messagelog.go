// Package messagelog is the append-only, per-conversation ordered
// message store and the per-user inbox, backed by gocql against
// Scylla/Cassandra. Grounded on the original's scylla_client.py for
// table shape (messages keyed by (conversation_id, sequence_number);
// user_inbox keyed by (user_id, created_at)) and on
// connectify-v2's message_cassandra_repo.go for the Go batch-write
// idiom.
package messagelog

import (
	"context"

	"github.com/chat4all/backbone/internal/domain"
)

// Store is the durable message log's storage contract.
type Store interface {
	// Append writes row to the conversation log at row.Sequence. It must
	// be safe to call twice with the same (ConversationID, Sequence):
	// since sequence assignment is already idempotent upstream, a
	// duplicate Append is an overwrite of identical data, not a
	// double-insert.
	Append(ctx context.Context, row domain.MessageRow) error

	// ReadHistory returns rows for conversationID with sequence numbers
	// in (afterSequence, afterSequence+limit], ascending.
	ReadHistory(ctx context.Context, conversationID string, afterSequence int64, limit int) ([]domain.MessageRow, error)

	// PushInbox writes a pending delivery record into userID's inbox.
	// This is the write-ahead step the delivery worker performs before
	// attempting any live or push delivery.
	PushInbox(ctx context.Context, row domain.InboxRow) error

	// UpdateStatus advances the status recorded for (conversationID,
	// sequence) to the max of the current and new status — it must
	// never move status backwards.
	UpdateStatus(ctx context.Context, conversationID string, sequence int64, newStatus domain.MessageStatus) error

	// ReadInbox returns userID's inbox rows, most recent first, up to
	// limit entries.
	ReadInbox(ctx context.Context, userID string, limit int) ([]domain.InboxRow, error)

	Close() error
}
