// Package cassandra implements messagelog.Store on gocql against a
// Scylla/Cassandra cluster, grounded on the original scylla_client.py's
// schema (messages partitioned by conversation_id, clustered by
// sequence_number; user_inbox partitioned by user_id, clustered
// descending by created_at) and on connectify-v2's
// message_cassandra_repo.go for batch-write idiom.
package cassandra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/chat4all/backbone/internal/apierr"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/messagelog"
)

// retentionTTL matches the original's USING TTL 31536000 (one year).
const retentionTTL = 365 * 24 * time.Hour

type Store struct {
	session *gocql.Session
}

var _ messagelog.Store = (*Store)(nil)

func Connect(hosts []string, keyspace string) (*Store, error) {
	bootstrap := gocql.NewCluster(hosts...)
	bootstrap.Consistency = gocql.Quorum
	bootstrap.ProtoVersion = 4
	bootstrap.ConnectTimeout = 10 * time.Second
	bootstrapSession, err := bootstrap.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer bootstrapSession.Close()

	if err := bootstrapSession.Query(
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`, keyspace),
	).Exec(); err != nil {
		return nil, fmt.Errorf("create keyspace: %w", err)
	}

	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.ProtoVersion = 4
	cluster.ConnectTimeout = 10 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", keyspace, err)
	}

	s := &Store{session: session}
	if err := s.migrate(); err != nil {
		session.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id text,
			sequence_number bigint,
			message_id text,
			sender_id text,
			content text,
			message_type text,
			status text,
			timestamp timestamp,
			attachments text,
			PRIMARY KEY ((conversation_id), sequence_number)
		) WITH CLUSTERING ORDER BY (sequence_number ASC)`,
		`CREATE TABLE IF NOT EXISTS user_inbox (
			user_id text,
			created_at timestamp,
			conversation_id text,
			message_id text,
			sequence_number bigint,
			content text,
			sender_id text,
			status text,
			PRIMARY KEY ((user_id), created_at, message_id)
		) WITH CLUSTERING ORDER BY (created_at DESC)`,
	}
	for _, stmt := range statements {
		if err := s.session.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Append(_ context.Context, row domain.MessageRow) error {
	var attachments string
	if len(row.Attachments) > 0 {
		attachments = string(row.Attachments)
	}

	err := s.session.Query(
		`INSERT INTO messages
		 (conversation_id, sequence_number, message_id, sender_id, content, message_type, status, timestamp, attachments)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) USING TTL ?`,
		row.ConversationID, row.Sequence, row.MessageID, row.SenderID, row.Content,
		string(row.Type), string(row.Status), row.Timestamp, attachments, int(retentionTTL.Seconds()),
	).Exec()
	if err != nil {
		return apierr.Internal("cassandra.Append", err)
	}
	return nil
}

func (s *Store) ReadHistory(_ context.Context, conversationID string, afterSequence int64, limit int) ([]domain.MessageRow, error) {
	iter := s.session.Query(
		`SELECT conversation_id, sequence_number, message_id, sender_id, content, message_type, status, timestamp, attachments
		 FROM messages WHERE conversation_id = ? AND sequence_number > ? LIMIT ?`,
		conversationID, afterSequence, limit,
	).Iter()

	var out []domain.MessageRow
	var msgType, status, attachments string
	row := domain.MessageRow{}
	for iter.Scan(&row.ConversationID, &row.Sequence, &row.MessageID, &row.SenderID, &row.Content, &msgType, &status, &row.Timestamp, &attachments) {
		row.Type = domain.MessageType(msgType)
		row.Status = domain.MessageStatus(status)
		if attachments != "" {
			row.Attachments = json.RawMessage(attachments)
		} else {
			row.Attachments = nil
		}
		out = append(out, row)
		row = domain.MessageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, apierr.Internal("cassandra.ReadHistory", err)
	}
	return out, nil
}

func (s *Store) PushInbox(_ context.Context, row domain.InboxRow) error {
	err := s.session.Query(
		`INSERT INTO user_inbox
		 (user_id, created_at, conversation_id, message_id, sequence_number, content, sender_id, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.UserID, row.ArrivalTime, row.ConversationID, row.MessageID, row.Sequence, row.Content, row.SenderID, string(row.Status),
	).Exec()
	if err != nil {
		return apierr.Internal("cassandra.PushInbox", err)
	}
	return nil
}

// UpdateStatus advances the canonical messages row and every user_inbox
// copy of (conversationID, sequence) to MaxStatus(current, newStatus).
// messages is keyed exactly by (conversation_id, sequence_number), so its
// current status is a single-partition read; user_inbox is partitioned by
// recipient rather than by conversation, so reaching every copy of the
// same message needs ALLOW FILTERING across that table instead.
func (s *Store) UpdateStatus(_ context.Context, conversationID string, sequence int64, newStatus domain.MessageStatus) error {
	var currentStatus string
	if err := s.session.Query(
		`SELECT status FROM messages WHERE conversation_id = ? AND sequence_number = ?`,
		conversationID, sequence,
	).Scan(&currentStatus); err != nil {
		if err != gocql.ErrNotFound {
			return apierr.Internal("cassandra.UpdateStatus", err)
		}
	} else if merged := domain.MaxStatus(domain.MessageStatus(currentStatus), newStatus); merged != domain.MessageStatus(currentStatus) {
		if err := s.session.Query(
			`UPDATE messages SET status = ? WHERE conversation_id = ? AND sequence_number = ?`,
			string(merged), conversationID, sequence,
		).Exec(); err != nil {
			return apierr.Internal("cassandra.UpdateStatus", err)
		}
	}

	iter := s.session.Query(
		`SELECT user_id, created_at, message_id, content, sender_id, status FROM user_inbox
		 WHERE conversation_id = ? AND sequence_number = ? ALLOW FILTERING`,
		conversationID, sequence,
	).Iter()

	type target struct {
		userID, messageID, content, senderID, status string
		createdAt                                     time.Time
	}
	var rows []target
	var t target
	for iter.Scan(&t.userID, &t.createdAt, &t.messageID, &t.content, &t.senderID, &t.status) {
		rows = append(rows, t)
		t = target{}
	}
	if err := iter.Close(); err != nil {
		return apierr.Internal("cassandra.UpdateStatus", err)
	}

	for _, row := range rows {
		merged := domain.MaxStatus(domain.MessageStatus(row.status), newStatus)
		if merged == domain.MessageStatus(row.status) {
			continue
		}
		err := s.session.Query(
			`INSERT INTO user_inbox (user_id, created_at, conversation_id, message_id, sequence_number, content, sender_id, status)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			row.userID, row.createdAt, conversationID, row.messageID, sequence, row.content, row.senderID, string(merged),
		).Exec()
		if err != nil {
			return apierr.Internal("cassandra.UpdateStatus", err)
		}
	}
	return nil
}

func (s *Store) ReadInbox(_ context.Context, userID string, limit int) ([]domain.InboxRow, error) {
	iter := s.session.Query(
		`SELECT user_id, created_at, conversation_id, message_id, sequence_number, content, sender_id, status
		 FROM user_inbox WHERE user_id = ? LIMIT ?`,
		userID, limit,
	).Iter()

	var out []domain.InboxRow
	var status string
	row := domain.InboxRow{}
	for iter.Scan(&row.UserID, &row.ArrivalTime, &row.ConversationID, &row.MessageID, &row.Sequence, &row.Content, &row.SenderID, &status) {
		row.Status = domain.MessageStatus(status)
		out = append(out, row)
		row = domain.InboxRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, apierr.Internal("cassandra.ReadInbox", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	s.session.Close()
	return nil
}
