// Package postgres implements metadata.Store on top of jackc/pgx/v5's
// connection pool, grounded on the original metadata-service's
// repository.py for query shape (conversations, conversation_members,
// message_sequences_log, user_identities) and on ShopMindAI's
// chat_repository.go for the pooled-connection, prepared-query Go idiom.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chat4all/backbone/internal/apierr"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/metadata"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ metadata.Store = (*Store)(nil)

func Connect(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MaxConnIdleTime = 15 * time.Minute
	cfg.MaxConnLifetime = 1 * time.Hour

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id       TEXT PRIMARY KEY,
	type                  TEXT NOT NULL,
	last_sequence_number  BIGINT NOT NULL DEFAULT 0,
	metadata              JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS conversation_members (
	conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
	user_id         TEXT NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);
CREATE TABLE IF NOT EXISTS message_sequences_log (
	message_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
	sequence_number BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS user_identities (
	user_id     TEXT NOT NULL,
	channel     TEXT NOT NULL,
	external_id TEXT NOT NULL,
	PRIMARY KEY (user_id, channel)
);
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id    TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	username   TEXT NOT NULL,
	avatar_url TEXT NOT NULL DEFAULT ''
);`

// Migrate applies the schema idempotently. Called once at process
// startup by the ingestion worker's main, matching the original's
// database.py initialization step.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) findPrivateConversation(ctx context.Context, tx pgx.Tx, a, b string) (string, error) {
	const q = `
		SELECT cm1.conversation_id
		FROM conversation_members cm1
		JOIN conversation_members cm2 ON cm1.conversation_id = cm2.conversation_id
		JOIN conversations c ON c.conversation_id = cm1.conversation_id
		WHERE cm1.user_id = $1 AND cm2.user_id = $2 AND c.type = 'private'
		LIMIT 1`
	var id string
	err := tx.QueryRow(ctx, q, a, b).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) CreateConversation(ctx context.Context, conversationID string, kind domain.ConversationKind, members []string, meta []byte) (string, error) {
	const op = "postgres.CreateConversation"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", apierr.Unavailable(op, err)
	}
	defer tx.Rollback(ctx)

	if kind == domain.ConversationPrivate && len(members) == 2 {
		existing, err := s.findPrivateConversation(ctx, tx, members[0], members[1])
		if err != nil {
			return "", apierr.Internal(op, err)
		}
		if existing != "" {
			return existing, nil
		}
	}

	if meta == nil {
		meta = []byte("{}")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (conversation_id, type, last_sequence_number, metadata)
		 VALUES ($1, $2, 0, $3)
		 ON CONFLICT (conversation_id) DO NOTHING`,
		conversationID, string(kind), meta,
	); err != nil {
		return "", apierr.Internal(op, err)
	}

	unique := dedupe(members)
	for _, uid := range unique {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
			 ON CONFLICT DO NOTHING`,
			conversationID, uid,
		); err != nil {
			return "", apierr.Internal(op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", apierr.Unavailable(op, err)
	}
	return conversationID, nil
}

func (s *Store) GetMembers(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM conversation_members WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return nil, apierr.Internal("postgres.GetMembers", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, apierr.Internal("postgres.GetMembers", err)
		}
		members = append(members, uid)
	}
	return members, rows.Err()
}

func (s *Store) GetUserConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	const q = `
		SELECT c.conversation_id, c.type, c.metadata, c.last_sequence_number
		FROM conversation_members cm
		JOIN conversations c ON cm.conversation_id = c.conversation_id
		WHERE cm.user_id = $1`
	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, apierr.Internal("postgres.GetUserConversations", err)
	}
	defer rows.Close()

	var out []domain.ConversationSummary
	for rows.Next() {
		var cs domain.ConversationSummary
		var kind string
		var meta []byte
		if err := rows.Scan(&cs.ID, &kind, &meta, &cs.LastSequence); err != nil {
			return nil, apierr.Internal("postgres.GetUserConversations", err)
		}
		cs.Kind = domain.ConversationKind(kind)
		cs.Metadata = json.RawMessage(meta)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// NextSequence is idempotent: a replayed call with a messageID already
// present in message_sequences_log returns the sequence already
// assigned, rather than incrementing again. The
// increment itself runs inside a single transaction so concurrent
// producers for the same conversation serialize on the row lock implied
// by the UPDATE... RETURNING.
func (s *Store) NextSequence(ctx context.Context, conversationID, messageID string) (int64, error) {
	const op = "postgres.NextSequence"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apierr.Unavailable(op, err)
	}
	defer tx.Rollback(ctx)

	var existing int64
	err = tx.QueryRow(ctx,
		`SELECT sequence_number FROM message_sequences_log WHERE message_id = $1`, messageID,
	).Scan(&existing)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, apierr.Internal(op, err)
	}

	var next int64
	err = tx.QueryRow(ctx,
		`UPDATE conversations SET last_sequence_number = last_sequence_number + 1
		 WHERE conversation_id = $1 RETURNING last_sequence_number`,
		conversationID,
	).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apierr.NotFound(op, fmt.Errorf("conversation %s does not exist", conversationID))
	}
	if err != nil {
		return 0, apierr.Internal(op, err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO message_sequences_log (message_id, conversation_id, sequence_number) VALUES ($1, $2, $3)`,
		messageID, conversationID, next,
	); err != nil {
		return 0, apierr.Internal(op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, apierr.Unavailable(op, err)
	}
	return next, nil
}

func (s *Store) GetIdentities(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT channel, external_id FROM user_identities WHERE user_id = $1`, userID)
	if err != nil {
		return nil, apierr.Internal("postgres.GetIdentities", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var channel, externalID string
		if err := rows.Scan(&channel, &externalID); err != nil {
			return nil, apierr.Internal("postgres.GetIdentities", err)
		}
		out[channel] = externalID
	}
	// Every user is implicitly bound to the internal socket channel under
	// their own ID, regardless of which external identities they've linked.
	out[domain.DeliveryChannel] = userID
	return out, rows.Err()
}

func (s *Store) AddIdentity(ctx context.Context, userID, channel, externalID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_identities (user_id, channel, external_id) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, channel) DO UPDATE SET external_id = EXCLUDED.external_id`,
		userID, channel, externalID,
	)
	if err != nil {
		return apierr.Internal("postgres.AddIdentity", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserProfile, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id, name, username, avatar_url FROM user_profiles ORDER BY username`)
	if err != nil {
		return nil, apierr.Internal("postgres.ListUsers", err)
	}
	defer rows.Close()

	var out []domain.UserProfile
	for rows.Next() {
		var p domain.UserProfile
		if err := rows.Scan(&p.UserID, &p.Name, &p.Username, &p.AvatarURL); err != nil {
			return nil, apierr.Internal("postgres.ListUsers", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
