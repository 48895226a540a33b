// Package memstore is an in-memory metadata.Store fake used by unit
// tests across the ingestion, fan-out, and connectormock packages, avoiding a
// live Postgres instance.
package memstore

import (
	"context"
	"sync"

	"github.com/chat4all/backbone/internal/apierr"
	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/metadata"
)

type conversation struct {
	kind     domain.ConversationKind
	members  []string
	meta     []byte
	lastSeq  int64
}

type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	sequences     map[string]int64 // messageID -> sequence, for idempotent replay
	identities    map[string]map[string]string
	profiles      []domain.UserProfile
}

var _ metadata.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		conversations: make(map[string]*conversation),
		sequences:     make(map[string]int64),
		identities:    make(map[string]map[string]string),
	}
}

func (s *Store) CreateConversation(_ context.Context, conversationID string, kind domain.ConversationKind, members []string, meta []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == domain.ConversationPrivate && len(members) == 2 {
		for id, c := range s.conversations {
			if c.kind != domain.ConversationPrivate || len(c.members) != 2 {
				continue
			}
			if hasBoth(c.members, members[0], members[1]) {
				return id, nil
			}
		}
	}

	if _, ok := s.conversations[conversationID]; ok {
		return conversationID, nil
	}

	s.conversations[conversationID] = &conversation{kind: kind, members: dedupe(members), meta: meta}
	return conversationID, nil
}

func (s *Store) GetMembers(_ context.Context, conversationID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, apierr.NotFound("memstore.GetMembers", errNotFound(conversationID))
	}
	out := make([]string, len(c.members))
	copy(out, c.members)
	return out, nil
}

func (s *Store) GetUserConversations(_ context.Context, userID string) ([]domain.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ConversationSummary
	for id, c := range s.conversations {
		for _, m := range c.members {
			if m == userID {
				out = append(out, domain.ConversationSummary{ID: id, Kind: c.kind, Metadata: c.meta, LastSequence: c.lastSeq})
				break
			}
		}
	}
	return out, nil
}

func (s *Store) NextSequence(_ context.Context, conversationID, messageID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.sequences[messageID]; ok {
		return seq, nil
	}

	c, ok := s.conversations[conversationID]
	if !ok {
		return 0, apierr.NotFound("memstore.NextSequence", errNotFound(conversationID))
	}
	c.lastSeq++
	s.sequences[messageID] = c.lastSeq
	return c.lastSeq, nil
}

func (s *Store) GetIdentities(_ context.Context, userID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for k, v := range s.identities[userID] {
		out[k] = v
	}
	// Every user is implicitly bound to the internal socket channel under
	// their own ID, regardless of which external identities they've linked.
	out[domain.DeliveryChannel] = userID
	return out, nil
}

func (s *Store) AddIdentity(_ context.Context, userID, channel, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identities[userID] == nil {
		s.identities[userID] = make(map[string]string)
	}
	s.identities[userID][channel] = externalID
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserProfile, len(s.profiles))
	copy(out, s.profiles)
	return out, nil
}

// SeedProfile adds a directory entry for tests.
func (s *Store) SeedProfile(p domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append(s.profiles, p)
}

func (s *Store) Close() error { return nil }

func hasBoth(members []string, a, b string) bool {
	var hasA, hasB bool
	for _, m := range members {
		if m == a {
			hasA = true
		}
		if m == b {
			hasB = true
		}
	}
	return hasA && hasB
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

type notFoundErr string

func errNotFound(conversationID string) error { return notFoundErr(conversationID) }

func (e notFoundErr) Error() string { return "conversation not found: " + string(e) }
