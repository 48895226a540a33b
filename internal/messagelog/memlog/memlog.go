// Package memlog is an in-memory messagelog.Store fake used by unit
// tests for the ingestion, delivery, and status packages.
package memlog

import (
	"context"
	"sort"
	"sync"

	"github.com/chat4all/backbone/internal/domain"
	"github.com/chat4all/backbone/internal/messagelog"
)

type Store struct {
	mu     sync.Mutex
	rows   map[string][]domain.MessageRow // conversationID -> rows, sorted by Sequence
	inbox  map[string][]domain.InboxRow   // userID -> rows, newest first
}

var _ messagelog.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		rows:  make(map[string][]domain.MessageRow),
		inbox: make(map[string][]domain.InboxRow),
	}
}

func (s *Store) Append(_ context.Context, row domain.MessageRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.rows[row.ConversationID]
	for i, existing := range rows {
		if existing.Sequence == row.Sequence {
			rows[i] = row
			return nil
		}
	}
	rows = append(rows, row)
	sort.Slice(rows, func(i, j int) bool { return rows[i].Sequence < rows[j].Sequence })
	s.rows[row.ConversationID] = rows
	return nil
}

func (s *Store) ReadHistory(_ context.Context, conversationID string, afterSequence int64, limit int) ([]domain.MessageRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.MessageRow
	for _, row := range s.rows[conversationID] {
		if row.Sequence <= afterSequence {
			continue
		}
		out = append(out, row)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) PushInbox(_ context.Context, row domain.InboxRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbox[row.UserID] = append([]domain.InboxRow{row}, s.inbox[row.UserID]...)
	return nil
}

func (s *Store) UpdateStatus(_ context.Context, conversationID string, sequence int64, newStatus domain.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, row := range s.rows[conversationID] {
		if row.Sequence == sequence {
			s.rows[conversationID][i].Status = domain.MaxStatus(row.Status, newStatus)
			break
		}
	}
	for userID, rows := range s.inbox {
		for i, row := range rows {
			if row.ConversationID == conversationID && row.Sequence == sequence {
				s.inbox[userID][i].Status = domain.MaxStatus(row.Status, newStatus)
			}
		}
	}
	return nil
}

func (s *Store) ReadInbox(_ context.Context, userID string, limit int) ([]domain.InboxRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.inbox[userID]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]domain.InboxRow, len(rows))
	copy(out, rows)
	return out, nil
}

func (s *Store) Close() error { return nil }
