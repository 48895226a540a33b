// Package idempotency provides the ingestion worker's duplicate-message
// guard. The original ingestion-service kept a local
// collections.deque(maxlen=10000) and noted in comments that a real
// distributed deployment would back it with Redis; this package
// reproduces the local FIFO (Seen) and adds the Redis-backed variant it
// described but never built.
package idempotency

import (
	"container/list"
	"sync"
)

// Seen is a bounded FIFO set: once capacity is reached, inserting a new
// key evicts the oldest. It is NOT distributed — safe only for a single
// consumer instance, matching the original's local-cache caveat.
type Seen struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func NewSeen(capacity int) *Seen {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Seen{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// CheckAndAdd reports whether key was already seen. If not, it records
// key before returning.
func (s *Seen) CheckAndAdd(key string) (alreadySeen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[key]; ok {
		return true
	}

	elem := s.order.PushBack(key)
	s.index[key] = elem

	if s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(string))
	}
	return false
}
