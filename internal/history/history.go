package history

import (
	"fmt"
	"sync"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

// DefaultCapacity is the number of events kept when none is configured.
const DefaultCapacity = 512

// EventStore records cluster events. Indexes start at 1 and never repeat.
type EventStore interface {
	LastIndex() uint64
	FirstIndex() uint64
	Append(events ...types.Event) uint64
	ReadRange(lo, hi uint64) ([]types.Event, error)
	ReadSince(index uint64) []types.Event
	TruncatePrefix(upto uint64) error
}

// MemEventStore is an in-memory EventStore that drops its oldest events once
// capacity is exceeded.
type MemEventStore struct {
	mu       sync.Mutex
	capacity int
	first    uint64 // index of events[0]
	events   []types.Event
}

func NewMemEventStore(capacity int) *MemEventStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemEventStore{capacity: capacity, first: 1}
}

func (s *MemEventStore) LastIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndexLocked()
}

func (s *MemEventStore) lastIndexLocked() uint64 {
	return s.first + uint64(len(s.events)) - 1
}

// FirstIndex returns the oldest retained index. It is LastIndex()+1 when empty.
func (s *MemEventStore) FirstIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// Append assigns indexes to events, stores them and returns the last index.
func (s *MemEventStore) Append(events ...types.Event) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.Index = s.lastIndexLocked() + 1
		s.events = append(s.events, e)
	}
	if over := len(s.events) - s.capacity; over > 0 {
		s.truncateLocked(s.first + uint64(over) - 1)
	}
	return s.lastIndexLocked()
}

func (s *MemEventStore) ReadRange(lo, hi uint64) ([]types.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lo < s.first || hi > s.lastIndexLocked() || lo > hi {
		return nil, fmt.Errorf("invalid range [%d, %d], retained [%d, %d]", lo, hi, s.first, s.lastIndexLocked())
	}
	result := make([]types.Event, hi-lo+1)
	copy(result, s.events[lo-s.first:hi-s.first+1])
	return result, nil
}

// ReadSince returns every retained event with an index greater than index.
func (s *MemEventStore) ReadSince(index uint64) []types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.lastIndexLocked()
	if len(s.events) == 0 || index >= last {
		return nil
	}
	lo := index + 1
	if lo < s.first {
		lo = s.first
	}
	result := make([]types.Event, last-lo+1)
	copy(result, s.events[lo-s.first:])
	return result
}

// TruncatePrefix discards every event with index <= upto.
func (s *MemEventStore) TruncatePrefix(upto uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if upto > s.lastIndexLocked() {
		return fmt.Errorf("index %d beyond last index %d", upto, s.lastIndexLocked())
	}
	s.truncateLocked(upto)
	return nil
}

func (s *MemEventStore) truncateLocked(upto uint64) {
	if upto < s.first {
		return
	}
	n := int(upto - s.first + 1)
	kept := make([]types.Event, len(s.events)-n)
	copy(kept, s.events[n:])
	s.events = kept
	s.first = upto + 1
}
