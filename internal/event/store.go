package event

import (
	"context"
	"errors"
	"sync"
)

// ErrStorageUnavailable wraps any backing-store failure. The engine never
// retries; retry policy belongs to the caller, since blind retries on
// appends would duplicate events and corrupt metrics.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Store is the persistence boundary for the event log. Append must
// serialize individual writes; Query must return a consistent snapshot and
// may run concurrently with appends.
type Store interface {
	Append(ctx context.Context, e *EmailEvent) error
	Query(ctx context.Context, f Filter) ([]*EmailEvent, error)
}

// MemoryStore is the default in-process store. Records are immutable once
// appended, so snapshot reads can share event pointers safely.
type MemoryStore struct {
	mu     sync.RWMutex
	events []*EmailEvent
}

// NewMemoryStore creates an empty in-memory event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append adds one event to the log.
func (s *MemoryStore) Append(_ context.Context, e *EmailEvent) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

// Query returns all events matching the filter, in append order.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]*EmailEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*EmailEvent
	for _, e := range s.events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
