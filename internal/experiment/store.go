package experiment

import (
	"context"
	"errors"
	"sync"
)

// ErrTestNotFound reports a lookup for a test id that does not exist.
var ErrTestNotFound = errors.New("test not found")

// TestStore persists test definitions.
type TestStore interface {
	Save(ctx context.Context, t *Test) error
	Get(ctx context.Context, id string) (*Test, error)
	List(ctx context.Context) ([]*Test, error)
}

// AssignmentStore persists variant assignments. SaveIfAbsent must be
// insert-if-absent: when two goroutines race on the same (test, user) the
// first write wins and both callers read back the same assignment.
type AssignmentStore interface {
	SaveIfAbsent(ctx context.Context, a *Assignment) (*Assignment, error)
	Get(ctx context.Context, testID, userID string) (*Assignment, error)
	CountByVariant(ctx context.Context, testID string) (map[string]int, error)
}

// MemoryTestStore is the default in-process definition store.
type MemoryTestStore struct {
	mu    sync.RWMutex
	tests map[string]*Test
}

func NewMemoryTestStore() *MemoryTestStore {
	return &MemoryTestStore{tests: make(map[string]*Test)}
}

func (s *MemoryTestStore) Save(_ context.Context, t *Test) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	cp.Variants = append([]Variant(nil), t.Variants...)
	s.tests[t.ID] = &cp
	return nil
}

func (s *MemoryTestStore) Get(_ context.Context, id string) (*Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tests[id]
	if !ok {
		return nil, ErrTestNotFound
	}
	cp := *t
	cp.Variants = append([]Variant(nil), t.Variants...)
	return &cp, nil
}

func (s *MemoryTestStore) List(_ context.Context) ([]*Test, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Test, 0, len(s.tests))
	for _, t := range s.tests {
		cp := *t
		cp.Variants = append([]Variant(nil), t.Variants...)
		out = append(out, &cp)
	}
	return out, nil
}

// MemoryAssignmentStore is the default in-process assignment store.
type MemoryAssignmentStore struct {
	mu          sync.Mutex
	assignments map[string]*Assignment
}

func NewMemoryAssignmentStore() *MemoryAssignmentStore {
	return &MemoryAssignmentStore{assignments: make(map[string]*Assignment)}
}

func assignmentKey(testID, userID string) string {
	return testID + "\x00" + userID
}

func (s *MemoryAssignmentStore) SaveIfAbsent(_ context.Context, a *Assignment) (*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := assignmentKey(a.TestID, a.UserID)
	if existing, ok := s.assignments[key]; ok {
		cp := *existing
		return &cp, nil
	}
	cp := *a
	s.assignments[key] = &cp
	out := cp
	return &out, nil
}

func (s *MemoryAssignmentStore) Get(_ context.Context, testID, userID string) (*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[assignmentKey(testID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryAssignmentStore) CountByVariant(_ context.Context, testID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, a := range s.assignments {
		if a.TestID == testID && !a.Excluded {
			counts[a.VariantID]++
		}
	}
	return counts, nil
}
