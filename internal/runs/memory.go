package runs

import (
	"context"
	"sync"
)

// MemoryStore keeps run records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put implements Store
func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	rec.Outputs = append([]string(nil), rec.Outputs...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.RunID] = rec
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, runID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[runID]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Outputs = append([]string(nil), rec.Outputs...)
	return &rec, nil
}
