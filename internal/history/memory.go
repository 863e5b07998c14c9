package history

import (
	"context"
	"sync"

	"github.com/chaz8081/scale-sync/internal/domain"
	"github.com/google/uuid"
)

// MemoryStore keeps measurements for the life of the process.
type MemoryStore struct {
	mu      sync.Mutex
	entries []domain.Measurement
	index   map[uuid.UUID]int
}

// Ensure interfaces are met.
var _ domain.HistoryStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{index: make(map[uuid.UUID]int)}
}

// Insert appends m. Re-inserting an existing ID replaces that entry.
func (s *MemoryStore) Insert(_ context.Context, m domain.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i, ok := s.index[m.ID]; ok {
		s.entries[i] = m
		return nil
	}
	s.index[m.ID] = len(s.entries)
	s.entries = append(s.entries, m)
	return nil
}

// MarkSynced flips the synced flag of the entry with the given ID.
func (s *MemoryStore) MarkSynced(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	s.entries[i].Synced = true
	return nil
}

// List returns a copy of all entries, newest first by timestamp.
func (s *MemoryStore) List(_ context.Context) ([]domain.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Measurement, len(s.entries))
	copy(out, s.entries)
	sortNewestFirst(out)
	return out, nil
}
