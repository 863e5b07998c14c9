package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/chaz8081/scale-sync/internal/domain"
	"github.com/google/uuid"
)

// FileStore keeps measurements in a JSON file that survives restarts. The
// whole file is rewritten atomically on every change.
type FileStore struct {
	path string

	mu  sync.Mutex // serializes change + write
	mem *MemoryStore
}

var _ domain.HistoryStore = (*FileStore)(nil)

type historyFile struct {
	Measurements []domain.Measurement `json:"measurements"`
}

// OpenFile loads the store at path. A missing file is an empty history.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path, mem: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("history: read %s: %w", path, err)
	}

	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("history: parse %s: %w", path, err)
	}
	for _, m := range f.Measurements {
		_ = s.mem.Insert(context.Background(), m)
	}
	return s, nil
}

// Insert stores m and rewrites the file.
func (s *FileStore) Insert(ctx context.Context, m domain.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.Insert(ctx, m); err != nil {
		return err
	}
	return s.save()
}

// MarkSynced flips the synced flag and rewrites the file.
func (s *FileStore) MarkSynced(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mem.MarkSynced(ctx, id); err != nil {
		return err
	}
	return s.save()
}

// List returns all entries, newest first.
func (s *FileStore) List(ctx context.Context) ([]domain.Measurement, error) {
	return s.mem.List(ctx)
}

func (s *FileStore) save() error {
	s.mem.mu.Lock()
	f := historyFile{Measurements: make([]domain.Measurement, len(s.mem.entries))}
	copy(f.Measurements, s.mem.entries)
	s.mem.mu.Unlock()

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// writeFileAtomic writes to a temp file first, then renames.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("history: create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("history: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("history: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
