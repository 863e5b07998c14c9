package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chaz8081/scale-sync/internal/ble"
	"github.com/chaz8081/scale-sync/internal/domain"
	"github.com/chaz8081/scale-sync/internal/history"
	"github.com/google/uuid"
)

// mockRunner returns a fixed outcome, optionally after gate is closed.
type mockRunner struct {
	outcome ble.Outcome
	gate    chan struct{}
	started chan struct{}
}

func (m *mockRunner) Run(ctx context.Context) ble.Outcome {
	if m.started != nil {
		close(m.started)
	}
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return ble.Outcome{Err: ble.ErrCancelled}
		}
	}
	return m.outcome
}

func measured(kg float64) ble.Outcome {
	m := domain.NewMeasurement(kg, time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC))
	return ble.Outcome{Measurement: &m}
}

// mockUploader records Upload calls.
type mockUploader struct {
	mu     sync.Mutex
	err    error
	calls  []domain.Measurement
	tokens []string
}

func (u *mockUploader) Upload(_ context.Context, m domain.Measurement, credential string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls = append(u.calls, m)
	u.tokens = append(u.tokens, credential)
	return u.err
}

func (u *mockUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.calls)
}

// mockNotifier records Notify calls.
type mockNotifier struct {
	mu       sync.Mutex
	success  []bool
	messages []string
}

func (n *mockNotifier) Notify(success bool, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.success = append(n.success, success)
	n.messages = append(n.messages, message)
}

func (n *mockNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.success)
}

// failingStore rejects every write.
type failingStore struct {
	markCalls int
}

var errDiskFull = errors.New("disk full")

func (s *failingStore) Insert(context.Context, domain.Measurement) error { return errDiskFull }

func (s *failingStore) MarkSynced(context.Context, uuid.UUID) error {
	s.markCalls++
	return errDiskFull
}

func (s *failingStore) List(context.Context) ([]domain.Measurement, error) { return nil, nil }

// ctxStore fails writes once its context is done, like database/sql.
type ctxStore struct {
	*history.MemoryStore
}

func (s ctxStore) Insert(ctx context.Context, m domain.Measurement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Insert(ctx, m)
}

func (s ctxStore) MarkSynced(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.MarkSynced(ctx, id)
}
