package persistence

import (
	"context"
	"fmt"
	"sync"

	"servis/internal/errors"
)

// MemStore is an in-memory Port used by tests and ephemeral deployments.
type MemStore struct {
	mu      sync.RWMutex
	records map[Kind]map[string][]byte

	// FailSaves makes the next N saves fail with a transient error,
	// exercising the context manager's retry path in tests.
	failMu    sync.Mutex
	failSaves int
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[Kind]map[string][]byte)}
}

// FailNextSaves makes the next n Save calls return a transient error.
func (s *MemStore) FailNextSaves(n int) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failSaves = n
}

func (s *MemStore) takeFailure() bool {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if s.failSaves > 0 {
		s.failSaves--
		return true
	}
	return false
}

// Save stores a copy of data.
func (s *MemStore) Save(ctx context.Context, kind Kind, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.takeFailure() {
		return errors.NewTransient(fmt.Errorf("injected save failure for %s/%s", kind, id), "")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.records[kind]
	if bucket == nil {
		bucket = make(map[string][]byte)
		s.records[kind] = bucket
	}
	bucket[id] = append([]byte(nil), data...)
	return nil
}

// Load returns a copy of the stored record.
func (s *MemStore) Load(ctx context.Context, kind Kind, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[kind][id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", kind, id, errors.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the record if present.
func (s *MemStore) Delete(ctx context.Context, kind Kind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[kind], id)
	return nil
}

// Close satisfies the Port contract.
func (s *MemStore) Close() error {
	return nil
}
