// Package confighistory implements the Config Versioning component's
// ports.ConfigVersionStore: an in-process ring (always available) and an
// optional PostgreSQL-backed durable store.
package confighistory

import (
	"context"
	"sync"

	"github.com/nimbusdns/resolvcore/internal/core/domain"
)

// MemStore is the default, dependency-free ConfigVersionStore: an
// in-process ring of the most recent capacity snapshots. It is not
// durable across restarts.
type MemStore struct {
	mu       sync.Mutex
	snaps    []domain.Snapshot
	capacity int
}

// NewMemStore returns a MemStore retaining at most capacity snapshots,
// oldest dropped first. A non-positive capacity defaults to 100.
func NewMemStore(capacity int) *MemStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemStore{capacity: capacity}
}

func (s *MemStore) Save(_ context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
	if len(s.snaps) > s.capacity {
		s.snaps = s.snaps[len(s.snaps)-s.capacity:]
	}
	return nil
}

// List returns the most recent limit snapshots, newest first. limit <= 0
// returns every retained snapshot.
func (s *MemStore) List(_ context.Context, limit int) ([]domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.snaps)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Snapshot, n)
	for i := 0; i < n; i++ {
		out[i] = s.snaps[len(s.snaps)-1-i]
	}
	return out, nil
}

func (s *MemStore) Latest(_ context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return domain.Snapshot{}, domain.NewError(domain.KindPersistence, "no config snapshots recorded")
	}
	return s.snaps[len(s.snaps)-1], nil
}

// Rollback returns the Config of the snapshot with the given id. It does
// not itself re-apply the config; the caller decides whether to call
// Resolver.LoadConfig with the result.
func (s *MemStore) Rollback(_ context.Context, id string) (domain.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.snaps {
		if snap.ID == id {
			return snap.Config, nil
		}
	}
	return domain.Config{}, domain.NewError(domain.KindPersistence, "no snapshot with id "+id)
}
