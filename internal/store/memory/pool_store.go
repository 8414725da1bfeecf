// Package memory provides in-memory implementations of the domain store
// interfaces. They back unit tests and the standalone demo mode; production
// deployments use the postgres package.
package memory

import (
	"context"
	"sync"

	"github.com/quantdesk/alertpool/internal/domain"
)

// PoolStore is an in-memory implementation of domain.PoolStore with the same
// optimistic-concurrency semantics as the Postgres store.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]domain.CapitalPool
}

// NewPoolStore creates an empty in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{data: make(map[string]domain.CapitalPool)}
}

// Create inserts a new pool. Returns ErrAlreadyExists on a duplicate ID.
func (s *PoolStore) Create(_ context.Context, pool domain.CapitalPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[pool.ID]; exists {
		return domain.ErrAlreadyExists
	}
	// Pool names are unique: one pool per strategy.
	for _, p := range s.data {
		if p.Name == pool.Name {
			return domain.ErrAlreadyExists
		}
	}
	s.data[pool.ID] = pool
	return nil
}

// GetByID retrieves a pool by ID.
func (s *PoolStore) GetByID(_ context.Context, id string) (domain.CapitalPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool, exists := s.data[id]
	if !exists {
		return domain.CapitalPool{}, domain.ErrNotFound
	}
	return pool, nil
}

// List returns all pools.
func (s *PoolStore) List(_ context.Context) ([]domain.CapitalPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]domain.CapitalPool, 0, len(s.data))
	for _, p := range s.data {
		pools = append(pools, p)
	}
	return pools, nil
}

// Update writes the pool if the caller holds the current version, then bumps
// the version. Returns ErrConflict on a version mismatch.
func (s *PoolStore) Update(_ context.Context, pool domain.CapitalPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.data[pool.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if stored.Version != pool.Version {
		return domain.ErrConflict
	}
	pool.Version++
	s.data[pool.ID] = pool
	return nil
}

var _ domain.PoolStore = (*PoolStore)(nil)
