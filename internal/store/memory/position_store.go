package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/quantdesk/alertpool/internal/domain"
)

type positionKey struct {
	poolID  string
	alertID string
}

// PositionStore is an in-memory implementation of domain.PositionStore. The
// (pool, alert) key is the map key itself, so duplicate active positions for
// one alert are structurally impossible, mirroring the Postgres unique
// constraint.
type PositionStore struct {
	mu   sync.RWMutex
	data map[positionKey]domain.Position
}

// NewPositionStore creates an empty in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{data: make(map[positionKey]domain.Position)}
}

// Upsert inserts or replaces the position for its (pool, alert) key.
func (s *PositionStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := pos
	cp.Sales = append([]domain.SaleRecord(nil), pos.Sales...)
	s.data[positionKey{pos.PoolID, pos.AlertID}] = cp
	return nil
}

// GetByPoolAndAlert retrieves one position.
func (s *PositionStore) GetByPoolAndAlert(_ context.Context, poolID, alertID string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, exists := s.data[positionKey{poolID, alertID}]
	if !exists {
		return domain.Position{}, domain.ErrNotFound
	}
	pos.Sales = append([]domain.SaleRecord(nil), pos.Sales...)
	return pos, nil
}

// ListByPool returns the pool's positions ordered by open time, optionally
// restricted to open ones.
func (s *PositionStore) ListByPool(_ context.Context, poolID string, activeOnly bool) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Position
	for key, pos := range s.data {
		if key.poolID != poolID {
			continue
		}
		if activeOnly && !pos.Open() {
			continue
		}
		pos.Sales = append([]domain.SaleRecord(nil), pos.Sales...)
		result = append(result, pos)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.Before(result[j].OpenedAt)
	})
	return result, nil
}

// ListHistory returns the pool's positions, newest first, with pagination.
func (s *PositionStore) ListHistory(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Position, error) {
	all, err := s.ListByPool(ctx, poolID, false)
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].OpenedAt.After(all[j].OpenedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(all) {
			return nil, nil
		}
		all = all[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(all) {
		all = all[:opts.Limit]
	}
	return all, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
