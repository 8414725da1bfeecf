package memory

import (
	"context"
	"sync"
	"time"

	"github.com/quantdesk/alertpool/internal/domain"
)

// LedgerStore is an in-memory implementation of domain.LedgerStore. Entries
// are append-only.
type LedgerStore struct {
	mu      sync.RWMutex
	entries []domain.LedgerEntry
}

// NewLedgerStore creates an empty in-memory ledger store.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{}
}

// Append records one ledger entry.
func (s *LedgerStore) Append(_ context.Context, entry domain.LedgerEntry) error {
	if entry.ID == "" || entry.PoolID == "" {
		return domain.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ListByPool returns the pool's entries, newest first, with pagination and
// optional time filtering.
func (s *LedgerStore) ListByPool(_ context.Context, poolID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.LedgerEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.PoolID != poolID {
			continue
		}
		if opts.Since != nil && e.ExecutedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.ExecutedAt.After(*opts.Until) {
			continue
		}
		result = append(result, e)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(result) {
		result = result[:opts.Limit]
	}
	return result, nil
}

// ListBefore returns all entries executed strictly before the cutoff.
func (s *LedgerStore) ListBefore(_ context.Context, before time.Time) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.LedgerEntry
	for _, e := range s.entries {
		if e.ExecutedAt.Before(before) {
			result = append(result, e)
		}
	}
	return result, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
