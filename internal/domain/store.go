package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PoolStore persists capital pools.
type PoolStore interface {
	// Create inserts a new pool. Returns ErrAlreadyExists if a pool with the
	// same ID exists.
	Create(ctx context.Context, pool CapitalPool) error
	GetByID(ctx context.Context, id string) (CapitalPool, error)
	List(ctx context.Context) ([]CapitalPool, error)
	// Update writes the pool only if pool.Version matches the stored row,
	// then increments the version. Returns ErrConflict on a version mismatch
	// and ErrNotFound if the pool does not exist.
	Update(ctx context.Context, pool CapitalPool) error
}

// PositionStore persists positions. Active positions are unique per
// (pool, alert); Upsert enforces that key so concurrent allocations for the
// same alert cannot create redundant rows.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetByPoolAndAlert(ctx context.Context, poolID, alertID string) (Position, error)
	ListByPool(ctx context.Context, poolID string, activeOnly bool) ([]Position, error)
	ListHistory(ctx context.Context, poolID string, opts ListOpts) ([]Position, error)
}

// LedgerStore persists the append-only buy/sell ledger.
type LedgerStore interface {
	Append(ctx context.Context, entry LedgerEntry) error
	ListByPool(ctx context.Context, poolID string, opts ListOpts) ([]LedgerEntry, error)
	// ListBefore returns entries executed strictly before the cutoff, for
	// archival export.
	ListBefore(ctx context.Context, before time.Time) ([]LedgerEntry, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
