package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdesk/alertpool/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Entries are
// insert-only; there is no update or delete path.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

const ledgerSelectCols = `id, pool_id, alert_id, symbol, operation, quantity,
	price, amount, running_balance, executed_at`

func scanLedgerRows(rows pgx.Rows) ([]domain.LedgerEntry, error) {
	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var op string
		if err := rows.Scan(
			&e.ID, &e.PoolID, &e.AlertID, &e.Symbol, &op,
			&e.Quantity, &e.Price, &e.Amount, &e.RunningBalance, &e.ExecutedAt,
		); err != nil {
			return nil, err
		}
		e.Operation = domain.OperationType(op)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Append records one ledger entry.
func (s *LedgerStore) Append(ctx context.Context, e domain.LedgerEntry) error {
	if e.ID == "" || e.PoolID == "" {
		return domain.ErrInvalidRequest
	}

	const query = `
		INSERT INTO ledger_entries (
			id, pool_id, alert_id, symbol, operation, quantity,
			price, amount, running_balance, executed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.PoolID, e.AlertID, e.Symbol, string(e.Operation),
		e.Quantity, e.Price, e.Amount, e.RunningBalance, e.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append ledger entry %s: %w", e.ID, err)
	}
	return nil
}

// ListByPool returns the pool's entries with pagination and optional time
// filtering, newest first.
func (s *LedgerStore) ListByPool(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	query := `SELECT ` + ledgerSelectCols + ` FROM ledger_entries WHERE pool_id = $1`
	args := []any{poolID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger for %s: %w", poolID, err)
	}
	defer rows.Close()

	entries, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ledger: %w", err)
	}
	return entries, nil
}

// ListBefore returns all entries executed strictly before the cutoff, oldest
// first, for archival export.
func (s *LedgerStore) ListBefore(ctx context.Context, before time.Time) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+ledgerSelectCols+` FROM ledger_entries
		 WHERE executed_at < $1 ORDER BY executed_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger before %s: %w", before, err)
	}
	defer rows.Close()

	entries, err := scanLedgerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ledger: %w", err)
	}
	return entries, nil
}

var _ domain.LedgerStore = (*LedgerStore)(nil)
