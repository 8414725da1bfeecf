package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdesk/alertpool/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The sale
// history lives in a JSONB column alongside the row, so a position and its
// history persist atomically. The UNIQUE (pool_id, alert_id) constraint plus
// ON CONFLICT upsert makes duplicate positions for one alert impossible.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, pool_id, alert_id, symbol, percentage, allocated_amount,
	shares, entry_price, current_price, unrealized_pl, unrealized_pl_pct,
	realized_pl, sold_shares, active, sales, opened_at, closed_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var sales []byte

	err := row.Scan(
		&p.ID, &p.PoolID, &p.AlertID, &p.Symbol, &p.Percentage, &p.AllocatedAmount,
		&p.Shares, &p.EntryPrice, &p.CurrentPrice, &p.UnrealizedPL, &p.UnrealizedPLPct,
		&p.RealizedPL, &p.SoldShares, &p.Active, &sales,
		&p.OpenedAt, &p.ClosedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	if len(sales) > 0 {
		if err := json.Unmarshal(sales, &p.Sales); err != nil {
			return domain.Position{}, fmt.Errorf("decode sale history: %w", err)
		}
	}
	return p, nil
}

// Upsert inserts the position or, when a row for (pool, alert) already
// exists, replaces its mutable fields.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	sales, err := json.Marshal(p.Sales)
	if err != nil {
		return fmt.Errorf("postgres: encode sale history for %s: %w", p.AlertID, err)
	}
	if p.Sales == nil {
		sales = []byte("[]")
	}

	const query = `
		INSERT INTO positions (
			id, pool_id, alert_id, symbol, percentage, allocated_amount,
			shares, entry_price, current_price, unrealized_pl, unrealized_pl_pct,
			realized_pl, sold_shares, active, sales, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)
		ON CONFLICT (pool_id, alert_id) DO UPDATE SET
			symbol            = EXCLUDED.symbol,
			percentage        = EXCLUDED.percentage,
			allocated_amount  = EXCLUDED.allocated_amount,
			shares            = EXCLUDED.shares,
			entry_price       = EXCLUDED.entry_price,
			current_price     = EXCLUDED.current_price,
			unrealized_pl     = EXCLUDED.unrealized_pl,
			unrealized_pl_pct = EXCLUDED.unrealized_pl_pct,
			realized_pl       = EXCLUDED.realized_pl,
			sold_shares       = EXCLUDED.sold_shares,
			active            = EXCLUDED.active,
			sales             = EXCLUDED.sales,
			closed_at         = EXCLUDED.closed_at,
			updated_at        = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.PoolID, p.AlertID, p.Symbol, p.Percentage, p.AllocatedAmount,
		p.Shares, p.EntryPrice, p.CurrentPrice, p.UnrealizedPL, p.UnrealizedPLPct,
		p.RealizedPL, p.SoldShares, p.Active, sales,
		p.OpenedAt, p.ClosedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s/%s: %w", p.PoolID, p.AlertID, err)
	}
	return nil
}

// GetByPoolAndAlert retrieves the position for one alert within a pool.
func (s *PositionStore) GetByPoolAndAlert(ctx context.Context, poolID, alertID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE pool_id = $1 AND alert_id = $2`,
		poolID, alertID)

	p, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s/%s: %w", poolID, alertID, err)
	}
	return p, nil
}

// ListByPool returns the pool's positions ordered by open time. With
// activeOnly set, archived positions are excluded.
func (s *PositionStore) ListByPool(ctx context.Context, poolID string, activeOnly bool) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE pool_id = $1`
	if activeOnly {
		query += ` AND active AND shares > 0`
	}
	query += ` ORDER BY opened_at`

	rows, err := s.pool.Query(ctx, query, poolID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", poolID, err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// ListHistory returns positions for the pool with pagination and optional
// time filtering, newest first.
func (s *PositionStore) ListHistory(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE pool_id = $1`
	args := []any{poolID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY opened_at DESC"

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
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position history: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

var _ domain.PositionStore = (*PositionStore)(nil)
