package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantdesk/alertpool/internal/domain"
)

// PoolStore implements domain.PoolStore using PostgreSQL with optimistic
// concurrency on the version column.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

const poolSelectCols = `id, name, initial_capital, total_capital, available_capital,
	distributed_capital, total_pl, total_pl_pct, version, created_at, updated_at`

func scanPoolRow(row pgx.Row) (domain.CapitalPool, error) {
	var p domain.CapitalPool
	err := row.Scan(
		&p.ID, &p.Name, &p.InitialCapital, &p.TotalCapital, &p.AvailableCapital,
		&p.DistributedCapital, &p.TotalProfitLoss, &p.TotalProfitLossPct,
		&p.Version, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// Create inserts a new pool. Returns domain.ErrAlreadyExists when a pool with
// the same ID exists.
func (s *PoolStore) Create(ctx context.Context, p domain.CapitalPool) error {
	const query = `
		INSERT INTO pools (
			id, name, initial_capital, total_capital, available_capital,
			distributed_capital, total_pl, total_pl_pct, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, p.InitialCapital, p.TotalCapital, p.AvailableCapital,
		p.DistributedCapital, p.TotalProfitLoss, p.TotalProfitLossPct,
		p.Version, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create pool %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single pool by its ID.
func (s *PoolStore) GetByID(ctx context.Context, id string) (domain.CapitalPool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolSelectCols+` FROM pools WHERE id = $1`, id)

	p, err := scanPoolRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CapitalPool{}, domain.ErrNotFound
		}
		return domain.CapitalPool{}, fmt.Errorf("postgres: get pool %s: %w", id, err)
	}
	return p, nil
}

// List returns all pools ordered by creation time.
func (s *PoolStore) List(ctx context.Context) ([]domain.CapitalPool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolSelectCols+` FROM pools ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var pools []domain.CapitalPool
	for rows.Next() {
		p, err := scanPoolRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

// Update writes the pool's derived fields only when the caller's version
// matches the stored row, then increments the version. A zero-row update on
// an existing pool means another writer got there first: domain.ErrConflict.
func (s *PoolStore) Update(ctx context.Context, p domain.CapitalPool) error {
	const query = `
		UPDATE pools SET
			name                = $2,
			total_capital       = $3,
			available_capital   = $4,
			distributed_capital = $5,
			total_pl            = $6,
			total_pl_pct        = $7,
			version             = version + 1,
			updated_at          = $8
		WHERE id = $1 AND version = $9`

	tag, err := s.pool.Exec(ctx, query,
		p.ID, p.Name, p.TotalCapital, p.AvailableCapital,
		p.DistributedCapital, p.TotalProfitLoss, p.TotalProfitLossPct,
		p.UpdatedAt, p.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pool %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM pools WHERE id = $1)", p.ID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: update pool %s: %w", p.ID, err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrConflict
	}
	return nil
}

var _ domain.PoolStore = (*PoolStore)(nil)
