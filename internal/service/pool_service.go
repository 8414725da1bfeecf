// Package service orchestrates the allocation engine: it serializes writers
// per pool, runs the accounting math, and persists the resulting state.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/quantdesk/alertpool/internal/accounting"
	"github.com/quantdesk/alertpool/internal/domain"
	"github.com/quantdesk/alertpool/internal/notify"
)

// PoolServiceConfig tunes lock acquisition for pool mutations.
type PoolServiceConfig struct {
	LockTTL        time.Duration
	LockRetries    int
	LockRetryDelay time.Duration
}

// PoolService owns all pool mutations. Every write path acquires the pool's
// distributed lock, loads the full pool state, applies the accounting
// operation, and persists the result with an optimistic version check. The
// lock makes the version check a belt-and-suspenders measure rather than the
// primary serialization mechanism.
type PoolService struct {
	pools     domain.PoolStore
	positions domain.PositionStore
	ledger    domain.LedgerStore
	audit     domain.AuditStore
	prices    domain.PriceCache
	locks     domain.LockManager
	bus       domain.SignalBus
	notifier  *notify.Notifier
	logger    *slog.Logger
	cfg       PoolServiceConfig
}

// NewPoolService creates a PoolService. The notifier may be nil when no
// notification channels are configured.
func NewPoolService(
	pools domain.PoolStore,
	positions domain.PositionStore,
	ledger domain.LedgerStore,
	audit domain.AuditStore,
	prices domain.PriceCache,
	locks domain.LockManager,
	bus domain.SignalBus,
	notifier *notify.Notifier,
	cfg PoolServiceConfig,
	logger *slog.Logger,
) *PoolService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	if cfg.LockRetries < 1 {
		cfg.LockRetries = 3
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 150 * time.Millisecond
	}
	return &PoolService{
		pools:     pools,
		positions: positions,
		ledger:    ledger,
		audit:     audit,
		prices:    prices,
		locks:     locks,
		bus:       bus,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "pool_service")),
		cfg:       cfg,
	}
}

// SaleRequest describes a sell against an alert's position. Exactly one of
// Shares and PercentOfPosition must be positive.
type SaleRequest struct {
	AlertID           string
	Shares            float64
	PercentOfPosition float64
	Price             float64
	ExecutedBy        string
}

// CreatePool registers a new capital pool.
func (s *PoolService) CreatePool(ctx context.Context, name string, initialCapital float64) (domain.CapitalPool, error) {
	pool, err := accounting.NewPool(uuid.New().String(), name, initialCapital, time.Now().UTC())
	if err != nil {
		return domain.CapitalPool{}, err
	}

	if err := s.pools.Create(ctx, pool); err != nil {
		return domain.CapitalPool{}, fmt.Errorf("pool_service: create pool: %w", err)
	}

	s.auditLog(ctx, "pool_created", map[string]any{
		"pool_id":         pool.ID,
		"name":            pool.Name,
		"initial_capital": pool.InitialCapital,
	})

	s.logger.InfoContext(ctx, "pool created",
		slog.String("pool_id", pool.ID),
		slog.Float64("initial_capital", pool.InitialCapital),
	)
	return pool, nil
}

// GetPool returns the pool row.
func (s *PoolService) GetPool(ctx context.Context, poolID string) (domain.CapitalPool, error) {
	pool, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return domain.CapitalPool{}, fmt.Errorf("pool_service: get pool %q: %w", poolID, err)
	}
	return pool, nil
}

// ListPools returns all pools.
func (s *PoolService) ListPools(ctx context.Context) ([]domain.CapitalPool, error) {
	pools, err := s.pools.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list pools: %w", err)
	}
	return pools, nil
}

// GetSummary returns the pool with its active positions and P&L breakdown.
func (s *PoolService) GetSummary(ctx context.Context, poolID string) (domain.PoolSummary, error) {
	state, err := s.loadState(ctx, poolID)
	if err != nil {
		return domain.PoolSummary{}, err
	}

	active := make([]domain.Position, 0, len(state.Positions))
	for _, p := range state.Positions {
		if p.Open() {
			active = append(active, p)
		}
	}
	return domain.PoolSummary{
		Pool:       state.Pool,
		Positions:  active,
		Realized:   accounting.RealizedSum(&state),
		Unrealized: accounting.UnrealizedSum(&state),
	}, nil
}

// ListPositionHistory returns closed and open positions for a pool, paginated.
func (s *PoolService) ListPositionHistory(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Position, error) {
	history, err := s.positions.ListHistory(ctx, poolID, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: position history for %q: %w", poolID, err)
	}
	return history, nil
}

// ListLedger returns the pool's ledger entries, newest first.
func (s *PoolService) ListLedger(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	entries, err := s.ledger.ListByPool(ctx, poolID, opts)
	if err != nil {
		return nil, fmt.Errorf("pool_service: ledger for %q: %w", poolID, err)
	}
	return entries, nil
}

// Allocate commits pool capital to an alert. It holds the pool lock for the
// whole read-compute-write cycle.
func (s *PoolService) Allocate(ctx context.Context, poolID string, req accounting.AllocationRequest) (accounting.AllocationResult, error) {
	var result accounting.AllocationResult

	err := s.withPoolLock(ctx, poolID, func(ctx context.Context) error {
		state, err := s.loadState(ctx, poolID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		result, err = accounting.Allocate(&state, req, now)
		if err != nil {
			return s.reportIfCorrupt(ctx, poolID, err)
		}

		entry := domain.LedgerEntry{
			ID:             uuid.New().String(),
			PoolID:         poolID,
			AlertID:        req.AlertID,
			Symbol:         result.Position.Symbol,
			Operation:      domain.OperationBuy,
			Quantity:       result.SharesBought,
			Price:          req.EntryPrice,
			Amount:         result.ActualAmount,
			RunningBalance: state.Pool.AvailableCapital,
			ExecutedAt:     now,
		}
		if err := s.persist(ctx, &state, result.Position, &entry); err != nil {
			return err
		}

		s.auditLog(ctx, "allocation_executed", map[string]any{
			"pool_id":     poolID,
			"alert_id":    req.AlertID,
			"symbol":      result.Position.Symbol,
			"shares":      result.SharesBought,
			"entry_price": req.EntryPrice,
			"amount":      result.ActualAmount,
		})
		s.publishPoolEvent(ctx, "allocation", state.Pool, result.Position)

		if s.notifier != nil {
			if nerr := s.notifier.AllocationExecuted(ctx, state.Pool.Name, &result.Position, result.ActualAmount); nerr != nil {
				s.logger.WarnContext(ctx, "allocation notification failed", slog.String("error", nerr.Error()))
			}
		}

		s.logger.InfoContext(ctx, "allocation executed",
			slog.String("pool_id", poolID),
			slog.String("alert_id", req.AlertID),
			slog.String("symbol", result.Position.Symbol),
			slog.Float64("shares", result.SharesBought),
			slog.Float64("amount", result.ActualAmount),
		)
		return nil
	})
	if err != nil {
		return accounting.AllocationResult{}, err
	}
	return result, nil
}

// Sell realizes profit on an alert's position, partially or completely.
func (s *PoolService) Sell(ctx context.Context, poolID string, req SaleRequest) (accounting.SaleResult, error) {
	if (req.Shares <= 0) == (req.PercentOfPosition <= 0) {
		return accounting.SaleResult{}, fmt.Errorf("pool_service: exactly one of shares and percent must be set: %w", domain.ErrInvalidRequest)
	}

	var result accounting.SaleResult

	err := s.withPoolLock(ctx, poolID, func(ctx context.Context) error {
		state, err := s.loadState(ctx, poolID)
		if err != nil {
			return err
		}

		shares := req.Shares
		if req.PercentOfPosition > 0 {
			if req.PercentOfPosition > 100 {
				return fmt.Errorf("pool_service: percent %g exceeds 100: %w", req.PercentOfPosition, domain.ErrInvalidRequest)
			}
			pos := state.Position(req.AlertID)
			if pos == nil || !pos.Open() {
				return fmt.Errorf("pool_service: sell %q: %w", req.AlertID, domain.ErrNoPosition)
			}
			shares = req.PercentOfPosition / 100 * pos.Shares
		}

		now := time.Now().UTC()
		result, err = accounting.Sell(&state, req.AlertID, shares, req.Price, req.ExecutedBy, now)
		if err != nil {
			return s.reportIfCorrupt(ctx, poolID, err)
		}

		entry := domain.LedgerEntry{
			ID:             uuid.New().String(),
			PoolID:         poolID,
			AlertID:        req.AlertID,
			Symbol:         result.Position.Symbol,
			Operation:      domain.OperationSell,
			Quantity:       -result.Record.SharesSold,
			Price:          req.Price,
			Amount:         result.CapitalReleased,
			RunningBalance: state.Pool.AvailableCapital,
			ExecutedAt:     now,
		}
		if err := s.persist(ctx, &state, result.Position, &entry); err != nil {
			return err
		}

		s.auditLog(ctx, "sale_executed", map[string]any{
			"pool_id":          poolID,
			"alert_id":         req.AlertID,
			"sale_id":          result.Record.ID,
			"symbol":           result.Position.Symbol,
			"shares_sold":      result.Record.SharesSold,
			"sell_price":       req.Price,
			"realized_profit":  result.RealizedProfit,
			"capital_released": result.CapitalReleased,
			"complete":         result.Record.CompleteSale,
			"executed_by":      req.ExecutedBy,
		})
		s.publishPoolEvent(ctx, "sale", state.Pool, result.Position)

		if s.notifier != nil {
			if nerr := s.notifier.SaleExecuted(ctx, state.Pool.Name, &result.Position, result.Record); nerr != nil {
				s.logger.WarnContext(ctx, "sale notification failed", slog.String("error", nerr.Error()))
			}
		}

		s.logger.InfoContext(ctx, "sale executed",
			slog.String("pool_id", poolID),
			slog.String("alert_id", req.AlertID),
			slog.Float64("shares_sold", result.Record.SharesSold),
			slog.Float64("realized_profit", result.RealizedProfit),
			slog.Bool("complete", result.Record.CompleteSale),
		)
		return nil
	})
	if err != nil {
		return accounting.SaleResult{}, err
	}
	return result, nil
}

// DiscardSale voids a previously executed sale, restoring the sold shares to
// the position and removing the realized profit from the pool.
func (s *PoolService) DiscardSale(ctx context.Context, poolID, alertID, saleID string) (domain.Position, error) {
	var out domain.Position

	err := s.withPoolLock(ctx, poolID, func(ctx context.Context) error {
		state, err := s.loadState(ctx, poolID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		out, err = accounting.DiscardSale(&state, alertID, saleID, now)
		if err != nil {
			return s.reportIfCorrupt(ctx, poolID, err)
		}

		if err := s.persist(ctx, &state, out, nil); err != nil {
			return err
		}

		s.auditLog(ctx, "sale_discarded", map[string]any{
			"pool_id":  poolID,
			"alert_id": alertID,
			"sale_id":  saleID,
		})
		s.publishPoolEvent(ctx, "sale_discarded", state.Pool, out)
		return nil
	})
	if err != nil {
		return domain.Position{}, err
	}
	return out, nil
}

// Refresh reprices a pool's active positions from the price cache and
// re-derives its aggregates. Returns the number of repriced positions.
func (s *PoolService) Refresh(ctx context.Context, poolID string) (int, error) {
	var updated int

	err := s.withPoolLock(ctx, poolID, func(ctx context.Context) error {
		state, err := s.loadState(ctx, poolID)
		if err != nil {
			return err
		}

		symbols := activeSymbols(&state)
		if len(symbols) == 0 {
			return nil
		}

		priceMap, err := s.prices.GetPrices(ctx, symbols)
		if err != nil {
			return fmt.Errorf("pool_service: fetch cached prices: %w", err)
		}
		if len(priceMap) == 0 {
			s.logger.DebugContext(ctx, "no cached prices for pool",
				slog.String("pool_id", poolID),
			)
			return nil
		}

		now := time.Now().UTC()
		updated, err = accounting.Refresh(&state, priceMap, now)
		if err != nil {
			return s.reportIfCorrupt(ctx, poolID, err)
		}

		if err := s.persistAll(ctx, &state); err != nil {
			return err
		}
		s.publishPoolEvent(ctx, "refresh", state.Pool, domain.Position{})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}

// RefreshAll reprices every pool. Pool failures are logged and skipped so one
// corrupted pool cannot stall valuation of the others.
func (s *PoolService) RefreshAll(ctx context.Context) error {
	pools, err := s.pools.List(ctx)
	if err != nil {
		return fmt.Errorf("pool_service: list pools for refresh: %w", err)
	}

	for _, pool := range pools {
		if _, err := s.Refresh(ctx, pool.ID); err != nil {
			s.logger.ErrorContext(ctx, "pool refresh failed",
				slog.String("pool_id", pool.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// ActiveSymbols returns the deduplicated symbols with open positions across
// all pools. Used by the price poller to scope its quote requests.
func (s *PoolService) ActiveSymbols(ctx context.Context) ([]string, error) {
	pools, err := s.pools.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list pools: %w", err)
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, pool := range pools {
		positions, err := s.positions.ListByPool(ctx, pool.ID, true)
		if err != nil {
			return nil, fmt.Errorf("pool_service: list positions for %q: %w", pool.ID, err)
		}
		for _, p := range positions {
			if !seen[p.Symbol] {
				seen[p.Symbol] = true
				symbols = append(symbols, p.Symbol)
			}
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// internals
// ---------------------------------------------------------------------------

// withPoolLock runs fn while holding the pool's distributed lock, retrying
// acquisition a bounded number of times. A pool that stays locked maps to
// ErrLockHeld so the transport layer can answer "busy" rather than block.
func (s *PoolService) withPoolLock(ctx context.Context, poolID string, fn func(ctx context.Context) error) error {
	key := "pool:" + poolID

	var unlock func()
	var err error
	for attempt := 0; attempt < s.cfg.LockRetries; attempt++ {
		unlock, err = s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("pool_service: acquire lock for %q: %w", poolID, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.LockRetryDelay):
		}
	}
	if err != nil {
		return fmt.Errorf("pool_service: pool %q busy: %w", poolID, domain.ErrLockHeld)
	}
	defer unlock()

	return fn(ctx)
}

// loadState fetches the pool and its complete position set, archived rows
// included. Realized P&L lives on closed positions, so aggregates cannot be
// recomputed from the active subset alone.
func (s *PoolService) loadState(ctx context.Context, poolID string) (accounting.PoolState, error) {
	pool, err := s.pools.GetByID(ctx, poolID)
	if err != nil {
		return accounting.PoolState{}, fmt.Errorf("pool_service: get pool %q: %w", poolID, err)
	}
	positions, err := s.positions.ListByPool(ctx, poolID, false)
	if err != nil {
		return accounting.PoolState{}, fmt.Errorf("pool_service: list positions for %q: %w", poolID, err)
	}
	return accounting.PoolState{Pool: pool, Positions: positions}, nil
}

// persist writes the pool (with version check), the touched position, and an
// optional ledger entry.
func (s *PoolService) persist(ctx context.Context, state *accounting.PoolState, pos domain.Position, entry *domain.LedgerEntry) error {
	if err := s.pools.Update(ctx, state.Pool); err != nil {
		return fmt.Errorf("pool_service: update pool %q: %w", state.Pool.ID, err)
	}
	if err := s.positions.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("pool_service: upsert position %q: %w", pos.AlertID, err)
	}
	if entry != nil {
		if err := s.ledger.Append(ctx, *entry); err != nil {
			return fmt.Errorf("pool_service: append ledger entry: %w", err)
		}
	}
	return nil
}

// persistAll writes the pool and every position, used after a bulk reprice.
func (s *PoolService) persistAll(ctx context.Context, state *accounting.PoolState) error {
	if err := s.pools.Update(ctx, state.Pool); err != nil {
		return fmt.Errorf("pool_service: update pool %q: %w", state.Pool.ID, err)
	}
	for _, pos := range state.Positions {
		if err := s.positions.Upsert(ctx, pos); err != nil {
			return fmt.Errorf("pool_service: upsert position %q: %w", pos.AlertID, err)
		}
	}
	return nil
}

// reportIfCorrupt escalates invariant violations to the audit log and all
// notification channels before passing the error through.
func (s *PoolService) reportIfCorrupt(ctx context.Context, poolID string, err error) error {
	if !errors.Is(err, domain.ErrInvariantViolation) {
		return err
	}

	s.logger.ErrorContext(ctx, "pool invariant violation",
		slog.String("pool_id", poolID),
		slog.String("error", err.Error()),
	)
	s.auditLog(ctx, "invariant_violation", map[string]any{
		"pool_id": poolID,
		"error":   err.Error(),
	})
	if s.notifier != nil {
		if nerr := s.notifier.InvariantViolation(ctx, poolID, err); nerr != nil {
			s.logger.WarnContext(ctx, "invariant notification failed", slog.String("error", nerr.Error()))
		}
	}
	return err
}

// auditLog writes an audit record, demoting failures to warnings. Losing an
// audit row is preferable to failing the mutation it describes.
func (s *PoolService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// publishPoolEvent fans a pool mutation out to the dashboard channel.
func (s *PoolService) publishPoolEvent(ctx context.Context, event string, pool domain.CapitalPool, pos domain.Position) {
	payload := map[string]any{
		"event":             event,
		"pool_id":           pool.ID,
		"total_capital":     pool.TotalCapital,
		"available_capital": pool.AvailableCapital,
		"total_pl":          pool.TotalProfitLoss,
	}
	if pos.AlertID != "" {
		payload["alert_id"] = pos.AlertID
		payload["symbol"] = pos.Symbol
		payload["shares"] = pos.Shares
	}

	evt, _ := json.Marshal(payload)
	if err := s.bus.Publish(ctx, "pools", evt); err != nil {
		s.logger.WarnContext(ctx, "publish pool event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// activeSymbols lists the distinct symbols of a state's open positions.
func activeSymbols(state *accounting.PoolState) []string {
	seen := make(map[string]bool)
	var symbols []string
	for i := range state.Positions {
		p := &state.Positions[i]
		if p.Open() && !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	return symbols
}
