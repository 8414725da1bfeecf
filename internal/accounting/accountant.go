package accounting

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/quantdesk/alertpool/internal/domain"
)

// moneyEpsilon is the tolerance for currency-identity checks after a
// recompute.
const moneyEpsilon = 1e-4

// PoolState is one pool plus its full position set, loaded and persisted as a
// unit. Every accountant operation mutates a PoolState in memory under the
// caller's pool lock and finishes with RecomputeTotals before the caller
// persists it.
type PoolState struct {
	Pool      domain.CapitalPool
	Positions []domain.Position
}

// Position returns a pointer into the state's position slice for the given
// alert, or nil if none exists.
func (s *PoolState) Position(alertID string) *domain.Position {
	for i := range s.Positions {
		if s.Positions[i].AlertID == alertID {
			return &s.Positions[i]
		}
	}
	return nil
}

// AllocationRequest asks the accountant to commit capital to an alert.
// Exactly one of Percent and Amount must be positive; Percent is relative to
// the pool's total capital, never its available capital, so staged
// allocations stay comparable as the pool grows.
type AllocationRequest struct {
	AlertID    string
	Symbol     string
	Percent    float64
	Amount     float64
	EntryPrice float64
}

// AllocationResult reports what an allocation actually committed. ActualAmount
// can be below the requested amount because share counts are whole-unit
// truncated; the remainder stays available.
type AllocationResult struct {
	Position        domain.Position
	SharesBought    float64
	RequestedAmount float64
	ActualAmount    float64
	Percent         float64
}

// SaleResult reports a completed sale.
type SaleResult struct {
	Position        domain.Position
	Record          domain.SaleRecord
	RealizedProfit  float64
	CapitalReleased float64
	RemainingShares float64
}

// NewPool creates a fresh pool with the given initial capital. All derived
// fields start equal to the baseline.
func NewPool(id, name string, initialCapital float64, now time.Time) (domain.CapitalPool, error) {
	if initialCapital <= 0 {
		return domain.CapitalPool{}, fmt.Errorf("accounting: initial capital %g: %w", initialCapital, domain.ErrInvalidRequest)
	}
	return domain.CapitalPool{
		ID:               id,
		Name:             name,
		InitialCapital:   initialCapital,
		TotalCapital:     initialCapital,
		AvailableCapital: initialCapital,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Allocate converts the request into whole shares, creates or increments the
// position for the alert, and re-derives the pool aggregates. It returns
// ErrInsufficientCapital when the cumulative allocation would exceed the
// pool's total capital, leaving the state untouched.
func Allocate(state *PoolState, req AllocationRequest, now time.Time) (AllocationResult, error) {
	if req.EntryPrice <= 0 {
		return AllocationResult{}, fmt.Errorf("accounting: allocate %q at price %g: %w", req.AlertID, req.EntryPrice, domain.ErrInvalidRequest)
	}
	if (req.Percent <= 0) == (req.Amount <= 0) {
		return AllocationResult{}, fmt.Errorf("accounting: allocate %q: exactly one of percent and amount must be set: %w", req.AlertID, domain.ErrInvalidRequest)
	}

	amount := req.Amount
	percent := req.Percent
	if req.Percent > 0 {
		amount = req.Percent / 100 * state.Pool.TotalCapital
	} else {
		if state.Pool.TotalCapital > 0 {
			percent = amount / state.Pool.TotalCapital * 100
		}
	}

	if state.Pool.DistributedCapital+amount > state.Pool.TotalCapital+moneyEpsilon {
		return AllocationResult{}, fmt.Errorf(
			"accounting: allocate %.2f with %.2f of %.2f already distributed: %w",
			amount, state.Pool.DistributedCapital, state.Pool.TotalCapital, domain.ErrInsufficientCapital,
		)
	}

	shares := math.Floor(amount / req.EntryPrice)
	if shares < 1 {
		return AllocationResult{}, fmt.Errorf("accounting: allocate %.2f buys no whole share at %.4f: %w", amount, req.EntryPrice, domain.ErrInvalidRequest)
	}
	actual := shares * req.EntryPrice

	pos := state.Position(req.AlertID)
	if pos == nil {
		state.Positions = append(state.Positions, domain.Position{
			ID:       uuid.New().String(),
			PoolID:   state.Pool.ID,
			AlertID:  req.AlertID,
			Symbol:   req.Symbol,
			Active:   true,
			OpenedAt: now,
		})
		pos = &state.Positions[len(state.Positions)-1]
	}
	*pos = ApplyAllocation(*pos, shares, req.EntryPrice, percent, now)

	if err := RecomputeTotals(state, now); err != nil {
		return AllocationResult{}, err
	}

	return AllocationResult{
		Position:        *pos,
		SharesBought:    shares,
		RequestedAmount: amount,
		ActualAmount:    actual,
		Percent:         percent,
	}, nil
}

// Sell realizes profit on up to the full open share count of the alert's
// position and re-derives the pool aggregates. Selling more than held or
// selling with no active position is a hard error; nothing is clamped.
func Sell(state *PoolState, alertID string, shares, price float64, executedBy string, now time.Time) (SaleResult, error) {
	pos := state.Position(alertID)
	if pos == nil || !pos.Open() {
		return SaleResult{}, fmt.Errorf("accounting: sell %q: %w", alertID, domain.ErrNoPosition)
	}

	next, rec, err := ApplySale(*pos, shares, price, executedBy, now)
	if err != nil {
		return SaleResult{}, err
	}
	*pos = next

	if err := RecomputeTotals(state, now); err != nil {
		return SaleResult{}, err
	}

	return SaleResult{
		Position:        *pos,
		Record:          rec,
		RealizedProfit:  rec.RealizedProfit,
		CapitalReleased: rec.CapitalReleased,
		RemainingShares: pos.Shares,
	}, nil
}

// DiscardSale voids a sale record: the record is flagged, the shares come
// back, and realized sums are rebuilt from the surviving records before the
// pool-level recompute re-excludes the voided profit.
func DiscardSale(state *PoolState, alertID, saleID string, now time.Time) (domain.Position, error) {
	pos := state.Position(alertID)
	if pos == nil {
		return domain.Position{}, fmt.Errorf("accounting: discard sale on %q: %w", alertID, domain.ErrNoPosition)
	}

	var rec *domain.SaleRecord
	for i := range pos.Sales {
		if pos.Sales[i].ID == saleID {
			rec = &pos.Sales[i]
			break
		}
	}
	if rec == nil {
		return domain.Position{}, fmt.Errorf("accounting: sale %q on %q: %w", saleID, alertID, domain.ErrNotFound)
	}
	if rec.Discarded {
		return *pos, nil
	}

	rec.Discarded = true
	*pos = RestoreSale(*pos, *rec, now)

	if err := RecomputeTotals(state, now); err != nil {
		return domain.Position{}, err
	}
	return *pos, nil
}

// RecomputeTotals is the single authoritative path that writes pool
// aggregates. It re-derives distributed capital, realized and unrealized
// sums from the position set and then checks the capital identities,
// returning ErrInvariantViolation if any position is internally
// inconsistent. Incremental patching of pool totals is what produces drift;
// nothing else in the engine is allowed to assign these fields.
func RecomputeTotals(state *PoolState, now time.Time) error {
	var distributed, realized, unrealized float64
	for i := range state.Positions {
		p := &state.Positions[i]
		if p.Shares < -domain.SharesEpsilon {
			return fmt.Errorf("accounting: position %s has negative shares %g: %w", p.AlertID, p.Shares, domain.ErrInvariantViolation)
		}
		realized += p.RealizedPL
		if !p.Open() {
			continue
		}
		if math.Abs(p.AllocatedAmount-p.Shares*p.EntryPrice) > moneyEpsilon {
			return fmt.Errorf("accounting: position %s allocated %.6f != shares*entry %.6f: %w",
				p.AlertID, p.AllocatedAmount, p.Shares*p.EntryPrice, domain.ErrInvariantViolation)
		}
		distributed += p.AllocatedAmount
		unrealized += p.UnrealizedPL
	}

	pool := &state.Pool
	pool.DistributedCapital = distributed
	pool.TotalCapital = pool.InitialCapital + realized + unrealized
	pool.AvailableCapital = pool.InitialCapital - distributed + realized
	pool.TotalProfitLoss = realized + unrealized
	if pool.InitialCapital > 0 {
		pool.TotalProfitLossPct = pool.TotalProfitLoss / pool.InitialCapital * 100
	}
	pool.UpdatedAt = now

	// Identity check: total == available + distributed + unrealized must hold
	// by construction; a mismatch means the derivation above was corrupted.
	if math.Abs(pool.TotalCapital-(pool.AvailableCapital+pool.DistributedCapital+unrealized)) > moneyEpsilon {
		return fmt.Errorf("accounting: pool %s capital identity broken (total=%.6f available=%.6f distributed=%.6f unrealized=%.6f): %w",
			pool.ID, pool.TotalCapital, pool.AvailableCapital, pool.DistributedCapital, unrealized, domain.ErrInvariantViolation)
	}
	return nil
}

// RealizedSum returns the pool's cumulative realized P&L across all
// positions, active or archived.
func RealizedSum(state *PoolState) float64 {
	var realized float64
	for i := range state.Positions {
		realized += state.Positions[i].RealizedPL
	}
	return realized
}

// UnrealizedSum returns the pool's unrealized P&L over active positions.
func UnrealizedSum(state *PoolState) float64 {
	var unrealized float64
	for i := range state.Positions {
		if state.Positions[i].Open() {
			unrealized += state.Positions[i].UnrealizedPL
		}
	}
	return unrealized
}
