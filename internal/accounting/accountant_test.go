package accounting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/alertpool/internal/domain"
)

var testNow = time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC)

func newState(t *testing.T, initial float64) *PoolState {
	t.Helper()
	pool, err := NewPool("swing", "Swing Trades", initial, testNow)
	require.NoError(t, err)
	return &PoolState{Pool: pool}
}

// requireIdentities asserts the three capital identities that must hold for
// every pool at all times.
func requireIdentities(t *testing.T, state *PoolState) {
	t.Helper()
	realized := RealizedSum(state)
	unrealized := UnrealizedSum(state)

	var distributed float64
	for _, p := range state.Positions {
		if p.Open() {
			distributed += p.AllocatedAmount
		}
	}

	assert.InDelta(t, state.Pool.InitialCapital+realized+unrealized, state.Pool.TotalCapital, 1e-9, "total capital identity")
	assert.InDelta(t, state.Pool.InitialCapital-distributed+realized, state.Pool.AvailableCapital, 1e-9, "available capital identity")
	assert.InDelta(t, distributed, state.Pool.DistributedCapital, 1e-9, "distributed capital identity")
}

func TestNewPoolRejectsNonPositiveCapital(t *testing.T) {
	_, err := NewPool("p", "p", 0, testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = NewPool("p", "p", -100, testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestAllocatePercentRoundTrip(t *testing.T) {
	state := newState(t, 1000)

	res, err := Allocate(state, AllocationRequest{
		AlertID:    "alert-1",
		Symbol:     "AAPL",
		Percent:    30,
		EntryPrice: 10,
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 30.0, res.SharesBought)
	assert.Equal(t, 300.0, res.ActualAmount)
	assert.Equal(t, 300.0, state.Pool.DistributedCapital)
	assert.Equal(t, 700.0, state.Pool.AvailableCapital)
	assert.Equal(t, 1000.0, state.Pool.TotalCapital)
	requireIdentities(t, state)

	sale, err := Sell(state, "alert-1", 30, 12, "operator", testNow)
	require.NoError(t, err)

	assert.InDelta(t, 60.0, sale.RealizedProfit, 1e-9)
	assert.InDelta(t, 360.0, sale.CapitalReleased, 1e-9)
	assert.Equal(t, 0.0, sale.RemainingShares)
	assert.False(t, sale.Position.Active)
	assert.True(t, sale.Record.CompleteSale)

	// Recomputed from scratch: distributed drops to 0, realized is 60.
	assert.InDelta(t, 1060.0, state.Pool.AvailableCapital, 1e-9)
	assert.InDelta(t, 1060.0, state.Pool.TotalCapital, 1e-9)
	assert.Equal(t, 0.0, state.Pool.DistributedCapital)
	requireIdentities(t, state)
}

func TestAllocateTruncatesToWholeShares(t *testing.T) {
	state := newState(t, 1000)

	res, err := Allocate(state, AllocationRequest{
		AlertID:    "alert-1",
		Symbol:     "XYZ",
		Percent:    30,
		EntryPrice: 7,
	}, testNow)
	require.NoError(t, err)

	// 300/7 truncates to 42 shares; the 6-dollar remainder stays available.
	assert.Equal(t, 42.0, res.SharesBought)
	assert.InDelta(t, 294.0, res.ActualAmount, 1e-9)
	assert.InDelta(t, 706.0, state.Pool.AvailableCapital, 1e-9)
	requireIdentities(t, state)
}

func TestAllocateInsufficientCapitalLeavesStateUnchanged(t *testing.T) {
	state := newState(t, 1000)

	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "AAA", Percent: 100, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	before := *state.Position("a1")
	poolBefore := state.Pool

	_, err = Allocate(state, AllocationRequest{AlertID: "a2", Symbol: "BBB", Percent: 10, EntryPrice: 10}, testNow)
	assert.ErrorIs(t, err, domain.ErrInsufficientCapital)

	assert.Equal(t, poolBefore, state.Pool)
	assert.Len(t, state.Positions, 1)
	assert.Equal(t, before, *state.Position("a1"))
}

func TestAllocateRejectsDustAmount(t *testing.T) {
	state := newState(t, 1000)

	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "BRK", Amount: 50, EntryPrice: 120}, testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Empty(t, state.Positions)
}

func TestAllocateValidation(t *testing.T) {
	state := newState(t, 1000)

	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Percent: 10, EntryPrice: 0}, testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	// Both percent and amount set.
	_, err = Allocate(state, AllocationRequest{AlertID: "a1", Percent: 10, Amount: 100, EntryPrice: 10}, testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	// Neither set.
	_, err = Allocate(state, AllocationRequest{AlertID: "a1", EntryPrice: 10}, testNow)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestStagedAllocationsMergeIntoOnePosition(t *testing.T) {
	state := newState(t, 1000)

	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "TSLA", Percent: 10, EntryPrice: 10}, testNow)
	require.NoError(t, err)
	_, err = Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "TSLA", Percent: 15, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	require.Len(t, state.Positions, 1)
	pos := state.Position("a1")
	assert.Equal(t, 25.0, pos.Percentage)
	assert.Equal(t, 25.0, pos.Shares)
	assert.InDelta(t, 250.0, pos.AllocatedAmount, 1e-9)
	requireIdentities(t, state)
}

func TestStagedAllocationWeightsEntryPrice(t *testing.T) {
	state := newState(t, 1000)

	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "NVDA", Amount: 100, EntryPrice: 10}, testNow)
	require.NoError(t, err)
	_, err = Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "NVDA", Amount: 200, EntryPrice: 20}, testNow)
	require.NoError(t, err)

	pos := state.Position("a1")
	assert.Equal(t, 20.0, pos.Shares)
	assert.InDelta(t, 15.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 300.0, pos.AllocatedAmount, 1e-9)

	// Selling everything at 15 realizes exactly zero against the blended
	// entry, which is the point of weighting.
	sale, err := Sell(state, "a1", 20, 15, "op", testNow)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sale.RealizedProfit, 1e-9)
	requireIdentities(t, state)
}

func TestSellInsufficientSharesLeavesStateUnchanged(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "AMD", Percent: 30, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	poolBefore := state.Pool
	posBefore := *state.Position("a1")

	_, err = Sell(state, "a1", 31, 12, "op", testNow)
	assert.ErrorIs(t, err, domain.ErrInsufficientShares)
	assert.Equal(t, poolBefore, state.Pool)
	assert.Equal(t, posBefore, *state.Position("a1"))
}

func TestSellNoPosition(t *testing.T) {
	state := newState(t, 1000)

	_, err := Sell(state, "missing", 1, 10, "op", testNow)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestSellClosedPositionIsNoPosition(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "AMD", Percent: 10, EntryPrice: 10}, testNow)
	require.NoError(t, err)
	_, err = Sell(state, "a1", 10, 11, "op", testNow)
	require.NoError(t, err)

	_, err = Sell(state, "a1", 1, 11, "op", testNow)
	assert.ErrorIs(t, err, domain.ErrNoPosition)
}

func TestPartialThenCompleteSale(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "MSFT", Percent: 30, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	first, err := Sell(state, "a1", 15, 12, "op", testNow)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, first.RealizedProfit, 1e-9)
	assert.False(t, first.Record.CompleteSale)
	assert.Equal(t, 15.0, first.RemainingShares)
	assert.InDelta(t, 50.0, first.Record.PctOfOriginal, 1e-9)
	requireIdentities(t, state)

	second, err := Sell(state, "a1", 15, 14, "op", testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 60.0, second.RealizedProfit, 1e-9)
	assert.True(t, second.Record.CompleteSale)

	pos := state.Position("a1")
	assert.False(t, pos.Active)
	assert.Equal(t, 0.0, pos.Shares)
	assert.Equal(t, 30.0, pos.SoldShares)
	// Exactly the sum of both sales, no double count, no loss.
	assert.InDelta(t, 90.0, pos.RealizedPL, 1e-9)
	assert.Len(t, pos.Sales, 2)
	requireIdentities(t, state)
}

func TestDiscardSaleRestoresSharesAndRecomputes(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "META", Percent: 30, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	sale, err := Sell(state, "a1", 30, 12, "op", testNow)
	require.NoError(t, err)
	assert.InDelta(t, 1060.0, state.Pool.TotalCapital, 1e-9)

	pos, err := DiscardSale(state, "a1", sale.Record.ID, testNow.Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, pos.Active)
	assert.Equal(t, 30.0, pos.Shares)
	assert.Equal(t, 0.0, pos.SoldShares)
	assert.InDelta(t, 0.0, pos.RealizedPL, 1e-9)
	require.Len(t, pos.Sales, 1)
	assert.True(t, pos.Sales[0].Discarded)
	requireIdentities(t, state)

	// Discarding twice is a no-op.
	again, err := DiscardSale(state, "a1", sale.Record.ID, testNow.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, pos.Shares, again.Shares)
	assert.InDelta(t, pos.RealizedPL, again.RealizedPL, 1e-9)
}

func TestDiscardSaleErrors(t *testing.T) {
	state := newState(t, 1000)

	_, err := DiscardSale(state, "missing", "s1", testNow)
	assert.ErrorIs(t, err, domain.ErrNoPosition)

	_, err = Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "META", Percent: 10, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	_, err = DiscardSale(state, "a1", "nope", testNow)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecomputeDetectsCorruptedPosition(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "META", Percent: 10, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	// Simulate drift from a writer that bypassed the accountant.
	state.Positions[0].AllocatedAmount += 5

	err = RecomputeTotals(state, testNow)
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestAllocatePercentIsRelativeToTotalCapital(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "A", Percent: 50, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	// Realize a gain so total capital grows beyond the baseline.
	_, err = Sell(state, "a1", 50, 14, "op", testNow)
	require.NoError(t, err)
	assert.InDelta(t, 1200.0, state.Pool.TotalCapital, 1e-9)

	// 50% is now 50% of 1200, not of the 1200 available.
	res, err := Allocate(state, AllocationRequest{AlertID: "a2", Symbol: "B", Percent: 50, EntryPrice: 10}, testNow)
	require.NoError(t, err)
	assert.InDelta(t, 600.0, res.RequestedAmount, 1e-9)
	requireIdentities(t, state)
}
