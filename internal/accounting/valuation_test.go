package accounting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshUpdatesUnrealizedAndTotals(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "AAPL", Percent: 30, EntryPrice: 10}, testNow)
	require.NoError(t, err)
	_, err = Allocate(state, AllocationRequest{AlertID: "a2", Symbol: "TSLA", Percent: 20, EntryPrice: 20}, testNow)
	require.NoError(t, err)

	later := testNow.Add(5 * time.Minute)
	updated, err := Refresh(state, map[string]float64{"AAPL": 12, "TSLA": 18}, later)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	aapl := state.Position("a1")
	assert.Equal(t, 12.0, aapl.CurrentPrice)
	assert.InDelta(t, 60.0, aapl.UnrealizedPL, 1e-9)   // (12-10)*30
	assert.InDelta(t, 20.0, aapl.UnrealizedPLPct, 1e-9)

	tsla := state.Position("a2")
	assert.InDelta(t, -20.0, tsla.UnrealizedPL, 1e-9) // (18-20)*10
	assert.InDelta(t, -10.0, tsla.UnrealizedPLPct, 1e-9)

	// total = 1000 + 0 realized + 40 unrealized
	assert.InDelta(t, 1040.0, state.Pool.TotalCapital, 1e-9)
	assert.InDelta(t, 40.0, state.Pool.TotalProfitLoss, 1e-9)
	requireIdentities(t, state)
}

func TestRefreshIsIdempotent(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "AAPL", Percent: 30, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	prices := map[string]float64{"AAPL": 13.5}
	later := testNow.Add(time.Minute)

	_, err = Refresh(state, prices, later)
	require.NoError(t, err)
	poolAfterFirst := state.Pool
	posAfterFirst := *state.Position("a1")

	_, err = Refresh(state, prices, later)
	require.NoError(t, err)

	assert.Equal(t, poolAfterFirst, state.Pool)
	assert.Equal(t, posAfterFirst, *state.Position("a1"))
}

func TestRefreshMissingPriceLeavesPositionStale(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "AAPL", Percent: 30, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	_, err = Refresh(state, map[string]float64{"AAPL": 12}, testNow)
	require.NoError(t, err)

	// The next batch is missing AAPL entirely; its figures must not reset.
	updated, err := Refresh(state, map[string]float64{"TSLA": 99}, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, updated)

	pos := state.Position("a1")
	assert.Equal(t, 12.0, pos.CurrentPrice)
	assert.InDelta(t, 60.0, pos.UnrealizedPL, 1e-9)
	requireIdentities(t, state)
}

func TestRefreshSkipsClosedPositions(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "AAPL", Percent: 30, EntryPrice: 10}, testNow)
	require.NoError(t, err)
	_, err = Sell(state, "a1", 30, 12, "op", testNow)
	require.NoError(t, err)

	updated, err := Refresh(state, map[string]float64{"AAPL": 50}, testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, updated)

	// Realized history is untouched by revaluation.
	pos := state.Position("a1")
	assert.InDelta(t, 60.0, pos.RealizedPL, 1e-9)
	assert.Equal(t, 12.0, pos.CurrentPrice)
}

func TestRefreshIgnoresNonPositivePrices(t *testing.T) {
	state := newState(t, 1000)
	_, err := Allocate(state, AllocationRequest{AlertID: "a1", Symbol: "AAPL", Percent: 30, EntryPrice: 10}, testNow)
	require.NoError(t, err)

	updated, err := Refresh(state, map[string]float64{"AAPL": 0}, testNow)
	require.NoError(t, err)
	assert.Equal(t, 0, updated)
	assert.Equal(t, 10.0, state.Position("a1").CurrentPrice)
}
