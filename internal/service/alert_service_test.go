package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/alertpool/internal/domain"
)

func newAlertFixture(t *testing.T) (*AlertService, *fixture) {
	t.Helper()
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAlertService(f.svc, 10, logger), f
}

func TestAlertOpenAllocatesDefaultPercent(t *testing.T) {
	alerts, f := newAlertFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "p", 1000)
	require.NoError(t, err)

	err = alerts.HandleEvent(ctx, domain.AlertEvent{
		Type:       domain.AlertOpened,
		AlertID:    "alert-1",
		PoolID:     pool.ID,
		Symbol:     "AAPL",
		EntryPrice: 10,
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)

	summary, err := f.svc.GetSummary(ctx, pool.ID)
	require.NoError(t, err)
	require.Len(t, summary.Positions, 1)
	assert.Equal(t, 10.0, summary.Positions[0].Shares) // 10% of $1000 at $10
}

func TestAlertOpenRedeliveryAllocatesOnce(t *testing.T) {
	alerts, f := newAlertFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "p", 1000)
	require.NoError(t, err)

	event := domain.AlertEvent{
		Type:       domain.AlertOpened,
		AlertID:    "alert-1",
		PoolID:     pool.ID,
		Symbol:     "AAPL",
		EntryPrice: 10,
		OccurredAt: time.Now(),
	}
	require.NoError(t, alerts.HandleEvent(ctx, event))
	require.NoError(t, alerts.HandleEvent(ctx, event)) // retried delivery

	summary, err := f.svc.GetSummary(ctx, pool.ID)
	require.NoError(t, err)
	require.Len(t, summary.Positions, 1)
	assert.Equal(t, 10.0, summary.Positions[0].Shares) // still 10% of $1000 at $10
	assert.InDelta(t, 900.0, summary.Pool.AvailableCapital, 1e-9)
}

func TestAlertCloseSellsOutPosition(t *testing.T) {
	alerts, f := newAlertFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "p", 1000)
	require.NoError(t, err)

	require.NoError(t, alerts.HandleEvent(ctx, domain.AlertEvent{
		Type: domain.AlertOpened, AlertID: "alert-1", PoolID: pool.ID,
		Symbol: "AAPL", EntryPrice: 10,
	}))

	require.NoError(t, alerts.HandleEvent(ctx, domain.AlertEvent{
		Type: domain.AlertClosed, AlertID: "alert-1", PoolID: pool.ID,
		Symbol: "AAPL", ExitPrice: 12,
	}))

	got, err := f.svc.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1020.0, got.TotalCapital, 1e-9) // 10 shares * $2 profit
	assert.InDelta(t, 0.0, got.DistributedCapital, 1e-9)
}

func TestAlertCloseWithoutPositionIsNoop(t *testing.T) {
	alerts, f := newAlertFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "p", 1000)
	require.NoError(t, err)

	err = alerts.HandleEvent(ctx, domain.AlertEvent{
		Type: domain.AlertClosed, AlertID: "ghost", PoolID: pool.ID,
		Symbol: "AAPL", ExitPrice: 12,
	})
	assert.NoError(t, err)
}

func TestAlertEventValidation(t *testing.T) {
	alerts, f := newAlertFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "p", 1000)
	require.NoError(t, err)

	err = alerts.HandleEvent(ctx, domain.AlertEvent{Type: domain.AlertOpened, AlertID: "a"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	err = alerts.HandleEvent(ctx, domain.AlertEvent{
		Type: domain.AlertOpened, AlertID: "a", PoolID: pool.ID, Symbol: "AAPL",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest) // missing entry price

	err = alerts.HandleEvent(ctx, domain.AlertEvent{
		Type: "alert_paused", AlertID: "a", PoolID: pool.ID,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
