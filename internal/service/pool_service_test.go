package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/alertpool/internal/accounting"
	"github.com/quantdesk/alertpool/internal/domain"
	"github.com/quantdesk/alertpool/internal/store/memory"
)

// stubLock is an in-process LockManager with the same held/free semantics as
// the Redis implementation.
type stubLock struct {
	mu   sync.Mutex
	held map[string]bool
}

func newStubLock() *stubLock {
	return &stubLock{held: make(map[string]bool)}
}

func (l *stubLock) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type stubBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newStubBus() *stubBus {
	return &stubBus{messages: make(map[string][][]byte)}
}

func (b *stubBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *stubBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

type stubPrices struct {
	prices map[string]float64
}

func (p *stubPrices) SetPrice(_ context.Context, symbol string, price float64, _ time.Time) error {
	if p.prices == nil {
		p.prices = make(map[string]float64)
	}
	p.prices[symbol] = price
	return nil
}

func (p *stubPrices) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	v, ok := p.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return v, time.Time{}, nil
}

func (p *stubPrices) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, s := range symbols {
		if v, ok := p.prices[s]; ok {
			out[s] = v
		}
	}
	return out, nil
}

type fixture struct {
	svc    *PoolService
	pools  *memory.PoolStore
	ledger *memory.LedgerStore
	prices *stubPrices
	bus    *stubBus
	locks  *stubLock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		pools:  memory.NewPoolStore(),
		ledger: memory.NewLedgerStore(),
		prices: &stubPrices{prices: make(map[string]float64)},
		bus:    newStubBus(),
		locks:  newStubLock(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewPoolService(
		f.pools,
		memory.NewPositionStore(),
		f.ledger,
		memory.NewAuditStore(),
		f.prices,
		f.locks,
		f.bus,
		nil,
		PoolServiceConfig{LockTTL: time.Second, LockRetries: 2, LockRetryDelay: time.Millisecond},
		logger,
	)
	return f
}

func TestAllocateAndSellLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "momentum", 1000)
	require.NoError(t, err)

	res, err := f.svc.Allocate(ctx, pool.ID, accounting.AllocationRequest{
		AlertID:    "alert-1",
		Symbol:     "AAPL",
		Percent:    30,
		EntryPrice: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.SharesBought)
	assert.Equal(t, 300.0, res.ActualAmount)

	got, err := f.svc.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.InDelta(t, 700.0, got.AvailableCapital, 1e-9)
	assert.InDelta(t, 300.0, got.DistributedCapital, 1e-9)

	sale, err := f.svc.Sell(ctx, pool.ID, SaleRequest{
		AlertID:    "alert-1",
		Shares:     30,
		Price:      12,
		ExecutedBy: "ops",
	})
	require.NoError(t, err)
	assert.InDelta(t, 60.0, sale.RealizedProfit, 1e-9)
	assert.True(t, sale.Record.CompleteSale)

	got, err = f.svc.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.InDelta(t, 1060.0, got.TotalCapital, 1e-9)
	assert.InDelta(t, 1060.0, got.AvailableCapital, 1e-9)
	assert.InDelta(t, 0.0, got.DistributedCapital, 1e-9)

	// Two ledger entries: the buy and the sell, newest first.
	entries, err := f.svc.ListLedger(ctx, pool.ID, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, domain.OperationSell, entries[0].Operation)
	assert.Equal(t, -30.0, entries[0].Quantity)
	assert.Equal(t, domain.OperationBuy, entries[1].Operation)
}

func TestCreatePoolRejectsDuplicateName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePool(ctx, "momentum", 1000)
	require.NoError(t, err)

	_, err = f.svc.CreatePool(ctx, "momentum", 500)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSellByPercentOfPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "swing", 1000)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, pool.ID, accounting.AllocationRequest{
		AlertID:    "alert-1",
		Symbol:     "MSFT",
		Amount:     400,
		EntryPrice: 10,
	})
	require.NoError(t, err)

	sale, err := f.svc.Sell(ctx, pool.ID, SaleRequest{
		AlertID:           "alert-1",
		PercentOfPosition: 50,
		Price:             11,
		ExecutedBy:        "ops",
	})
	require.NoError(t, err)
	assert.InDelta(t, 20.0, sale.Record.SharesSold, 1e-9)
	assert.InDelta(t, 20.0, sale.RemainingShares, 1e-9)
	assert.False(t, sale.Record.CompleteSale)
}

func TestSellRejectsAmbiguousSizing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "p", 1000)
	require.NoError(t, err)

	_, err = f.svc.Sell(ctx, pool.ID, SaleRequest{AlertID: "a", Price: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = f.svc.Sell(ctx, pool.ID, SaleRequest{AlertID: "a", Shares: 5, PercentOfPosition: 50, Price: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestAllocateReportsBusyWhenLockHeld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "locked", 1000)
	require.NoError(t, err)

	// Hold the pool lock externally so the service exhausts its retries.
	unlock, err := f.locks.Acquire(ctx, "pool:"+pool.ID, time.Second)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.Allocate(ctx, pool.ID, accounting.AllocationRequest{
		AlertID:    "alert-1",
		Symbol:     "AAPL",
		Percent:    10,
		EntryPrice: 10,
	})
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestRefreshUpdatesUnrealized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "growth", 1000)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, pool.ID, accounting.AllocationRequest{
		AlertID:    "alert-1",
		Symbol:     "NVDA",
		Percent:    40,
		EntryPrice: 10,
	})
	require.NoError(t, err)

	require.NoError(t, f.prices.SetPrice(ctx, "NVDA", 11, time.Now()))

	updated, err := f.svc.Refresh(ctx, pool.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated)

	summary, err := f.svc.GetSummary(ctx, pool.ID)
	require.NoError(t, err)
	assert.InDelta(t, 40.0, summary.Unrealized, 1e-9) // 40 shares * $1
	assert.InDelta(t, 1040.0, summary.Pool.TotalCapital, 1e-9)
}

func TestDiscardSaleRestoresPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "p", 1000)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, pool.ID, accounting.AllocationRequest{
		AlertID:    "alert-1",
		Symbol:     "AAPL",
		Percent:    30,
		EntryPrice: 10,
	})
	require.NoError(t, err)

	sale, err := f.svc.Sell(ctx, pool.ID, SaleRequest{
		AlertID: "alert-1", Shares: 30, Price: 12, ExecutedBy: "ops",
	})
	require.NoError(t, err)

	pos, err := f.svc.DiscardSale(ctx, pool.ID, "alert-1", sale.Record.ID)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, pos.Shares, 1e-9)
	assert.True(t, pos.Open())
	assert.InDelta(t, 0.0, pos.RealizedPL, 1e-9)

	got, err := f.svc.GetPool(ctx, pool.ID)
	require.NoError(t, err)
	assert.InDelta(t, 700.0, got.AvailableCapital, 1e-9)
}

func TestActiveSymbolsAcrossPools(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p1, err := f.svc.CreatePool(ctx, "one", 1000)
	require.NoError(t, err)
	p2, err := f.svc.CreatePool(ctx, "two", 1000)
	require.NoError(t, err)

	for _, alloc := range []struct {
		pool, alert, symbol string
	}{
		{p1.ID, "a1", "AAPL"},
		{p1.ID, "a2", "MSFT"},
		{p2.ID, "a3", "AAPL"},
	} {
		_, err := f.svc.Allocate(ctx, alloc.pool, accounting.AllocationRequest{
			AlertID:    alloc.alert,
			Symbol:     alloc.symbol,
			Percent:    10,
			EntryPrice: 10,
		})
		require.NoError(t, err)
	}

	symbols, err := f.svc.ActiveSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, symbols)
}

func TestAllocatePublishesPoolEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pool, err := f.svc.CreatePool(ctx, "p", 1000)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, pool.ID, accounting.AllocationRequest{
		AlertID:    "alert-1",
		Symbol:     "AAPL",
		Percent:    10,
		EntryPrice: 10,
	})
	require.NoError(t, err)

	f.bus.mu.Lock()
	defer f.bus.mu.Unlock()
	require.NotEmpty(t, f.bus.messages["pools"])
}
