package feed

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/quantdesk/alertpool/internal/domain"
)

// QuoteSource fetches current prices for a set of symbols.
type QuoteSource interface {
	GetPrices(ctx context.Context, symbols []string) ([]Quote, error)
}

// SymbolSource reports which symbols currently have open positions.
type SymbolSource interface {
	ActiveSymbols(ctx context.Context) ([]string, error)
}

// Refresher revalues all pools after a price update.
type Refresher interface {
	RefreshAll(ctx context.Context) error
}

// Poller periodically fetches quotes for every symbol with an open position,
// writes them to the price cache, and triggers a revaluation pass. During
// regular US trading hours it polls at the fast interval; outside them it
// drops to the off-hours interval (or pauses entirely when that is zero).
type Poller struct {
	source    QuoteSource
	symbols   SymbolSource
	prices    domain.PriceCache
	refresher Refresher
	logger    *slog.Logger

	interval         time.Duration
	offHoursInterval time.Duration
}

// NewPoller creates a Poller.
func NewPoller(
	source QuoteSource,
	symbols SymbolSource,
	prices domain.PriceCache,
	refresher Refresher,
	interval, offHoursInterval time.Duration,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		source:           source,
		symbols:          symbols,
		prices:           prices,
		refresher:        refresher,
		interval:         interval,
		offHoursInterval: offHoursInterval,
		logger:           logger.With(slog.String("component", "price_poller")),
	}
}

// Run polls until the context is cancelled. An immediate poll happens on
// startup so fresh prices do not wait a full interval.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("price poller started",
		slog.Duration("interval", p.interval),
		slog.Duration("off_hours_interval", p.offHoursInterval),
	)
	defer p.logger.Info("price poller stopped")

	if err := p.PollOnce(ctx); err != nil {
		p.logger.Warn("initial poll failed", slog.String("error", err.Error()))
	}

	timer := time.NewTimer(p.nextDelay(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := p.PollOnce(ctx); err != nil {
				p.logger.Warn("poll failed", slog.String("error", err.Error()))
			}
			timer.Reset(p.nextDelay(time.Now()))
		}
	}
}

// PollOnce performs a single fetch-cache-refresh cycle.
func (p *Poller) PollOnce(ctx context.Context) error {
	symbols, err := p.symbols.ActiveSymbols(ctx)
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		p.logger.Debug("no open positions, skipping poll")
		return nil
	}
	sort.Strings(symbols)

	quotes, err := p.source.GetPrices(ctx, symbols)
	if err != nil {
		return err
	}

	for _, q := range quotes {
		if err := p.prices.SetPrice(ctx, q.Symbol, q.Price, q.At); err != nil {
			p.logger.Warn("cache price failed",
				slog.String("symbol", q.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	p.logger.Debug("poll complete",
		slog.Int("symbols", len(symbols)),
		slog.Int("quotes", len(quotes)),
	)

	if p.refresher != nil && len(quotes) > 0 {
		return p.refresher.RefreshAll(ctx)
	}
	return nil
}

// nextDelay picks the polling delay for the current wall-clock time. When
// off-hours polling is disabled it returns the time until the next open.
func (p *Poller) nextDelay(now time.Time) time.Duration {
	if isMarketHours(now) {
		return p.interval
	}
	if p.offHoursInterval > 0 {
		return p.offHoursInterval
	}
	return untilNextOpen(now)
}

// nyse is the exchange timezone used for market-hours checks.
var nyse = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// isMarketHours reports whether t falls within regular US equity trading
// hours (09:30-16:00 ET, Monday through Friday). Exchange holidays are not
// tracked; a holiday poll just returns stale prices.
func isMarketHours(t time.Time) bool {
	et := t.In(nyse)
	switch et.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	mins := et.Hour()*60 + et.Minute()
	return mins >= 9*60+30 && mins < 16*60
}

// untilNextOpen returns the duration from t until the next 09:30 ET on a
// weekday.
func untilNextOpen(t time.Time) time.Duration {
	et := t.In(nyse)
	open := time.Date(et.Year(), et.Month(), et.Day(), 9, 30, 0, 0, nyse)
	for !open.After(et) || open.Weekday() == time.Saturday || open.Weekday() == time.Sunday {
		open = open.AddDate(0, 0, 1)
	}
	return open.Sub(et)
}
