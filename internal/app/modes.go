package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantdesk/alertpool/internal/crypto"
	"github.com/quantdesk/alertpool/internal/feed"
	"github.com/quantdesk/alertpool/internal/server"
	"github.com/quantdesk/alertpool/internal/server/handler"
	"github.com/quantdesk/alertpool/internal/server/ws"
	"github.com/quantdesk/alertpool/internal/service"
)

// webhookMaxSkew bounds the clock drift accepted on signed alert webhooks.
const webhookMaxSkew = 5 * time.Minute

// buildPoolService constructs the allocation engine from the wired
// dependencies.
func (a *App) buildPoolService(deps *Dependencies) *service.PoolService {
	return service.NewPoolService(
		deps.PoolStore,
		deps.PositionStore,
		deps.LedgerStore,
		deps.AuditStore,
		deps.PriceCache,
		deps.LockManager,
		deps.SignalBus,
		deps.Notifier,
		service.PoolServiceConfig{
			LockTTL:        a.cfg.Pool.LockTTL.Duration,
			LockRetries:    a.cfg.Pool.LockRetries,
			LockRetryDelay: a.cfg.Pool.LockRetryDelay.Duration,
		},
		a.logger,
	)
}

// ServeMode runs the HTTP/WebSocket API and the alert event consumer. Prices
// are only revalued on demand (POST /api/pools/{id}/refresh); use refresh or
// full mode for continuous polling.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	pools := a.buildPoolService(deps)
	alerts := service.NewAlertService(pools, a.cfg.Pool.DefaultPercent, a.logger)

	g.Go(func() error {
		return alerts.Run(ctx, deps.SignalBus)
	})

	a.startHTTPServer(ctx, g, deps, pools, alerts)

	return g.Wait()
}

// RefreshMode runs only the price poller: it periodically fetches quotes for
// every symbol with an open position and revalues all pools.
func (a *App) RefreshMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting refresh mode")

	g, ctx := errgroup.WithContext(ctx)

	pools := a.buildPoolService(deps)
	if err := a.startPoller(ctx, g, deps, pools); err != nil {
		return fmt.Errorf("refresh mode: %w", err)
	}

	return g.Wait()
}

// ArchiveMode periodically moves ledger and audit rows older than the
// retention window to object storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archival is not enabled in configuration")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem: the API server, the alert consumer, the
// price poller, and (when enabled) the archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	pools := a.buildPoolService(deps)
	alerts := service.NewAlertService(pools, a.cfg.Pool.DefaultPercent, a.logger)

	g.Go(func() error {
		return alerts.Run(ctx, deps.SignalBus)
	})

	if err := a.startPoller(ctx, g, deps, pools); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, pools, alerts)
	}

	return g.Wait()
}

// startPoller resolves the market-data credential, builds the quote client,
// and adds the price poller goroutine to the errgroup.
func (a *App) startPoller(ctx context.Context, g *errgroup.Group, deps *Dependencies, pools *service.PoolService) error {
	apiKey, err := crypto.LoadAPIKey(crypto.KeyConfig{
		RawKey:           a.cfg.Feed.ApiKey,
		EncryptedKeyPath: a.cfg.Feed.EncryptedKeyPath,
		KeyPassword:      a.cfg.Feed.KeyPassword,
	})
	if err != nil {
		return fmt.Errorf("load feed api key: %w", err)
	}

	client := feed.NewClient(a.cfg.Feed.BaseURL, apiKey, a.cfg.Feed.RequestTimeout.Duration)
	poller := feed.NewPoller(
		client,
		pools,
		deps.PriceCache,
		pools,
		a.cfg.Feed.PollInterval.Duration,
		a.cfg.Feed.OffHoursInterval.Duration,
		a.logger,
	)

	g.Go(func() error {
		return poller.Run(ctx)
	})
	return nil
}

// startArchiver adds the periodic archival goroutine to the errgroup. Each
// cycle moves ledger and audit rows older than the retention cutoff.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			cutoff := time.Now().UTC().Add(-retention)

			n, err := deps.Archiver.ArchiveLedger(ctx, cutoff)
			if err != nil {
				a.logger.WarnContext(ctx, "ledger archival failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				a.logger.InfoContext(ctx, "ledger entries archived", slog.Int64("count", n))
			}

			n, err = deps.Archiver.ArchiveAudit(ctx, cutoff)
			if err != nil {
				a.logger.WarnContext(ctx, "audit archival failed",
					slog.String("error", err.Error()),
				)
			} else if n > 0 {
				a.logger.InfoContext(ctx, "audit entries archived", slog.Int64("count", n))
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	pools *service.PoolService,
	alerts *service.AlertService,
) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var auth *crypto.WebhookAuth
	if a.cfg.Server.WebhookSecret != "" {
		auth = &crypto.WebhookAuth{
			Secret:  a.cfg.Server.WebhookSecret,
			MaxSkew: webhookMaxSkew,
		}
	} else {
		a.logger.WarnContext(ctx, "webhook secret not set; inbound alerts are unauthenticated")
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, startedAt),
		Pools:     handler.NewPoolHandler(pools, a.logger),
		Trading:   handler.NewTradingHandler(pools, a.logger),
		Positions: handler.NewPositionHandler(pools, a.logger),
		Ledger:    handler.NewLedgerHandler(pools, a.logger),
		Webhook:   handler.NewWebhookHandler(alerts, auth, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
