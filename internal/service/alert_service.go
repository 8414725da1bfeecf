package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/quantdesk/alertpool/internal/accounting"
	"github.com/quantdesk/alertpool/internal/domain"
)

// alertChannel is the bus channel carrying alert lifecycle events.
const alertChannel = "alerts"

// AlertService turns alert lifecycle events into pool mutations: an opened
// alert allocates capital, a closed alert sells the position out entirely.
type AlertService struct {
	pools          *PoolService
	defaultPercent float64
	logger         *slog.Logger
}

// NewAlertService creates an AlertService. defaultPercent is the allocation
// applied to alerts that do not carry their own sizing.
func NewAlertService(pools *PoolService, defaultPercent float64, logger *slog.Logger) *AlertService {
	return &AlertService{
		pools:          pools,
		defaultPercent: defaultPercent,
		logger:         logger.With(slog.String("component", "alert_service")),
	}
}

// Run subscribes to the alert channel and processes events until the context
// is cancelled. Individual event failures are logged, not fatal.
func (s *AlertService) Run(ctx context.Context, bus domain.SignalBus) error {
	ch, err := bus.Subscribe(ctx, alertChannel)
	if err != nil {
		return fmt.Errorf("alert_service: subscribe: %w", err)
	}
	s.logger.Info("alert intake started")
	defer s.logger.Info("alert intake stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.AlertEvent
			if err := json.Unmarshal(data, &event); err != nil {
				s.logger.Warn("malformed alert event",
					slog.Int("payload_len", len(data)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := s.HandleEvent(ctx, event); err != nil {
				s.logger.Error("alert event failed",
					slog.String("type", string(event.Type)),
					slog.String("alert_id", event.AlertID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// HandleEvent applies a single alert lifecycle event to its pool. Webhook
// delivery calls this directly; bus delivery goes through Run.
func (s *AlertService) HandleEvent(ctx context.Context, event domain.AlertEvent) error {
	if event.AlertID == "" || event.PoolID == "" {
		return fmt.Errorf("alert_service: event missing alert or pool id: %w", domain.ErrInvalidRequest)
	}

	switch event.Type {
	case domain.AlertOpened:
		if event.EntryPrice <= 0 {
			return fmt.Errorf("alert_service: open event for %q without entry price: %w", event.AlertID, domain.ErrInvalidRequest)
		}
		// The alerting platform retries deliveries, so the same open event can
		// arrive more than once. An alert that already holds an open position
		// got its allocation on the first delivery; allocating again would
		// double it.
		pos, err := s.pools.positions.GetByPoolAndAlert(ctx, event.PoolID, event.AlertID)
		if err == nil && pos.Open() {
			s.logger.Debug("duplicate open event, position already allocated",
				slog.String("pool_id", event.PoolID),
				slog.String("alert_id", event.AlertID),
			)
			return nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("alert_service: check position for %q: %w", event.AlertID, err)
		}
		_, err = s.pools.Allocate(ctx, event.PoolID, accounting.AllocationRequest{
			AlertID:    event.AlertID,
			Symbol:     event.Symbol,
			Percent:    s.defaultPercent,
			EntryPrice: event.EntryPrice,
		})
		if err != nil {
			// An alert re-sent after a partial delivery may already hold its
			// full allocation; treat exhausted capital as a warning, not a
			// processing failure.
			if errors.Is(err, domain.ErrInsufficientCapital) {
				s.logger.Warn("allocation skipped, pool exhausted",
					slog.String("pool_id", event.PoolID),
					slog.String("alert_id", event.AlertID),
				)
				return nil
			}
			return err
		}
		return nil

	case domain.AlertClosed:
		if event.ExitPrice <= 0 {
			return fmt.Errorf("alert_service: close event for %q without exit price: %w", event.AlertID, domain.ErrInvalidRequest)
		}
		_, err := s.pools.Sell(ctx, event.PoolID, SaleRequest{
			AlertID:           event.AlertID,
			PercentOfPosition: 100,
			Price:             event.ExitPrice,
			ExecutedBy:        "alert_close",
		})
		if err != nil {
			// Closing an alert that never allocated (or was already sold out)
			// is a no-op, not an error.
			if errors.Is(err, domain.ErrNoPosition) {
				s.logger.Debug("close event with no open position",
					slog.String("pool_id", event.PoolID),
					slog.String("alert_id", event.AlertID),
				)
				return nil
			}
			return err
		}
		return nil

	default:
		return fmt.Errorf("alert_service: unknown event type %q: %w", event.Type, domain.ErrInvalidRequest)
	}
}
