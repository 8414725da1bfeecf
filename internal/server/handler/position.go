package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantdesk/alertpool/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	GetSummary(ctx context.Context, poolID string) (domain.PoolSummary, error)
	ListPositionHistory(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "position"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the open positions of a pool.
// GET /api/pools/{id}/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "id")

	summary, err := h.positions.GetSummary(r.Context(), poolID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("pool_id", poolID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	positions := summary.Positions
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ListHistory returns the pool's full position history, including closed
// positions and their sale records.
// GET /api/pools/{id}/positions/history
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "id")

	history, err := h.positions.ListPositionHistory(r.Context(), poolID, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if history == nil {
		history = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: history})
}
