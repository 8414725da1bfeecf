package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantdesk/alertpool/internal/domain"
)

// PoolService defines the pool read/create methods the pool handler requires.
type PoolService interface {
	CreatePool(ctx context.Context, name string, initialCapital float64) (domain.CapitalPool, error)
	ListPools(ctx context.Context) ([]domain.CapitalPool, error)
	GetSummary(ctx context.Context, poolID string) (domain.PoolSummary, error)
}

// PoolHandler serves pool-related HTTP endpoints.
type PoolHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler with the given service and logger.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{
		pools:  pools,
		logger: logHandler(logger, "pool"),
	}
}

// createPoolRequest is the body for pool creation.
type createPoolRequest struct {
	Name           string  `json:"name"`
	InitialCapital float64 `json:"initial_capital"`
}

// listPoolsResponse wraps the list pools response.
type listPoolsResponse struct {
	Pools []domain.CapitalPool `json:"pools"`
}

// CreatePool registers a new capital pool.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	pool, err := h.pools.CreatePool(r.Context(), req.Name, req.InitialCapital)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "create pool failed",
			slog.String("name", req.Name),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, pool)
}

// ListPools returns all pools.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.pools.ListPools(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list pools failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if pools == nil {
		pools = []domain.CapitalPool{}
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: pools})
}

// GetPool returns one pool with its active positions and P&L breakdown.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "id")

	summary, err := h.pools.GetSummary(r.Context(), poolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
