package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantdesk/alertpool/internal/accounting"
	"github.com/quantdesk/alertpool/internal/domain"
	"github.com/quantdesk/alertpool/internal/service"
)

// TradingService defines the mutation methods the trading handler requires.
type TradingService interface {
	Allocate(ctx context.Context, poolID string, req accounting.AllocationRequest) (accounting.AllocationResult, error)
	Sell(ctx context.Context, poolID string, req service.SaleRequest) (accounting.SaleResult, error)
	DiscardSale(ctx context.Context, poolID, alertID, saleID string) (domain.Position, error)
	Refresh(ctx context.Context, poolID string) (int, error)
}

// TradingHandler serves allocation and sale endpoints.
type TradingHandler struct {
	svc    TradingService
	logger *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(svc TradingService, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{
		svc:    svc,
		logger: logHandler(logger, "trading"),
	}
}

// allocationRequest is the body for POST /api/pools/{id}/allocations.
// Exactly one of percent and amount must be positive.
type allocationRequest struct {
	AlertID    string  `json:"alert_id"`
	Symbol     string  `json:"symbol"`
	Percent    float64 `json:"percent,omitempty"`
	Amount     float64 `json:"amount,omitempty"`
	EntryPrice float64 `json:"entry_price"`
}

// allocationResponse reports what an allocation committed.
type allocationResponse struct {
	Position        domain.Position `json:"position"`
	SharesBought    float64         `json:"shares_bought"`
	RequestedAmount float64         `json:"requested_amount"`
	ActualAmount    float64         `json:"actual_amount"`
	Percent         float64         `json:"percent"`
}

// Allocate commits pool capital to an alert.
// POST /api/pools/{id}/allocations
func (h *TradingHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "id")

	var req allocationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AlertID == "" || req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "alert_id and symbol are required")
		return
	}

	result, err := h.svc.Allocate(r.Context(), poolID, accounting.AllocationRequest{
		AlertID:    req.AlertID,
		Symbol:     req.Symbol,
		Percent:    req.Percent,
		Amount:     req.Amount,
		EntryPrice: req.EntryPrice,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "allocation rejected",
			slog.String("pool_id", poolID),
			slog.String("alert_id", req.AlertID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, allocationResponse{
		Position:        result.Position,
		SharesBought:    result.SharesBought,
		RequestedAmount: result.RequestedAmount,
		ActualAmount:    result.ActualAmount,
		Percent:         result.Percent,
	})
}

// saleRequest is the body for POST /api/pools/{id}/sales. Exactly one of
// shares and percent_of_position must be positive.
type saleRequest struct {
	AlertID           string  `json:"alert_id"`
	Shares            float64 `json:"shares,omitempty"`
	PercentOfPosition float64 `json:"percent_of_position,omitempty"`
	Price             float64 `json:"price"`
	ExecutedBy        string  `json:"executed_by,omitempty"`
}

// saleResponse reports an executed sale.
type saleResponse struct {
	Position        domain.Position   `json:"position"`
	Sale            domain.SaleRecord `json:"sale"`
	RealizedProfit  float64           `json:"realized_profit"`
	CapitalReleased float64           `json:"capital_released"`
	RemainingShares float64           `json:"remaining_shares"`
}

// Sell executes a partial or complete sale against an alert's position.
// POST /api/pools/{id}/sales
func (h *TradingHandler) Sell(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "id")

	var req saleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.AlertID == "" {
		writeError(w, http.StatusBadRequest, "alert_id is required")
		return
	}
	executedBy := req.ExecutedBy
	if executedBy == "" {
		executedBy = "api"
	}

	result, err := h.svc.Sell(r.Context(), poolID, service.SaleRequest{
		AlertID:           req.AlertID,
		Shares:            req.Shares,
		PercentOfPosition: req.PercentOfPosition,
		Price:             req.Price,
		ExecutedBy:        executedBy,
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "sale rejected",
			slog.String("pool_id", poolID),
			slog.String("alert_id", req.AlertID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, saleResponse{
		Position:        result.Position,
		Sale:            result.Record,
		RealizedProfit:  result.RealizedProfit,
		CapitalReleased: result.CapitalReleased,
		RemainingShares: result.RemainingShares,
	})
}

// DiscardSale voids a previously executed sale.
// DELETE /api/pools/{id}/sales/{saleId}?alert_id=...
func (h *TradingHandler) DiscardSale(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "id")
	saleID := pathParam(r, "saleId")

	alertID := r.URL.Query().Get("alert_id")
	if alertID == "" {
		writeError(w, http.StatusBadRequest, "alert_id query parameter required")
		return
	}

	pos, err := h.svc.DiscardSale(r.Context(), poolID, alertID, saleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pos)
}

// Refresh reprices a pool's active positions from the price cache.
// POST /api/pools/{id}/refresh
func (h *TradingHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "id")

	updated, err := h.svc.Refresh(r.Context(), poolID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pool_id": poolID,
		"updated": updated,
	})
}
