package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quantdesk/alertpool/internal/domain"
)

// LedgerService defines the methods the ledger handler requires.
type LedgerService interface {
	ListLedger(ctx context.Context, poolID string, opts domain.ListOpts) ([]domain.LedgerEntry, error)
}

// LedgerHandler serves the buy/sell ledger endpoints.
type LedgerHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewLedgerHandler creates a LedgerHandler.
func NewLedgerHandler(ledger LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledger: ledger,
		logger: logHandler(logger, "ledger"),
	}
}

// listLedgerResponse wraps the ledger listing.
type listLedgerResponse struct {
	Entries []domain.LedgerEntry `json:"entries"`
}

// ListLedger returns a pool's ledger entries, newest first.
// GET /api/pools/{id}/ledger
func (h *LedgerHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	poolID := pathParam(r, "id")

	entries, err := h.ledger.ListLedger(r.Context(), poolID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list ledger failed",
			slog.String("pool_id", poolID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, listLedgerResponse{Entries: entries})
}
