package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/quantdesk/alertpool/internal/crypto"
	"github.com/quantdesk/alertpool/internal/domain"
)

// AlertIntake applies alert lifecycle events to the allocation engine.
type AlertIntake interface {
	HandleEvent(ctx context.Context, event domain.AlertEvent) error
}

// WebhookHandler receives HMAC-signed alert webhooks from the alerting
// platform. auth may be nil, in which case signature verification is skipped
// (local development only).
type WebhookHandler struct {
	intake AlertIntake
	auth   *crypto.WebhookAuth
	logger *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(intake AlertIntake, auth *crypto.WebhookAuth, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		intake: intake,
		auth:   auth,
		logger: logHandler(logger, "webhook"),
	}
}

// ReceiveAlert validates and applies one alert event.
// POST /api/webhooks/alerts
//
// Headers: X-Alert-Timestamp (Unix seconds), X-Alert-Signature (base64 HMAC).
func (h *WebhookHandler) ReceiveAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	if h.auth != nil {
		ts := r.Header.Get("X-Alert-Timestamp")
		sig := r.Header.Get("X-Alert-Signature")
		if err := h.auth.Verify(ts, sig, body); err != nil {
			h.logger.WarnContext(r.Context(), "webhook signature rejected",
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusUnauthorized, "invalid webhook signature")
			return
		}
	}

	var event domain.AlertEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload: "+err.Error())
		return
	}

	if err := h.intake.HandleEvent(r.Context(), event); err != nil {
		h.logger.ErrorContext(r.Context(), "alert event failed",
			slog.String("type", string(event.Type)),
			slog.String("alert_id", event.AlertID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":   "accepted",
		"alert_id": event.AlertID,
	})
}
