package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness checks. It deliberately touches no
// dependencies; /api/status is the endpoint that reports on them.
type HealthHandler struct {
	logger *slog.Logger
}

func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// HealthCheck responds 200 as long as the process is serving requests.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "alertpool",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
