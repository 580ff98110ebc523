package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves liveness checks for the vesting engine.
type HealthHandler struct {
	mode      string
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler reporting the given run mode.
func NewHealthHandler(mode string) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: time.Now().UTC()}
}

// HealthCheck reports the engine's identity, run mode, and uptime.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"service":   "vestd",
		"mode":      h.mode,
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
