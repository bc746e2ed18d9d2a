package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

// StatusHandler serves the process status for operators.
type StatusHandler struct {
	Mode      string
	StartedAt time.Time
	markets   MarketService
}

// NewStatusHandler creates a StatusHandler for the given run mode.
func NewStatusHandler(mode string, startedAt time.Time, markets MarketService) *StatusHandler {
	return &StatusHandler{Mode: mode, StartedAt: startedAt, markets: markets}
}

// GetStatus responds with the run mode, uptime and market counts per phase.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	phases := map[domain.Phase]int{
		domain.PhaseActive:     0,
		domain.PhaseLocked:     0,
		domain.PhaseResolution: 0,
		domain.PhaseSettled:    0,
	}
	for _, s := range h.markets.Summaries() {
		phases[s.Phase]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"markets":        phases,
	})
}
