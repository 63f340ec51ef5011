package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/safety"
)

// SafetyStatus reports the governor state.
type SafetyStatus interface {
	Status() safety.Status
}

// MonitorCounter reports how many positions are monitored.
type MonitorCounter interface {
	MonitoredPositions() []domain.Position
}

// StatusHandler serves the bot status for the dashboard.
type StatusHandler struct {
	mode      string
	symbols   []string
	startedAt time.Time
	safety    SafetyStatus
	monitor   MonitorCounter
}

// NewStatusHandler creates a StatusHandler. safety and monitor are nil in
// monitor mode.
func NewStatusHandler(mode string, symbols []string, startedAt time.Time, gov SafetyStatus, monitor MonitorCounter) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		symbols:   symbols,
		startedAt: startedAt,
		safety:    gov,
		monitor:   monitor,
	}
}

// GetStatus responds with the mode, uptime, safety state and the number of
// monitored positions.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"symbols":        h.symbols,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.safety != nil {
		resp["safety"] = h.safety.Status()
	}
	if h.monitor != nil {
		resp["monitored_positions"] = len(h.monitor.MonitoredPositions())
	}
	writeJSON(w, http.StatusOK, resp)
}
