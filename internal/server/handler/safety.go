package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/safety"
)

// SafetyControl is the operator surface of the safety governor.
type SafetyControl interface {
	Status() safety.Status
	DisableTrading(ctx context.Context, reason string)
	EnableTrading(ctx context.Context) error
	ResetEmergency(ctx context.Context)
}

// SafetyHandler serves the trading switch and emergency reset.
type SafetyHandler struct {
	governor SafetyControl
	logger   *slog.Logger
}

// NewSafetyHandler creates a SafetyHandler.
func NewSafetyHandler(governor SafetyControl, logger *slog.Logger) *SafetyHandler {
	return &SafetyHandler{governor: governor, logger: logHandler(logger, "safety")}
}

type disableRequest struct {
	Reason string `json:"reason"`
}

// Disable stops new trades.
// POST /api/safety/disable
func (h *SafetyHandler) Disable(w http.ResponseWriter, r *http.Request) {
	var req disableRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "disabled by operator"
	}
	h.governor.DisableTrading(r.Context(), reason)
	writeJSON(w, http.StatusOK, h.governor.Status())
}

// Enable re-enables trading. It is refused with 409 during an emergency
// shutdown.
// POST /api/safety/enable
func (h *SafetyHandler) Enable(w http.ResponseWriter, r *http.Request) {
	if err := h.governor.EnableTrading(r.Context()); err != nil {
		if errors.Is(err, domain.ErrShutdownActive) {
			writeError(w, http.StatusConflict, "emergency shutdown active, reset first")
			return
		}
		h.logger.ErrorContext(r.Context(), "enable trading failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to enable trading")
		return
	}
	writeJSON(w, http.StatusOK, h.governor.Status())
}

// Reset clears an emergency shutdown. Trading stays disabled.
// POST /api/safety/reset
func (h *SafetyHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.governor.ResetEmergency(r.Context())
	writeJSON(w, http.StatusOK, h.governor.Status())
}
