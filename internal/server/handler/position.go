package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// PositionLister lists monitored positions.
type PositionLister interface {
	MonitoredPositions() []domain.Position
}

// CloseRequester marks a monitored position for closure.
type CloseRequester interface {
	RequestClose(symbol string) (domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionLister
	closer    CloseRequester
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions PositionLister, closer CloseRequester, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		closer:    closer,
		logger:    logHandler(logger, "position"),
	}
}

// listPositionsResponse wraps the list positions response.
type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns every monitored position.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.MonitoredPositions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ClosePosition marks the position on a symbol for closure. The exchange
// order is sent by the position runner on its next tick.
// POST /api/positions/{symbol}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	pos, err := h.closer.RequestClose(symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "request close failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to close position")
		return
	}

	h.logger.InfoContext(r.Context(), "manual close requested",
		slog.String("symbol", symbol),
		slog.String("position_id", pos.ID),
	)
	writeJSON(w, http.StatusAccepted, pos)
}
