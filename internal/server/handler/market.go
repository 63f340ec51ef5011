package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

const (
	defaultHistoryWindow = 30 * time.Second
	maxHistoryWindow     = 10 * time.Minute
)

// MarketReader is the read side of the market-structure engine.
type MarketReader interface {
	OrderBook(symbol string) (domain.OrderBook, bool)
	Densities(symbol string) []domain.Density
	PriceHistory(symbol string, window time.Duration) []domain.PricePoint
	VolumeHistory(symbol string, window time.Duration) []domain.VolumePoint
}

// MarketHandler serves order book, density and history endpoints.
type MarketHandler struct {
	market MarketReader
	mirror domain.OrderBookMirror
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler. When mirror is non-nil, books the
// local engine does not hold are read from it.
func NewMarketHandler(market MarketReader, mirror domain.OrderBookMirror, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		market: market,
		mirror: mirror,
		logger: logHandler(logger, "market"),
	}
}

// GetOrderBook returns the current order book for a symbol.
// GET /api/orderbook/{symbol}
func (h *MarketHandler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	if book, ok := h.market.OrderBook(symbol); ok {
		writeJSON(w, http.StatusOK, book)
		return
	}
	if h.mirror != nil {
		book, err := h.mirror.GetOrderBook(r.Context(), symbol)
		if err == nil {
			writeJSON(w, http.StatusOK, book)
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			h.logger.ErrorContext(r.Context(), "read mirrored book failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to read order book")
			return
		}
	}
	writeError(w, http.StatusNotFound, "order book not found")
}

// GetDensities returns the densities currently detected for a symbol.
// GET /api/densities/{symbol}
func (h *MarketHandler) GetDensities(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}
	densities := h.market.Densities(symbol)
	if densities == nil {
		densities = []domain.Density{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":    symbol,
		"densities": densities,
	})
}

// GetHistory returns price and volume samples inside the trailing window.
// GET /api/history/{symbol}?seconds=30
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := symbolParam(r)
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	window := defaultHistoryWindow
	if v := r.URL.Query().Get("seconds"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "seconds must be a positive integer")
			return
		}
		window = time.Duration(n) * time.Second
	}
	if window > maxHistoryWindow {
		window = maxHistoryWindow
	}

	prices := h.market.PriceHistory(symbol, window)
	if prices == nil {
		prices = []domain.PricePoint{}
	}
	volumes := h.market.VolumeHistory(symbol, window)
	if volumes == nil {
		volumes = []domain.VolumePoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":         symbol,
		"window_seconds": int64(window.Seconds()),
		"prices":         prices,
		"volumes":        volumes,
	})
}
