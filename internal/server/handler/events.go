package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// EventLister reads recorded system events.
type EventLister interface {
	Recent(ctx context.Context, opts domain.ListOpts) ([]domain.SystemEvent, error)
}

// BlobLister lists archived objects.
type BlobLister interface {
	List(ctx context.Context, prefix string) ([]domain.BlobInfo, error)
}

const archivePrefix = "archive/"

// EventHandler serves system events and the archive index.
type EventHandler struct {
	events   EventLister
	archives BlobLister
	logger   *slog.Logger
}

// NewEventHandler creates an EventHandler. archives may be nil when cold
// storage is disabled.
func NewEventHandler(events EventLister, archives BlobLister, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, archives: archives, logger: logHandler(logger, "event")}
}

// ListEvents returns recorded events, newest first.
// GET /api/events?symbol=BTCUSDT&since=...&limit=50
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	events, err := h.events.Recent(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.SystemEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// ListArchives returns archived objects under archive/, optionally narrowed
// by table.
// GET /api/archives?table=densities
func (h *EventHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.archives == nil {
		writeError(w, http.StatusNotFound, "archiving disabled")
		return
	}
	prefix := archivePrefix
	if table := strings.Trim(r.URL.Query().Get("table"), "/ "); table != "" {
		prefix += table + "/"
	}
	objects, err := h.archives.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archives")
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "objects": objects})
}
