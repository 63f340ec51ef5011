package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

const healthTimeout = 3 * time.Second

// HealthHandler serves the health-check endpoint. Each named checker is
// pinged on every request.
type HealthHandler struct {
	checkers map[string]domain.HealthChecker
	logger   *slog.Logger
}

// NewHealthHandler creates a HealthHandler. Nil checkers are ignored.
func NewHealthHandler(checkers map[string]domain.HealthChecker, logger *slog.Logger) *HealthHandler {
	live := make(map[string]domain.HealthChecker, len(checkers))
	for name, c := range checkers {
		if c != nil {
			live[name] = c
		}
	}
	return &HealthHandler{checkers: live, logger: logHandler(logger, "health")}
}

// HealthCheck pings every dependency and reports "ok" or "degraded".
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	code := http.StatusOK
	checks := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checkers[name].Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "dependency unhealthy",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
