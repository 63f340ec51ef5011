// Package app wires densitybot's dependencies and runs the market engine,
// plus position and safety supervision in trade mode, until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/densitybot/internal/config"
)

// App owns one run of the bot.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	startedAt time.Time

	mu      sync.Mutex
	cleanup func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks in the configured mode until ctx is
// cancelled or a component fails. Resources stay open until Close.
func (a *App) Run(ctx context.Context) error {
	modes := map[string]func(context.Context, *Dependencies) error{
		"monitor": a.MonitorMode,
		"trade":   a.TradeMode,
	}
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.startedAt = time.Now().UTC()
	a.logger.InfoContext(ctx, "wiring dependencies", slog.String("mode", a.cfg.Mode))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire: %w", err)
	}
	a.mu.Lock()
	a.cleanup = cleanup
	a.mu.Unlock()

	err = run(ctx, deps)
	a.logger.Info("stopped",
		slog.Duration("uptime", time.Since(a.startedAt).Round(time.Second)),
	)
	return err
}

// Close releases everything Wire opened. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	cleanup := a.cleanup
	a.cleanup = nil
	a.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}
