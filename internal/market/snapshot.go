package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/metrics"
)

// DefaultSnapshotInterval is how often every held book is persisted.
const DefaultSnapshotInterval = 5 * time.Minute

// Snapshotter periodically persists the current order book of every symbol
// held by an Engine.
type Snapshotter struct {
	engine   *Engine
	store    domain.SnapshotStore
	interval time.Duration
	logger   *slog.Logger
}

// NewSnapshotter creates a Snapshotter. A non-positive interval uses
// DefaultSnapshotInterval.
func NewSnapshotter(engine *Engine, store domain.SnapshotStore, interval time.Duration, logger *slog.Logger) *Snapshotter {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &Snapshotter{
		engine:   engine,
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "snapshotter")),
	}
}

// Run snapshots on every tick until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.SnapshotAll(ctx); err != nil {
				s.logger.WarnContext(ctx, "snapshot cycle had failures", slog.String("error", err.Error()))
			}
		}
	}
}

// SnapshotAll persists the current book of every symbol. A failure for one
// symbol does not stop the others; all failures are joined into the result.
func (s *Snapshotter) SnapshotAll(ctx context.Context) error {
	var (
		errs  []error
		saved int
	)
	for _, sym := range s.engine.Symbols() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		book, ok := s.engine.OrderBook(sym)
		if !ok {
			continue
		}
		if err := s.store.SaveOrderBookSnapshot(ctx, book); err != nil {
			metrics.PersistErrors.WithLabelValues("save_snapshot").Inc()
			s.logger.WarnContext(ctx, "snapshot failed",
				slog.String("symbol", sym),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		saved++
	}
	s.logger.DebugContext(ctx, "snapshot cycle complete",
		slog.Int("saved", saved),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}
