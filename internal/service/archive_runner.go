package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// ArchiveRunner moves rows older than the retention period to cold storage
// on an interval.
type ArchiveRunner struct {
	archiver  domain.Archiver
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiveRunner creates an ArchiveRunner. Non-positive durations default
// to a 7-day retention and a 1-hour interval.
func NewArchiveRunner(archiver domain.Archiver, retention, interval time.Duration, logger *slog.Logger) *ArchiveRunner {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &ArchiveRunner{
		archiver:  archiver,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "archive_runner")),
	}
}

// RunOnce archives snapshots and densities older than the cutoff. A failure
// in one table does not skip the other.
func (a *ArchiveRunner) RunOnce(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run", slog.Time("cutoff", cutoff))

	var errs []error
	snaps, err := a.archiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("archiving snapshots before %v: %w", cutoff, err))
	}
	dens, err := a.archiver.ArchiveDensities(ctx, cutoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("archiving densities before %v: %w", cutoff, err))
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("snapshots_archived", snaps),
		slog.Int64("densities_archived", dens),
	)
	return errors.Join(errs...)
}

// Run archives on every interval until ctx is cancelled.
func (a *ArchiveRunner) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.RunOnce(ctx); err != nil {
				a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
