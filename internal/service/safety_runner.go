package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// DefaultSafetyTick is how often the safety conditions are checked.
const DefaultSafetyTick = 30 * time.Second

// SafetyChecker is the governor surface the runner drives.
type SafetyChecker interface {
	CheckSafetyConditions(ctx context.Context) (bool, error)
	IsEmergencyShutdown() bool
}

// SafetyRunner checks the safety conditions on an interval. It returns
// domain.ErrShutdownActive once an emergency shutdown is active, which stops
// the rest of the bot.
type SafetyRunner struct {
	governor SafetyChecker
	interval time.Duration
	logger   *slog.Logger
}

// NewSafetyRunner creates a SafetyRunner.
func NewSafetyRunner(governor SafetyChecker, interval time.Duration, logger *slog.Logger) *SafetyRunner {
	if interval <= 0 {
		interval = DefaultSafetyTick
	}
	return &SafetyRunner{
		governor: governor,
		interval: interval,
		logger:   logger.With(slog.String("component", "safety_runner")),
	}
}

// Run checks once immediately and then on every tick.
func (r *SafetyRunner) Run(ctx context.Context) error {
	if err := r.check(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.check(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *SafetyRunner) check(ctx context.Context) error {
	ok, err := r.governor.CheckSafetyConditions(ctx)
	if err != nil {
		return fmt.Errorf("service: safety check: %w", err)
	}
	if r.governor.IsEmergencyShutdown() {
		r.logger.ErrorContext(ctx, "emergency shutdown active, stopping")
		return domain.ErrShutdownActive
	}
	if !ok {
		r.logger.WarnContext(ctx, "trading disabled by safety check")
	}
	return nil
}
