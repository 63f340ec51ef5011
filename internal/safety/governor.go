// Package safety implements the account-level watchdog: it measures capital
// loss against a baseline and, on breach, halts trading and unwinds every
// open exchange position.
package safety

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/metrics"
	"github.com/alanyoungcy/densitybot/internal/retry"
)

const shutdownLockKey = "emergency_shutdown"

// Config tunes the governor.
type Config struct {
	MaxConsecutiveFailures int
	// Notional exposure limits as a percent of balance. Zero disables.
	MaxTotalExposurePercent    float64
	MaxPositionExposurePercent float64

	FetchPolicy retry.Policy
	ClosePolicy retry.Policy
	LockTTL     time.Duration
	Now         func() time.Time
}

// Governor watches account balance and connection health. It is the only
// writer of its State.
type Governor struct {
	state    *State
	balance  domain.BalanceReader
	exchange domain.PositionCloser
	health   domain.HealthChecker
	events   domain.EventLogger
	locks    domain.LockManager

	cfg    Config
	logger *slog.Logger
}

// NewGovernor creates a Governor over state. health and events may be nil.
func NewGovernor(
	state *State,
	balance domain.BalanceReader,
	exchange domain.PositionCloser,
	health domain.HealthChecker,
	events domain.EventLogger,
	cfg Config,
	logger *slog.Logger,
) *Governor {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.FetchPolicy.MaxAttempts == 0 {
		cfg.FetchPolicy = retry.DefaultPolicy()
	}
	if cfg.ClosePolicy.MaxAttempts == 0 {
		cfg.ClosePolicy = retry.ClosePolicy()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Governor{
		state:    state,
		balance:  balance,
		exchange: exchange,
		health:   health,
		events:   events,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "safety_governor")),
	}
}

// SetLockManager makes emergency shutdown take a distributed lock so only
// one replica unwinds at a time.
func (g *Governor) SetLockManager(lm domain.LockManager) {
	g.locks = lm
}

// State returns the governed state.
func (g *Governor) State() *State { return g.state }

// IsTradingEnabled reports whether new trades may be opened.
func (g *Governor) IsTradingEnabled() bool { return g.state.TradingEnabled() }

// IsEmergencyShutdown reports whether an emergency shutdown is active.
func (g *Governor) IsEmergencyShutdown() bool { return g.state.EmergencyShutdown() }

// Status returns a snapshot of the safety state.
func (g *Governor) Status() Status { return g.state.Status() }

// CheckSafetyConditions reads the balance, runs the capital-loss and
// exposure checks and the connection health probe. It returns false when
// trading should not continue. A balance read failure is logged and does not
// count as a breach.
// The error is non-nil only when a triggered shutdown could not complete.
func (g *Governor) CheckSafetyConditions(ctx context.Context) (bool, error) {
	if g.state.EmergencyShutdown() {
		return false, nil
	}

	balance, err := g.balance.GetBalance(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "balance check failed, skipping loss check",
			slog.String("error", err.Error()),
		)
	} else {
		ok, err := g.CheckBalance(ctx, balance)
		if err != nil || !ok {
			return false, err
		}
		g.CheckExposure(ctx, balance)
	}

	// A failed probe is logged and counted inside CheckHealth; only repeated
	// failures change the outcome, by disabling trading.
	_ = g.CheckHealth(ctx)
	return g.state.TradingEnabled(), nil
}

// CheckBalance runs the capital-loss check against balance. The first
// observation becomes the baseline when none is set. A breach triggers
// EmergencyShutdown and returns false.
func (g *Governor) CheckBalance(ctx context.Context, balance float64) (bool, error) {
	if g.state.EmergencyShutdown() {
		return false, nil
	}

	loss, breached := g.state.recordBalance(balance, g.cfg.Now())
	metrics.LossPercent.Set(loss)
	base, _ := g.state.Baseline()

	if !breached {
		g.logger.DebugContext(ctx, "balance check passed",
			slog.Float64("balance", balance),
			slog.Float64("baseline", base),
			slog.Float64("loss_percent", loss),
		)
		return true, nil
	}

	g.logger.ErrorContext(ctx, "max loss exceeded",
		slog.Float64("balance", balance),
		slog.Float64("baseline", base),
		slog.Float64("loss_percent", loss),
		slog.Float64("max_loss_percent", g.state.Status().MaxLossPercent),
	)
	return false, g.EmergencyShutdown(ctx)
}

// CheckExposure compares open notional exposure with the configured limits
// and disables trading on a breach. It reports whether exposure is within
// limits. A failed position read is logged and passes.
func (g *Governor) CheckExposure(ctx context.Context, balance float64) bool {
	if g.cfg.MaxTotalExposurePercent <= 0 && g.cfg.MaxPositionExposurePercent <= 0 {
		return true
	}
	if balance <= 0 {
		return true
	}
	positions, err := g.exchange.FetchOpenPositions(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "exposure check skipped, cannot list positions",
			slog.String("error", err.Error()),
		)
		return true
	}
	reason := exposureBreach(positions, balance, g.cfg.MaxTotalExposurePercent, g.cfg.MaxPositionExposurePercent)
	if reason == "" {
		return true
	}
	g.logger.WarnContext(ctx, "exposure limit exceeded", slog.String("reason", reason))
	g.DisableTrading(ctx, reason)
	return false
}

// exposureBreach returns a description of the first limit exceeded, or "".
// Notional is |size| times average entry price.
func exposureBreach(positions []domain.ExchangePosition, balance, maxTotal, maxPosition float64) string {
	var total float64
	for _, p := range positions {
		notional := math.Abs(p.Size) * p.AvgPrice
		total += notional
		if pct := notional / balance * 100; maxPosition > 0 && pct > maxPosition {
			return fmt.Sprintf("%s exposure %.1f%% of balance exceeds %.1f%%", p.Symbol, pct, maxPosition)
		}
	}
	if pct := total / balance * 100; maxTotal > 0 && pct > maxTotal {
		return fmt.Sprintf("total exposure %.1f%% of balance exceeds %.1f%%", pct, maxTotal)
	}
	return ""
}

// EmergencyShutdown halts trading and closes every open exchange position.
// Only the first call runs the unwind; later calls are logged no-ops until
// ResetEmergency. Failing to list positions, or leaving any position open,
// is returned as an error.
func (g *Governor) EmergencyShutdown(ctx context.Context) error {
	if !g.state.beginShutdown() {
		g.logger.WarnContext(ctx, "emergency shutdown already active")
		return nil
	}
	metrics.EmergencyShutdowns.Inc()
	g.logger.ErrorContext(ctx, "emergency shutdown initiated")
	g.logEvent(ctx, domain.EventEmergencyShutdown, domain.SeverityCritical,
		"Emergency shutdown initiated - all trading stopped", nil)

	if g.locks != nil {
		unlock, err := g.locks.Acquire(ctx, shutdownLockKey, g.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			g.logger.WarnContext(ctx, "another instance is unwinding, skipping close-all")
			return nil
		case err != nil:
			g.logger.WarnContext(ctx, "shutdown lock unavailable, unwinding anyway",
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	fetch := g.cfg.FetchPolicy
	fetch.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.logger.WarnContext(ctx, "fetch open positions failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	positions, err := retry.DoWithResult(ctx, fetch, g.exchange.FetchOpenPositions)
	if err != nil {
		g.logger.ErrorContext(ctx, "emergency shutdown failed: cannot list positions, manual intervention required",
			slog.String("error", err.Error()),
		)
		g.logEvent(ctx, domain.EventCloseAllResult, domain.SeverityCritical,
			"Could not fetch open positions - MANUAL INTERVENTION REQUIRED",
			map[string]any{"error": err.Error()})
		return fmt.Errorf("safety: emergency shutdown: fetch open positions: %w", err)
	}

	if _, err := g.CloseAll(ctx, positions); err != nil {
		return fmt.Errorf("safety: emergency shutdown: %w", err)
	}
	g.logger.ErrorContext(ctx, "emergency shutdown complete, all positions closed")
	return nil
}

// CloseResult is the outcome of closing one position.
type CloseResult struct {
	Symbol string
	Side   domain.OrderSide
	Size   float64
	Err    error
}

// CloseAllError reports the positions left open after an unwind.
type CloseAllError struct {
	Closed int
	Failed []CloseResult
}

func (e *CloseAllError) Error() string {
	return fmt.Sprintf("%d position(s) still open, manual intervention required: %s",
		len(e.Failed), strings.Join(e.Symbols(), ", "))
}

// Symbols lists the symbols that remain exposed.
func (e *CloseAllError) Symbols() []string {
	out := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		out[i] = r.Symbol
	}
	return out
}

func (e *CloseAllError) Unwrap() []error {
	out := make([]error, len(e.Failed))
	for i, r := range e.Failed {
		out[i] = r.Err
	}
	return out
}

// CloseAll closes every position with a nonzero size by trading the opposite
// side, concurrently, each with its own retry budget. One position running
// out of retries never cancels the others. It waits for all of them and
// returns a *CloseAllError if any remain open.
func (g *Governor) CloseAll(ctx context.Context, positions []domain.ExchangePosition) ([]CloseResult, error) {
	var todo []domain.ExchangePosition
	for _, p := range positions {
		if p.Size != 0 {
			todo = append(todo, p)
		}
	}
	g.logger.ErrorContext(ctx, "closing all positions", slog.Int("count", len(todo)))

	results := make([]CloseResult, len(todo))
	var eg errgroup.Group
	for i, p := range todo {
		eg.Go(func() error {
			results[i] = g.closeOne(ctx, p)
			return nil
		})
	}
	_ = eg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Symbol < results[j].Symbol })
	var failed []CloseResult
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r)
			metrics.EmergencyCloses.WithLabelValues("failed").Inc()
		} else {
			metrics.EmergencyCloses.WithLabelValues("closed").Inc()
		}
	}
	closed := len(results) - len(failed)

	details := map[string]any{
		"total":  len(results),
		"closed": closed,
		"failed": len(failed),
	}
	if len(failed) == 0 {
		g.logEvent(ctx, domain.EventCloseAllResult, domain.SeverityCritical,
			fmt.Sprintf("Closed %d of %d positions", closed, len(results)), details)
		return results, nil
	}

	cerr := &CloseAllError{Closed: closed, Failed: failed}
	details["failed_symbols"] = cerr.Symbols()
	g.logger.ErrorContext(ctx, "close all left positions open",
		slog.Int("closed", closed),
		slog.Int("failed", len(failed)),
		slog.String("symbols", strings.Join(cerr.Symbols(), ",")),
	)
	g.logEvent(ctx, domain.EventCloseAllResult, domain.SeverityCritical,
		fmt.Sprintf("Closed %d of %d positions - MANUAL INTERVENTION REQUIRED", closed, len(results)), details)
	return results, cerr
}

func (g *Governor) closeOne(ctx context.Context, p domain.ExchangePosition) CloseResult {
	side := domain.OrderSideSell
	if p.Side == domain.OrderSideSell {
		side = domain.OrderSideBuy
	}
	size := p.Size
	if size < 0 {
		size = -size
	}
	res := CloseResult{Symbol: p.Symbol, Side: side, Size: size}

	policy := g.cfg.ClosePolicy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		g.logger.WarnContext(ctx, "emergency close failed, retrying",
			slog.String("symbol", p.Symbol),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}
	res.Err = retry.Do(ctx, policy, func(ctx context.Context) error {
		return g.exchange.ClosePosition(ctx, p.Symbol, size, side)
	})

	if res.Err != nil {
		g.logger.ErrorContext(ctx, "emergency close gave up",
			slog.String("symbol", p.Symbol),
			slog.String("error", res.Err.Error()),
		)
		return res
	}
	g.logEvent(ctx, domain.EventPositionEmergencyClose, domain.SeverityCritical,
		fmt.Sprintf("Emergency closed %s %s %g", p.Symbol, side, size),
		map[string]any{"symbol": p.Symbol, "side": string(side), "size": size})
	return res
}

// CheckHealth probes the persistence layer. Failures are counted; reaching
// the configured limit disables trading but never triggers a shutdown.
func (g *Governor) CheckHealth(ctx context.Context) error {
	if g.health == nil {
		return nil
	}
	if err := g.health.Ping(ctx); err != nil {
		n := g.state.healthFailed()
		g.logger.WarnContext(ctx, "connection health check failed",
			slog.Int("consecutive_failures", n),
			slog.String("error", err.Error()),
		)
		g.logEvent(ctx, domain.EventHealthCheckFailed, domain.SeverityError,
			fmt.Sprintf("Connection health check failed: %v", err),
			map[string]any{"consecutive_failures": n})
		if n >= g.cfg.MaxConsecutiveFailures {
			g.DisableTrading(ctx, fmt.Sprintf("health check failed %d times consecutively", n))
		}
		return fmt.Errorf("safety: health check: %w", err)
	}
	g.state.healthOK()
	return nil
}

// DisableTrading stops new trades without unwinding anything.
func (g *Governor) DisableTrading(ctx context.Context, reason string) {
	if !g.state.setTrading(false) {
		return
	}
	g.logger.WarnContext(ctx, "trading disabled", slog.String("reason", reason))
	g.logEvent(ctx, domain.EventTradingDisabled, domain.SeverityWarning,
		"Trading disabled: "+reason, nil)
}

// EnableTrading re-enables trading. It is refused while an emergency
// shutdown is active.
func (g *Governor) EnableTrading(ctx context.Context) error {
	if g.state.enableTrading() {
		return fmt.Errorf("safety: enable trading: %w", domain.ErrShutdownActive)
	}
	g.logger.InfoContext(ctx, "trading enabled")
	g.logEvent(ctx, domain.EventTradingEnabled, domain.SeverityInfo, "Trading enabled", nil)
	return nil
}

// ResetEmergency is the manual reset after an emergency shutdown. Trading
// stays disabled until EnableTrading, and the next balance check records a
// new baseline.
func (g *Governor) ResetEmergency(ctx context.Context) {
	if !g.state.resetEmergency() {
		return
	}
	g.logger.WarnContext(ctx, "emergency shutdown reset")
	g.logEvent(ctx, domain.EventTradingDisabled, domain.SeverityWarning,
		"Emergency shutdown reset manually, trading still disabled", nil)
}

func (g *Governor) logEvent(ctx context.Context, typ domain.EventType, sev domain.Severity, msg string, details map[string]any) {
	if g.events == nil {
		return
	}
	ev := domain.SystemEvent{
		Time:     g.cfg.Now(),
		Type:     typ,
		Severity: sev,
		Message:  msg,
		Details:  details,
	}
	if sym, ok := details["symbol"].(string); ok {
		ev.Symbol = sym
	}
	if err := g.events.LogEvent(ctx, ev); err != nil {
		g.logger.WarnContext(ctx, "log event failed",
			slog.String("event_type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}
