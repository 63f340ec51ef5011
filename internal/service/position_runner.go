package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/metrics"
	"github.com/alanyoungcy/densitybot/internal/risk"
)

// DefaultPositionTick is how often positions are checked.
const DefaultPositionTick = time.Second

// PositionExchange is the exchange surface the position runner uses.
type PositionExchange interface {
	domain.PositionCloser
	domain.StopModifier
}

// PositionRunner drives the risk monitor: it moves stops to breakeven,
// closes positions whose exit conditions fire and records the results.
type PositionRunner struct {
	monitor  *risk.Monitor
	market   risk.Market
	exchange PositionExchange
	trades   domain.TradeStore
	events   domain.EventLogger
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewPositionRunner creates a PositionRunner. events may be nil.
func NewPositionRunner(
	monitor *risk.Monitor,
	market risk.Market,
	exchange PositionExchange,
	trades domain.TradeStore,
	events domain.EventLogger,
	interval time.Duration,
	logger *slog.Logger,
) *PositionRunner {
	if interval <= 0 {
		interval = DefaultPositionTick
	}
	return &PositionRunner{
		monitor:  monitor,
		market:   market,
		exchange: exchange,
		trades:   trades,
		events:   events,
		interval: interval,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "position_runner")),
	}
}

// Run restores monitored positions and then ticks until ctx is cancelled.
func (r *PositionRunner) Run(ctx context.Context) error {
	if err := r.SyncOnStartup(ctx); err != nil {
		r.logger.ErrorContext(ctx, "position sync failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// SyncOnStartup starts monitoring every exchange position that has an open
// trade record. Positions without a record are reported and left alone.
func (r *PositionRunner) SyncOnStartup(ctx context.Context) error {
	live, err := r.exchange.FetchOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("service: sync positions: %w", err)
	}
	open, err := r.trades.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("service: sync positions: %w", err)
	}

	bySymbol := make(map[string]domain.Trade, len(open))
	for _, t := range open {
		bySymbol[t.Symbol] = t
	}

	restored := 0
	for _, p := range live {
		t, ok := bySymbol[p.Symbol]
		if !ok {
			r.logger.WarnContext(ctx, "exchange position without trade record",
				slog.String("symbol", p.Symbol),
				slog.String("side", string(p.Side)),
				slog.Float64("size", p.Size),
			)
			continue
		}
		delete(bySymbol, p.Symbol)
		if t.Direction.CloseSide() == p.Side {
			r.logger.WarnContext(ctx, "exchange position side disagrees with trade record",
				slog.String("symbol", p.Symbol),
				slog.String("trade_id", t.ID),
				slog.String("side", string(p.Side)),
				slog.String("direction", string(t.Direction)),
			)
			continue
		}
		if err := r.monitor.StartMonitoring(t.ToPosition(p.Size)); err != nil {
			r.logger.WarnContext(ctx, "restore monitoring failed",
				slog.String("symbol", p.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		restored++
	}
	for sym, t := range bySymbol {
		r.logger.WarnContext(ctx, "open trade record without exchange position",
			slog.String("symbol", sym),
			slog.String("trade_id", t.ID),
		)
	}

	r.logger.InfoContext(ctx, "positions restored", slog.Int("count", restored))
	return nil
}

// Tick runs one breakeven pass and one exit pass.
func (r *PositionRunner) Tick(ctx context.Context) {
	for _, pos := range r.monitor.MoveBreakevens(ctx, r.exchange) {
		if err := r.trades.UpdateStopLoss(ctx, pos.ID, pos.StopLoss, true); err != nil {
			r.logger.WarnContext(ctx, "persist breakeven failed",
				slog.String("symbol", pos.Symbol),
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
		r.logEvent(ctx, domain.SystemEvent{
			Type:     domain.EventBreakevenMoved,
			Severity: domain.SeverityInfo,
			Symbol:   pos.Symbol,
			Message:  "stop loss moved to entry",
			Details:  map[string]any{"position_id": pos.ID, "stop_loss": pos.StopLoss},
		})
	}

	for _, pos := range r.monitor.CheckPositions() {
		if ctx.Err() != nil {
			return
		}
		r.closePosition(ctx, pos)
	}
}

// closePosition sends a reduce-only close for pos. On failure the position
// stays in CLOSING and is retried on the next tick.
func (r *PositionRunner) closePosition(ctx context.Context, pos domain.Position) {
	reason := domain.ExitManual
	if pos.ExitReason != nil {
		reason = *pos.ExitReason
	}

	if err := r.exchange.ClosePosition(ctx, pos.Symbol, pos.Size, pos.Direction.CloseSide()); err != nil {
		r.logger.ErrorContext(ctx, "close position failed, will retry",
			slog.String("symbol", pos.Symbol),
			slog.String("position_id", pos.ID),
			slog.String("exit_reason", string(reason)),
			slog.String("error", err.Error()),
		)
		return
	}

	exit := pos.EntryPrice
	if book, ok := r.market.OrderBook(pos.Symbol); ok {
		if mid, ok := book.MidPrice(); ok {
			exit = mid
		}
	}
	pnl := pos.PnL(exit)
	pnlPct := pos.ProfitPercent(exit)

	if err := r.trades.Close(ctx, pos.ID, exit, r.now().UTC(), pnl, pnlPct, reason); err != nil {
		r.logger.WarnContext(ctx, "persist trade close failed",
			slog.String("symbol", pos.Symbol),
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
	metrics.PositionExits.WithLabelValues(string(reason)).Inc()
	r.monitor.StopMonitoring(pos.Symbol)

	r.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", pos.Symbol),
		slog.String("position_id", pos.ID),
		slog.String("exit_reason", string(reason)),
		slog.Float64("exit_price", exit),
		slog.Float64("pnl", pnl),
		slog.Float64("pnl_percent", pnlPct),
	)
	r.logEvent(ctx, domain.SystemEvent{
		Type:     domain.EventPositionClosed,
		Severity: domain.SeverityInfo,
		Symbol:   pos.Symbol,
		Message:  fmt.Sprintf("position closed: %s", reason),
		Details: map[string]any{
			"position_id": pos.ID,
			"exit_reason": string(reason),
			"exit_price":  exit,
			"pnl":         pnl,
			"pnl_percent": pnlPct,
		},
	})
}

// RequestClose marks the position on symbol for closure on the next tick.
func (r *PositionRunner) RequestClose(symbol string) (domain.Position, error) {
	pos, ok := r.monitor.MarkClosing(symbol, domain.ExitManual)
	if !ok {
		return domain.Position{}, fmt.Errorf("service: close %s: %w", symbol, domain.ErrNotFound)
	}
	return pos, nil
}

func (r *PositionRunner) logEvent(ctx context.Context, ev domain.SystemEvent) {
	if r.events == nil {
		return
	}
	_ = r.events.LogEvent(ctx, ev)
}
