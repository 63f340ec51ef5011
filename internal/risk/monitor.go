// Package risk watches open positions against live market structure and
// decides when to protect them at breakeven and when to close them.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/metrics"
)

// Market is the read side of the market-structure engine.
type Market interface {
	OrderBook(symbol string) (domain.OrderBook, bool)
	Densities(symbol string) []domain.Density
	PriceHistory(symbol string, window time.Duration) []domain.PricePoint
	VolumeHistory(symbol string, window time.Duration) []domain.VolumePoint
}

// Config tunes the exit conditions. Zero fields take DefaultConfig values.
type Config struct {
	SlowdownLookback  time.Duration
	SlowdownMinPoints int
	ShortWindow       time.Duration
	LongWindow        time.Duration
	SlowdownThreshold float64

	ReversalLookback   time.Duration
	ReversalMinPoints  int
	ReversalMultiplier float64
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SlowdownLookback <= 0 {
		c.SlowdownLookback = d.SlowdownLookback
	}
	if c.SlowdownMinPoints <= 0 {
		c.SlowdownMinPoints = d.SlowdownMinPoints
	}
	if c.ShortWindow <= 0 {
		c.ShortWindow = d.ShortWindow
	}
	if c.LongWindow <= 0 {
		c.LongWindow = d.LongWindow
	}
	if c.SlowdownThreshold <= 0 {
		c.SlowdownThreshold = d.SlowdownThreshold
	}
	if c.ReversalLookback <= 0 {
		c.ReversalLookback = d.ReversalLookback
	}
	if c.ReversalMinPoints <= 0 {
		c.ReversalMinPoints = d.ReversalMinPoints
	}
	if c.ReversalMultiplier <= 0 {
		c.ReversalMultiplier = d.ReversalMultiplier
	}
	return c
}

// Monitor owns every position under monitoring, at most one per symbol.
// Callers only ever receive copies.
type Monitor struct {
	market Market
	params domain.ParamsProvider
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	positions map[string]*domain.Position
	inflight  map[string]bool // position IDs with a stop move in progress
}

// NewMonitor creates a Monitor reading market state from market.
func NewMonitor(market Market, params domain.ParamsProvider, cfg Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		market:    market,
		params:    params,
		cfg:       cfg.withDefaults(),
		logger:    logger.With(slog.String("component", "risk_monitor")),
		positions: make(map[string]*domain.Position),
		inflight:  make(map[string]bool),
	}
}

// StartMonitoring takes ownership of pos. Monitoring the same position twice
// is a no-op; a different position on an already monitored symbol returns
// ErrAlreadyMonitored.
func (m *Monitor) StartMonitoring(pos *domain.Position) error {
	if pos == nil || pos.Symbol == "" {
		return fmt.Errorf("risk: start monitoring: position without symbol")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.positions[pos.Symbol]; ok {
		if existing.ID != pos.ID {
			return fmt.Errorf("risk: monitor %s for %s (already monitoring %s): %w",
				pos.ID, pos.Symbol, existing.ID, domain.ErrAlreadyMonitored)
		}
		m.logger.Debug("position already monitored",
			slog.String("symbol", pos.Symbol),
			slog.String("position_id", pos.ID),
		)
		return nil
	}

	p := *pos
	if p.Status == "" {
		p.Status = domain.PositionStatusOpen
	}
	m.positions[p.Symbol] = &p
	metrics.MonitoredPositions.Set(float64(len(m.positions)))

	m.logger.Info("position monitoring started",
		slog.String("symbol", p.Symbol),
		slog.String("position_id", p.ID),
		slog.String("direction", string(p.Direction)),
		slog.String("signal_type", string(p.SignalType)),
		slog.Float64("entry", p.EntryPrice),
		slog.Float64("stop_loss", p.StopLoss),
		slog.Float64("size", p.Size),
		slog.Int("leverage", p.Leverage),
	)
	return nil
}

// StopMonitoring releases the position for symbol, if any.
func (m *Monitor) StopMonitoring(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[symbol]
	if !ok {
		m.logger.Warn("position not monitored", slog.String("symbol", symbol))
		return
	}
	delete(m.positions, symbol)
	delete(m.inflight, pos.ID)
	metrics.MonitoredPositions.Set(float64(len(m.positions)))

	m.logger.Info("position monitoring stopped",
		slog.String("symbol", symbol),
		slog.String("position_id", pos.ID),
	)
}

// Position returns a copy of the position monitored for symbol.
func (m *Monitor) Position(symbol string) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// IsMonitoring reports whether a position is monitored for symbol.
func (m *Monitor) IsMonitoring(symbol string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.positions[symbol]
	return ok
}

// MonitoredPositions returns copies of every monitored position, ordered by
// symbol.
func (m *Monitor) MonitoredPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ShouldMoveBreakeven reports whether pos qualifies for a breakeven stop
// right now. Breakout positions qualify on leveraged profit, bounce positions
// when their triggering density has eroded far enough.
func (m *Monitor) ShouldMoveBreakeven(pos domain.Position) bool {
	if pos.BreakevenMoved {
		return false
	}
	book, ok := m.market.OrderBook(pos.Symbol)
	if !ok {
		return false
	}
	mid, ok := book.MidPrice()
	if !ok {
		return false
	}
	p, ok := m.params.Get(pos.Symbol)
	if !ok {
		return false
	}
	return m.breakevenDue(&pos, mid, p)
}

func (m *Monitor) breakevenDue(pos *domain.Position, mid float64, p domain.CoinParameters) bool {
	switch pos.SignalType {
	case domain.SignalBreakout:
		return pos.ProfitPercent(mid) >= p.BreakoutBreakevenProfitPercent
	case domain.SignalBounce:
		d, ok := triggeringDensity(pos, m.market.Densities(pos.Symbol))
		if !ok {
			return false
		}
		return d.ErosionPercent() >= p.BounceDensityErosionExitPercent
	}
	return false
}

// MoveBreakevens moves the stop to entry on the exchange for every open
// position that qualifies. A position is marked as moved only after mod
// succeeds, so a failed call is retried on the next tick and a successful
// one is never repeated. The moved positions are returned.
func (m *Monitor) MoveBreakevens(ctx context.Context, mod domain.StopModifier) []domain.Position {
	m.mu.Lock()
	var due []domain.Position
	for _, pos := range m.positions {
		if pos.Status != domain.PositionStatusOpen || pos.BreakevenMoved || m.inflight[pos.ID] {
			continue
		}
		if m.ShouldMoveBreakeven(*pos) {
			m.inflight[pos.ID] = true
			due = append(due, *pos)
		}
	}
	m.mu.Unlock()

	var moved []domain.Position
	for _, pos := range due {
		err := mod.ModifyStopLoss(ctx, pos.Symbol, pos.EntryPrice)

		m.mu.Lock()
		delete(m.inflight, pos.ID)
		live, ok := m.positions[pos.Symbol]
		if err == nil && ok && live.ID == pos.ID {
			old := live.StopLoss
			live.StopLoss = live.EntryPrice
			live.BreakevenMoved = true
			moved = append(moved, *live)
			m.mu.Unlock()

			metrics.BreakevenMoves.Inc()
			m.logger.InfoContext(ctx, "stop loss moved to breakeven",
				slog.String("symbol", pos.Symbol),
				slog.String("position_id", pos.ID),
				slog.Float64("old_stop_loss", old),
				slog.Float64("new_stop_loss", pos.EntryPrice),
			)
			continue
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.WarnContext(ctx, "move stop to breakeven failed",
				slog.String("symbol", pos.Symbol),
				slog.String("position_id", pos.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return moved
}

// CheckPositions evaluates the exit conditions for every open position and
// returns copies of all positions due for closure. A position that triggers
// is moved to CLOSING with its exit reason and stays there, and is returned
// again on later calls, until StopMonitoring releases it. Positions without a
// live book, mid price or parameters are skipped until the next call.
func (m *Monitor) CheckPositions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []domain.Position
	for symbol, pos := range m.positions {
		switch pos.Status {
		case domain.PositionStatusClosing:
			due = append(due, *pos)
			continue
		case domain.PositionStatusOpen:
		default:
			m.logger.Warn("position not open",
				slog.String("symbol", symbol),
				slog.String("position_id", pos.ID),
				slog.String("status", string(pos.Status)),
			)
			continue
		}

		book, ok := m.market.OrderBook(symbol)
		if !ok {
			m.logger.Debug("order book not available", slog.String("symbol", symbol))
			continue
		}
		mid, ok := book.MidPrice()
		if !ok {
			m.logger.Debug("mid price not available", slog.String("symbol", symbol))
			continue
		}
		p, ok := m.params.Get(symbol)
		if !ok {
			m.logger.Debug("coin parameters not available", slog.String("symbol", symbol))
			continue
		}

		reason := m.exitReason(pos, mid, book, p)
		if reason == "" {
			continue
		}
		pos.ExitReason = &reason
		pos.Status = domain.PositionStatusClosing
		due = append(due, *pos)

		m.logger.Info("position marked for closure",
			slog.String("symbol", symbol),
			slog.String("position_id", pos.ID),
			slog.String("exit_reason", string(reason)),
			slog.Float64("current_price", mid),
		)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].Symbol < due[j].Symbol })
	return due
}

// MarkClosing forces the position for symbol into CLOSING with reason,
// for closures decided outside the exit conditions.
func (m *Monitor) MarkClosing(symbol string, reason domain.ExitReason) (domain.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	if pos.Status == domain.PositionStatusOpen {
		pos.ExitReason = &reason
		pos.Status = domain.PositionStatusClosing
	}
	return *pos, true
}
