package risk

import (
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// Velocity is the absolute percent change per second between the first and
// last sample. It is 0 with fewer than two samples, zero elapsed time or a
// zero starting price.
func Velocity(points []domain.PricePoint) float64 {
	if len(points) < 2 {
		return 0
	}
	first, last := points[0], points[len(points)-1]
	dt := last.Time.Sub(first.Time).Seconds()
	if dt == 0 || first.Price == 0 {
		return 0
	}
	v := (last.Price - first.Price) / first.Price * 100 / dt
	if v < 0 {
		return -v
	}
	return v
}

// exitReason evaluates the exit conditions in priority order and returns the
// first one that holds, or "" if the position should stay open.
func (m *Monitor) exitReason(pos *domain.Position, mid float64, book domain.OrderBook, p domain.CoinParameters) domain.ExitReason {
	densities := m.market.Densities(pos.Symbol)

	switch {
	case m.momentumSlowdown(pos.Symbol):
		return domain.ExitMomentumSlowdown
	case counterDensity(pos, mid, densities):
		return domain.ExitCounterDensity
	case m.aggressiveReversal(pos, book):
		return domain.ExitAggressiveReversal
	case returnToRange(pos, mid):
		return domain.ExitReturnToRange
	case densityEroded(pos, densities, p):
		return domain.ExitDensityErosion
	}
	return ""
}

func (m *Monitor) momentumSlowdown(symbol string) bool {
	if len(m.market.PriceHistory(symbol, m.cfg.SlowdownLookback)) < m.cfg.SlowdownMinPoints {
		return false
	}
	short := Velocity(m.market.PriceHistory(symbol, m.cfg.ShortWindow))
	long := Velocity(m.market.PriceHistory(symbol, m.cfg.LongWindow))
	if long == 0 {
		return false
	}
	return short < long*m.cfg.SlowdownThreshold
}

// counterDensity reports an opposing wall ahead of price: an ask density
// above it for a long, a bid density below it for a short.
func counterDensity(pos *domain.Position, mid float64, densities []domain.Density) bool {
	for _, d := range densities {
		switch pos.Direction {
		case domain.DirectionLong:
			if d.Side == domain.SideAsk && d.Price > mid {
				return true
			}
		case domain.DirectionShort:
			if d.Side == domain.SideBid && d.Price < mid {
				return true
			}
		}
	}
	return false
}

// aggressiveReversal compares the live bid/ask volume ratio with its recent
// average.
func (m *Monitor) aggressiveReversal(pos *domain.Position, book domain.OrderBook) bool {
	history := m.market.VolumeHistory(pos.Symbol, m.cfg.ReversalLookback)
	if len(history) < m.cfg.ReversalMinPoints {
		return false
	}
	ask := book.TotalAskVolume()
	if ask == 0 {
		return false
	}
	current := book.TotalBidVolume() / ask

	var sum float64
	var n int
	for _, v := range history {
		if v.AskVolume > 0 {
			sum += v.BidVolume / v.AskVolume
			n++
		}
	}
	if n == 0 {
		return false
	}
	avg := sum / float64(n)

	if pos.Direction == domain.DirectionShort {
		return current < avg/m.cfg.ReversalMultiplier
	}
	return current > avg*m.cfg.ReversalMultiplier
}

func returnToRange(pos *domain.Position, mid float64) bool {
	if pos.SignalType != domain.SignalBreakout {
		return false
	}
	if pos.Direction == domain.DirectionShort {
		return mid > pos.DensityPrice
	}
	return mid < pos.DensityPrice
}

// densityEroded applies to bounce positions. A density that is gone counts
// as fully eroded.
func densityEroded(pos *domain.Position, densities []domain.Density, p domain.CoinParameters) bool {
	if pos.SignalType != domain.SignalBounce {
		return false
	}
	d, ok := triggeringDensity(pos, densities)
	if !ok {
		return true
	}
	return d.ErosionPercent() >= p.BounceDensityErosionExitPercent
}

func triggeringDensity(pos *domain.Position, densities []domain.Density) (domain.Density, bool) {
	side := pos.Direction.DensitySide()
	for _, d := range densities {
		if d.Price == pos.DensityPrice && d.Side == side {
			return d, true
		}
	}
	return domain.Density{}, false
}

// DefaultConfig returns the exit tunables used in production.
func DefaultConfig() Config {
	return Config{
		SlowdownLookback:   20 * time.Second,
		SlowdownMinPoints:  10,
		ShortWindow:        3 * time.Second,
		LongWindow:         15 * time.Second,
		SlowdownThreshold:  0.5,
		ReversalLookback:   10 * time.Second,
		ReversalMinPoints:  5,
		ReversalMultiplier: 2.0,
	}
}
