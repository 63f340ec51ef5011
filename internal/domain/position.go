package domain

import "time"

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// Direction is the directional exposure of a position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Sign returns +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// DensitySide is the book side of the density a position was opened against:
// bids support a long, asks cap a short.
func (d Direction) DensitySide() Side {
	if d == DirectionShort {
		return SideAsk
	}
	return SideBid
}

// CloseSide is the order side that reduces a position in this direction.
func (d Direction) CloseSide() OrderSide {
	if d == DirectionShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// SignalType is the setup that produced the entry.
type SignalType string

const (
	SignalBreakout SignalType = "breakout"
	SignalBounce   SignalType = "bounce"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitMomentumSlowdown   ExitReason = "momentum_slowdown"
	ExitCounterDensity     ExitReason = "counter_density"
	ExitAggressiveReversal ExitReason = "aggressive_reversal"
	ExitReturnToRange      ExitReason = "return_to_range"
	ExitDensityErosion     ExitReason = "density_erosion"
	ExitEmergency          ExitReason = "emergency"
	ExitManual             ExitReason = "manual"
)

// OrderSide is the exchange order side.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "Buy"
	OrderSideSell OrderSide = "Sell"
)

// Position is an open leveraged position under risk monitoring.
type Position struct {
	ID             string         `json:"id"`
	Symbol         string         `json:"symbol"`
	EntryPrice     float64        `json:"entry_price"`
	EntryTime      time.Time      `json:"entry_time"`
	Size           float64        `json:"size"`
	Leverage       int            `json:"leverage"`
	Direction      Direction      `json:"direction"`
	SignalType     SignalType     `json:"signal_type"`
	StopLoss       float64        `json:"stop_loss"`
	Status         PositionStatus `json:"status"`
	DensityPrice   float64        `json:"density_price"`
	BreakevenMoved bool           `json:"breakeven_moved"`
	ExitReason     *ExitReason    `json:"exit_reason,omitempty"`
}

// ProfitPercent is the leveraged return of the position at current, in
// percent. The sign flips for shorts.
func (p *Position) ProfitPercent(current float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return p.Direction.Sign() * (current - p.EntryPrice) / p.EntryPrice * 100 * float64(p.Leverage)
}

// PnL is the unleveraged quote-currency profit of the position at current.
func (p *Position) PnL(current float64) float64 {
	return p.Direction.Sign() * (current - p.EntryPrice) * p.Size
}

// ExchangePosition is the exchange's view of an open position.
type ExchangePosition struct {
	Symbol   string    `json:"symbol"`
	Side     OrderSide `json:"side"`
	Size     float64   `json:"size"`
	AvgPrice float64   `json:"avg_price"`
}
