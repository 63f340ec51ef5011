package domain

import "time"

// TradeStatus tracks a trade record in persistence.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// Trade is the durable record of one position from entry to exit.
type Trade struct {
	ID                string
	Symbol            string
	Direction         Direction
	SignalType        SignalType
	EntryTime         time.Time
	EntryPrice        float64
	PositionSize      float64
	Leverage          int
	StopLossPrice     float64
	DensityPrice      float64
	BreakevenMoved    bool
	Status            TradeStatus
	ExitTime          *time.Time
	ExitPrice         *float64
	ProfitLoss        *float64
	ProfitLossPercent *float64
	ExitReason        *ExitReason
}

// ToPosition rebuilds an open Position from a trade record. size is the live
// size reported by the exchange.
func (t Trade) ToPosition(size float64) *Position {
	return &Position{
		ID:             t.ID,
		Symbol:         t.Symbol,
		EntryPrice:     t.EntryPrice,
		EntryTime:      t.EntryTime,
		Size:           size,
		Leverage:       t.Leverage,
		Direction:      t.Direction,
		SignalType:     t.SignalType,
		StopLoss:       t.StopLossPrice,
		Status:         PositionStatusOpen,
		DensityPrice:   t.DensityPrice,
		BreakevenMoved: t.BreakevenMoved,
	}
}
