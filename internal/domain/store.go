package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Symbol string
}

// DensityStore persists density lifecycle records.
type DensityStore interface {
	SaveDensity(ctx context.Context, d Density) error
	MarkDensityDisappeared(ctx context.Context, symbol string, price float64, side Side, at time.Time) error
	ListActive(ctx context.Context, symbol string) ([]Density, error)
	ListDisappearedBefore(ctx context.Context, before time.Time) ([]Density, error)
	DeleteDisappearedBefore(ctx context.Context, before time.Time) (int64, error)
}

// SnapshotStore persists periodic order-book snapshots.
type SnapshotStore interface {
	SaveOrderBookSnapshot(ctx context.Context, book OrderBook) error
	ListBefore(ctx context.Context, before time.Time, limit int) ([]OrderBook, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventStore persists system events.
type EventStore interface {
	Insert(ctx context.Context, ev SystemEvent) error
	List(ctx context.Context, opts ListOpts) ([]SystemEvent, error)
}

// TradeStore persists trade records.
type TradeStore interface {
	Create(ctx context.Context, t Trade) error
	GetOpenTrades(ctx context.Context) ([]Trade, error)
	UpdateStopLoss(ctx context.Context, id string, stopLoss float64, breakeven bool) error
	Close(ctx context.Context, id string, exitPrice float64, exitTime time.Time, pnl, pnlPercent float64, reason ExitReason) error
}

// ParamsStore persists per-symbol coin parameters.
type ParamsStore interface {
	Get(ctx context.Context, symbol string) (CoinParameters, error)
	ListEnabled(ctx context.Context) ([]CoinParameters, error)
	Upsert(ctx context.Context, p CoinParameters) error
}

// HealthChecker is a lightweight liveness probe.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
