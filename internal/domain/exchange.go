package domain

import "context"

// BalanceReader reads the account's quote-currency balance.
type BalanceReader interface {
	GetBalance(ctx context.Context) (float64, error)
}

// PositionCloser fetches and closes exchange positions.
type PositionCloser interface {
	FetchOpenPositions(ctx context.Context) ([]ExchangePosition, error)
	ClosePosition(ctx context.Context, symbol string, qty float64, side OrderSide) error
}

// StopModifier moves a position's stop-loss on the exchange.
type StopModifier interface {
	ModifyStopLoss(ctx context.Context, symbol string, stopLoss float64) error
}

// Exchange is the full set of exchange operations the bot needs.
type Exchange interface {
	BalanceReader
	PositionCloser
	StopModifier
}
