package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyMonitored = errors.New("symbol already monitored by another position")
	ErrNoOrderBook      = errors.New("no order book")
	ErrNoParameters     = errors.New("no parameters")
	ErrShutdownActive   = errors.New("emergency shutdown active")
	ErrExchange         = errors.New("exchange error")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrLockHeld         = errors.New("lock already held")
)
