package domain

import (
	"context"
	"time"
)

// ParamsCache mirrors coin parameters in a shared cache.
type ParamsCache interface {
	Set(ctx context.Context, p CoinParameters) error
	Get(ctx context.Context, symbol string) (CoinParameters, error)
	GetAll(ctx context.Context) ([]CoinParameters, error)
}

// OrderBookMirror publishes the live book for external readers.
type OrderBookMirror interface {
	SetOrderBook(ctx context.Context, book OrderBook) error
	GetOrderBook(ctx context.Context, symbol string) (OrderBook, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub and durable streams.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles calls sharing a key.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}
