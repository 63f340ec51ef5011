// Package redis mirrors coin parameters and live order books, carries the
// system event bus, and provides distributed locking and rate limiting on top
// of go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	clientName         = "densitybot"
	defaultDialTimeout = 5 * time.Second
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	MaxRetries  int
	TLSEnabled  bool
	DialTimeout time.Duration
}

// Client owns the connection pool shared by the caches, the bus, the lock
// manager and the rate limiter.
type Client struct {
	rdb  *redis.Client
	addr string
}

// New connects to Redis and fails fast when the server does not answer a
// PING within the dial timeout.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}

	opts := &redis.Options{
		Addr:                  cfg.Addr,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		PoolSize:              cfg.PoolSize,
		MaxRetries:            cfg.MaxRetries,
		ClientName:            clientName,
		DialTimeout:           dial,
		ContextTimeoutEnabled: true,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := &Client{rdb: redis.NewClient(opts), addr: cfg.Addr}

	pingCtx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping implements domain.HealthChecker.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping %s: %w", c.addr, err)
	}
	return nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying exposes the driver to the other types in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
