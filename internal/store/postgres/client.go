// Package postgres persists densities, order-book snapshots, trades, system
// events and coin parameters in PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

const (
	applicationName   = "densitybot"
	dialTimeout       = 10 * time.Second
	healthCheckPeriod = 30 * time.Second
)

// ClientConfig holds connection parameters for the PostgreSQL client.
type ClientConfig struct {
	DSN      string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

// DSN returns cfg.DSN when set, otherwise a URL assembled from the parts.
func DSN(cfg ClientConfig) string {
	if dsn := strings.TrimSpace(cfg.DSN); dsn != "" {
		return dsn
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		cfg.User, cfg.Password, net.JoinHostPort(cfg.Host, fmt.Sprint(port)), cfg.Database, sslMode)
}

// Client owns the pgx pool the stores share.
type Client struct {
	pool *pgxpool.Pool
}

// New opens the pool and pings the server once.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	poolCfg.HealthCheckPeriod = healthCheckPeriod
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	poolCfg.ConnConfig.DialFunc = dialPreferIPv4

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	c := &Client{pool: pool}
	if err := c.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// dialPreferIPv4 tries every A record before handing addr to the system
// dialer, so IPv6-only hosts still connect.
func dialPreferIPv4(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("postgres: split host/port %q: %w", addr, err)
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	if ip := net.ParseIP(host); ip != nil {
		family := "tcp6"
		if ip.To4() != nil {
			family = "tcp4"
		}
		return dialer.DialContext(ctx, family, addr)
	}

	v4, lookupErr := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	var dialErrs []error
	for _, ip := range v4 {
		conn, err := dialer.DialContext(ctx, "tcp4", net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		dialErrs = append(dialErrs, err)
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err == nil {
		return conn, nil
	}
	dialErrs = append(dialErrs, err)
	if lookupErr != nil {
		dialErrs = append(dialErrs, lookupErr)
	}
	return nil, fmt.Errorf("postgres: dial %q: %w", addr, errors.Join(dialErrs...))
}

func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping implements domain.HealthChecker.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() {
	c.pool.Close()
}

var (
	_ domain.DensityStore  = (*DensityStore)(nil)
	_ domain.SnapshotStore = (*SnapshotStore)(nil)
	_ domain.EventStore    = (*EventStore)(nil)
	_ domain.TradeStore    = (*TradeStore)(nil)
	_ domain.ParamsStore   = (*ParamsStore)(nil)
	_ domain.HealthChecker = (*Client)(nil)
)
