// Package config defines the top-level configuration for densitybot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DENSITYBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Market   MarketConfig   `toml:"market"`
	Risk     RiskConfig     `toml:"risk"`
	Safety   SafetyConfig   `toml:"safety"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds the Bybit endpoints and API credentials. The secret
// is either given directly or read from a file written by EncryptSecret.
type ExchangeConfig struct {
	RESTURL             string   `toml:"rest_url"`
	WSURL               string   `toml:"ws_url"`
	APIKey              string   `toml:"api_key"`
	APISecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RecvWindow          int      `toml:"recv_window"`
	Category            string   `toml:"category"`
	SettleCoin          string   `toml:"settle_coin"`
	OrderbookDepth      int      `toml:"orderbook_depth"`
	Timeout             duration `toml:"timeout"`
	// RequestsPerSecond is shared by every replica through Redis.
	RequestsPerSecond int `toml:"requests_per_second"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	CreateBucket   bool   `toml:"create_bucket"`
}

// MarketConfig configures the market-structure engine and its feed.
type MarketConfig struct {
	Symbols          []string     `toml:"symbols"`
	SnapshotInterval duration     `toml:"snapshot_interval"`
	HistoryCapacity  int          `toml:"history_capacity"`
	ParamsRefresh    duration     `toml:"params_refresh"`
	MirrorToRedis    bool         `toml:"mirror_to_redis"`
	MirrorTTL        duration     `toml:"mirror_ttl"`
	Defaults         ParamsConfig `toml:"defaults"`
}

// ParamsConfig is the coin parameter set applied to symbols with no stored
// configuration.
type ParamsConfig struct {
	DensityThresholdAbs                float64 `toml:"density_threshold_abs"`
	DensityThresholdRelative           float64 `toml:"density_threshold_relative"`
	DensityThresholdPercent            float64 `toml:"density_threshold_percent"`
	ClusterRangePercent                float64 `toml:"cluster_range_percent"`
	BreakoutErosionPercent             float64 `toml:"breakout_erosion_percent"`
	BreakoutMinStopLossPercent         float64 `toml:"breakout_min_stop_loss_percent"`
	BreakoutBreakevenProfitPercent     float64 `toml:"breakout_breakeven_profit_percent"`
	BounceTouchTolerancePercent        float64 `toml:"bounce_touch_tolerance_percent"`
	BounceDensityStablePercent         float64 `toml:"bounce_density_stable_percent"`
	BounceStopLossBehindDensityPercent float64 `toml:"bounce_stop_loss_behind_density_percent"`
	BounceDensityErosionExitPercent    float64 `toml:"bounce_density_erosion_exit_percent"`
	TPSlowdownMultiplier               float64 `toml:"tp_slowdown_multiplier"`
	TPLocalExtremaHours                int     `toml:"tp_local_extrema_hours"`
	PreferredStrategy                  string  `toml:"preferred_strategy"`
}

// CoinParameters converts p into the domain type, enabled and without a
// symbol.
func (p ParamsConfig) CoinParameters() domain.CoinParameters {
	return domain.CoinParameters{
		DensityThresholdAbs:                p.DensityThresholdAbs,
		DensityThresholdRelative:           p.DensityThresholdRelative,
		DensityThresholdPercent:            p.DensityThresholdPercent,
		ClusterRangePercent:                p.ClusterRangePercent,
		BreakoutErosionPercent:             p.BreakoutErosionPercent,
		BreakoutMinStopLossPercent:         p.BreakoutMinStopLossPercent,
		BreakoutBreakevenProfitPercent:     p.BreakoutBreakevenProfitPercent,
		BounceTouchTolerancePercent:        p.BounceTouchTolerancePercent,
		BounceDensityStablePercent:         p.BounceDensityStablePercent,
		BounceStopLossBehindDensityPercent: p.BounceStopLossBehindDensityPercent,
		BounceDensityErosionExitPercent:    p.BounceDensityErosionExitPercent,
		TPSlowdownMultiplier:               p.TPSlowdownMultiplier,
		TPLocalExtremaHours:                p.TPLocalExtremaHours,
		PreferredStrategy:                  p.PreferredStrategy,
		Enabled:                            true,
	}
}

func paramsFromDomain(p domain.CoinParameters) ParamsConfig {
	return ParamsConfig{
		DensityThresholdAbs:                p.DensityThresholdAbs,
		DensityThresholdRelative:           p.DensityThresholdRelative,
		DensityThresholdPercent:            p.DensityThresholdPercent,
		ClusterRangePercent:                p.ClusterRangePercent,
		BreakoutErosionPercent:             p.BreakoutErosionPercent,
		BreakoutMinStopLossPercent:         p.BreakoutMinStopLossPercent,
		BreakoutBreakevenProfitPercent:     p.BreakoutBreakevenProfitPercent,
		BounceTouchTolerancePercent:        p.BounceTouchTolerancePercent,
		BounceDensityStablePercent:         p.BounceDensityStablePercent,
		BounceStopLossBehindDensityPercent: p.BounceStopLossBehindDensityPercent,
		BounceDensityErosionExitPercent:    p.BounceDensityErosionExitPercent,
		TPSlowdownMultiplier:               p.TPSlowdownMultiplier,
		TPLocalExtremaHours:                p.TPLocalExtremaHours,
		PreferredStrategy:                  p.PreferredStrategy,
	}
}

// RiskConfig tunes the position runner and the exit conditions.
type RiskConfig struct {
	CheckInterval      duration `toml:"check_interval"`
	SlowdownLookback   duration `toml:"slowdown_lookback"`
	SlowdownMinPoints  int      `toml:"slowdown_min_points"`
	ShortWindow        duration `toml:"short_window"`
	LongWindow         duration `toml:"long_window"`
	SlowdownThreshold  float64  `toml:"slowdown_threshold"`
	ReversalLookback   duration `toml:"reversal_lookback"`
	ReversalMinPoints  int      `toml:"reversal_min_points"`
	ReversalMultiplier float64  `toml:"reversal_multiplier"`
}

// SafetyConfig tunes the safety governor.
type SafetyConfig struct {
	CheckInterval          duration `toml:"check_interval"`
	MaxLossPercent         float64  `toml:"max_loss_percent"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	LockTTL                duration `toml:"lock_ttl"`

	// Exposure limits are percentages of the account balance; zero
	// disables the check.
	MaxTotalExposurePercent    float64 `toml:"max_total_exposure_percent"`
	MaxPositionExposurePercent float64 `toml:"max_position_exposure_percent"`

	FetchRetry RetryConfig `toml:"fetch_retry"`
	CloseRetry RetryConfig `toml:"close_retry"`
}

// RetryConfig is a capped exponential backoff policy.
type RetryConfig struct {
	MaxAttempts  int      `toml:"max_attempts"`
	InitialDelay duration `toml:"initial_delay"`
	MaxDelay     duration `toml:"max_delay"`
	Multiplier   float64  `toml:"multiplier"`
	Jitter       float64  `toml:"jitter"`
}

// ArchiveConfig controls moving aged rows to object storage.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Retention duration `toml:"retention"`
	Interval  duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
	// WSStatusInterval is how often websocket clients get a status frame.
	WSStatusInterval duration `toml:"ws_status_interval"`
}

// NotifyConfig holds notification channel credentials. Events filters which
// event types are forwarded; empty forwards every error and critical event.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RESTURL:           "https://api.bybit.com",
			WSURL:             "wss://stream.bybit.com/v5/public/linear",
			RecvWindow:        5000,
			Category:          "linear",
			SettleCoin:        "USDT",
			OrderbookDepth:    50,
			Timeout:           duration{10 * time.Second},
			RequestsPerSecond: 10,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "densitybot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "densitybot-archive",
			ForcePathStyle: true,
			CreateBucket:   true,
		},
		Market: MarketConfig{
			Symbols:          []string{"BTCUSDT", "ETHUSDT"},
			SnapshotInterval: duration{5 * time.Minute},
			HistoryCapacity:  300,
			ParamsRefresh:    duration{time.Minute},
			MirrorToRedis:    true,
			MirrorTTL:        duration{time.Minute},
			Defaults:         paramsFromDomain(domain.DefaultCoinParameters("")),
		},
		Risk: RiskConfig{
			CheckInterval:      duration{time.Second},
			SlowdownLookback:   duration{20 * time.Second},
			SlowdownMinPoints:  10,
			ShortWindow:        duration{3 * time.Second},
			LongWindow:         duration{15 * time.Second},
			SlowdownThreshold:  0.5,
			ReversalLookback:   duration{10 * time.Second},
			ReversalMinPoints:  5,
			ReversalMultiplier: 2.0,
		},
		Safety: SafetyConfig{
			CheckInterval:          duration{30 * time.Second},
			MaxLossPercent:         10,
			MaxConsecutiveFailures: 3,
			LockTTL:                duration{5 * time.Minute},
			FetchRetry: RetryConfig{
				MaxAttempts:  5,
				InitialDelay: duration{500 * time.Millisecond},
				MaxDelay:     duration{8 * time.Second},
				Multiplier:   2,
				Jitter:       0.1,
			},
			CloseRetry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: duration{500 * time.Millisecond},
				MaxDelay:     duration{5 * time.Second},
				Multiplier:   2,
				Jitter:       0.1,
			},
		},
		Archive: ArchiveConfig{
			Enabled:   false,
			Retention: duration{30 * 24 * time.Hour},
			Interval:  duration{time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateWindow:  duration{time.Second},

			WSStatusInterval: duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"emergency_shutdown", "close_all_result", "position_emergency_close", "health_check_failed", "bot_error"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"trade":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, trade)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange. Credentials are only needed when trading.
	if c.Exchange.WSURL == "" {
		errs = append(errs, "exchange: ws_url must not be empty")
	}
	if c.Exchange.OrderbookDepth < 1 || c.Exchange.OrderbookDepth > 1000 {
		errs = append(errs, fmt.Sprintf("exchange: orderbook_depth must be 1-1000, got %d", c.Exchange.OrderbookDepth))
	}
	if c.IsTrade() {
		if c.Exchange.RESTURL == "" {
			errs = append(errs, "exchange: rest_url must not be empty for mode trade")
		}
		if c.Exchange.APIKey == "" {
			errs = append(errs, "exchange: api_key is required for mode trade")
		}
		if c.Exchange.APISecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for mode trade")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	} else if c.Market.MirrorToRedis {
		errs = append(errs, "market: mirror_to_redis requires redis.enabled")
	}

	// S3 is only needed when archiving.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.Retention.Duration <= 0 {
			errs = append(errs, "archive: retention must be > 0")
		}
	}

	// Market
	if len(c.Market.Symbols) == 0 {
		errs = append(errs, "market: at least one symbol is required")
	}
	if c.Market.SnapshotInterval.Duration <= 0 {
		errs = append(errs, "market: snapshot_interval must be > 0")
	}
	if c.Market.HistoryCapacity < 2 {
		errs = append(errs, "market: history_capacity must be >= 2")
	}
	d := c.Market.Defaults
	if d.DensityThresholdAbs <= 0 || d.DensityThresholdRelative <= 0 || d.DensityThresholdPercent <= 0 {
		errs = append(errs, "market.defaults: density thresholds must be > 0")
	}
	switch d.PreferredStrategy {
	case "breakout", "bounce", "both":
	default:
		errs = append(errs, fmt.Sprintf("market.defaults: preferred_strategy must be breakout, bounce or both, got %q", d.PreferredStrategy))
	}

	// Risk
	if c.Risk.ShortWindow.Duration >= c.Risk.LongWindow.Duration {
		errs = append(errs, "risk: short_window must be shorter than long_window")
	}

	// Safety
	if c.Safety.MaxLossPercent <= 0 || c.Safety.MaxLossPercent > 100 {
		errs = append(errs, fmt.Sprintf("safety: max_loss_percent must be in (0, 100], got %g", c.Safety.MaxLossPercent))
	}
	if c.Safety.MaxTotalExposurePercent < 0 || c.Safety.MaxPositionExposurePercent < 0 {
		errs = append(errs, "safety: exposure limits must be >= 0")
	}
	if t, p := c.Safety.MaxTotalExposurePercent, c.Safety.MaxPositionExposurePercent; t > 0 && p > t {
		errs = append(errs, fmt.Sprintf("safety: max_position_exposure_percent (%g) must not exceed max_total_exposure_percent (%g)", p, t))
	}
	if c.Safety.FetchRetry.MaxAttempts < 1 {
		errs = append(errs, "safety: fetch_retry.max_attempts must be >= 1")
	}
	if c.Safety.CloseRetry.MaxAttempts < 1 {
		errs = append(errs, "safety: close_retry.max_attempts must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		// Trade mode serves position-closing and safety routes.
		if c.IsTrade() && strings.TrimSpace(c.Server.APIKey) == "" {
			errs = append(errs, "server: api_key is required for mode trade")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsTrade reports whether the bot manages positions.
func (c *Config) IsTrade() bool { return strings.EqualFold(c.Mode, "trade") }

// NormalisedSymbols returns the configured symbols upper-cased, trimmed and
// de-duplicated, in their original order.
func (c *Config) NormalisedSymbols() []string {
	seen := make(map[string]bool, len(c.Market.Symbols))
	out := make([]string, 0, len(c.Market.Symbols))
	for _, s := range c.Market.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
