package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DENSITYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Market.Symbols = cfg.NormalisedSymbols()

	return &cfg, nil
}

// applyEnvOverrides reads well-known DENSITYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RESTURL, "DENSITYBOT_EXCHANGE_REST_URL")
	setStr(&cfg.Exchange.WSURL, "DENSITYBOT_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.APIKey, "DENSITYBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.APISecret, "DENSITYBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "DENSITYBOT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "DENSITYBOT_EXCHANGE_SECRET_PASSWORD")
	setInt(&cfg.Exchange.RecvWindow, "DENSITYBOT_EXCHANGE_RECV_WINDOW")
	setStr(&cfg.Exchange.Category, "DENSITYBOT_EXCHANGE_CATEGORY")
	setStr(&cfg.Exchange.SettleCoin, "DENSITYBOT_EXCHANGE_SETTLE_COIN")
	setInt(&cfg.Exchange.OrderbookDepth, "DENSITYBOT_EXCHANGE_ORDERBOOK_DEPTH")
	setDuration(&cfg.Exchange.Timeout, "DENSITYBOT_EXCHANGE_TIMEOUT")
	setInt(&cfg.Exchange.RequestsPerSecond, "DENSITYBOT_EXCHANGE_REQUESTS_PER_SECOND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DENSITYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DENSITYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DENSITYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DENSITYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DENSITYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DENSITYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DENSITYBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DENSITYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DENSITYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DENSITYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "DENSITYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "DENSITYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DENSITYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DENSITYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DENSITYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DENSITYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DENSITYBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "DENSITYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DENSITYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "DENSITYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DENSITYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DENSITYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DENSITYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DENSITYBOT_S3_FORCE_PATH_STYLE")
	setBool(&cfg.S3.CreateBucket, "DENSITYBOT_S3_CREATE_BUCKET")

	// ── Market ──
	setStringSlice(&cfg.Market.Symbols, "DENSITYBOT_MARKET_SYMBOLS")
	setDuration(&cfg.Market.SnapshotInterval, "DENSITYBOT_MARKET_SNAPSHOT_INTERVAL")
	setInt(&cfg.Market.HistoryCapacity, "DENSITYBOT_MARKET_HISTORY_CAPACITY")
	setDuration(&cfg.Market.ParamsRefresh, "DENSITYBOT_MARKET_PARAMS_REFRESH")
	setBool(&cfg.Market.MirrorToRedis, "DENSITYBOT_MARKET_MIRROR_TO_REDIS")
	setDuration(&cfg.Market.MirrorTTL, "DENSITYBOT_MARKET_MIRROR_TTL")
	setFloat64(&cfg.Market.Defaults.DensityThresholdAbs, "DENSITYBOT_MARKET_DENSITY_THRESHOLD_ABS")
	setFloat64(&cfg.Market.Defaults.DensityThresholdRelative, "DENSITYBOT_MARKET_DENSITY_THRESHOLD_RELATIVE")
	setFloat64(&cfg.Market.Defaults.DensityThresholdPercent, "DENSITYBOT_MARKET_DENSITY_THRESHOLD_PERCENT")
	setStr(&cfg.Market.Defaults.PreferredStrategy, "DENSITYBOT_MARKET_PREFERRED_STRATEGY")

	// ── Risk ──
	setDuration(&cfg.Risk.CheckInterval, "DENSITYBOT_RISK_CHECK_INTERVAL")
	setFloat64(&cfg.Risk.SlowdownThreshold, "DENSITYBOT_RISK_SLOWDOWN_THRESHOLD")
	setFloat64(&cfg.Risk.ReversalMultiplier, "DENSITYBOT_RISK_REVERSAL_MULTIPLIER")

	// ── Safety ──
	setDuration(&cfg.Safety.CheckInterval, "DENSITYBOT_SAFETY_CHECK_INTERVAL")
	setFloat64(&cfg.Safety.MaxLossPercent, "DENSITYBOT_SAFETY_MAX_LOSS_PERCENT")
	setInt(&cfg.Safety.MaxConsecutiveFailures, "DENSITYBOT_SAFETY_MAX_CONSECUTIVE_FAILURES")
	setFloat64(&cfg.Safety.MaxTotalExposurePercent, "DENSITYBOT_SAFETY_MAX_TOTAL_EXPOSURE_PERCENT")
	setFloat64(&cfg.Safety.MaxPositionExposurePercent, "DENSITYBOT_SAFETY_MAX_POSITION_EXPOSURE_PERCENT")
	setDuration(&cfg.Safety.LockTTL, "DENSITYBOT_SAFETY_LOCK_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "DENSITYBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Retention, "DENSITYBOT_ARCHIVE_RETENTION")
	setDuration(&cfg.Archive.Interval, "DENSITYBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "DENSITYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "DENSITYBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DENSITYBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "DENSITYBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "DENSITYBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DENSITYBOT_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.WSStatusInterval, "DENSITYBOT_SERVER_WS_STATUS_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DENSITYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DENSITYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "DENSITYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "DENSITYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DENSITYBOT_MODE")
	setStr(&cfg.LogLevel, "DENSITYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
