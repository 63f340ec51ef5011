package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.IsTrade())
	assert.Equal(t, 50, cfg.Exchange.OrderbookDepth)
	assert.Equal(t, 10.0, cfg.Safety.MaxLossPercent)
	assert.Equal(t, 5*time.Minute, cfg.Market.SnapshotInterval.Duration)

	p := cfg.Market.Defaults.CoinParameters()
	assert.True(t, p.Enabled)
	assert.Equal(t, 50000.0, p.DensityThresholdAbs)
	assert.Equal(t, "both", p.PreferredStrategy)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := writeConfig(t, `
mode = "trade"

[exchange]
api_key = "file-key"
api_secret = "file-secret"
timeout = "3s"

[market]
symbols = ["btcusdt", "ethusdt", "BTCUSDT"]
snapshot_interval = "90s"

[market.defaults]
density_threshold_abs = 1000.0
density_threshold_relative = 2.0
density_threshold_percent = 4.0
preferred_strategy = "bounce"

[safety]
max_loss_percent = 5.0
`)
	t.Setenv("DENSITYBOT_EXCHANGE_API_KEY", "env-key")
	t.Setenv("DENSITYBOT_SERVER_API_KEY", "env-api")
	t.Setenv("DENSITYBOT_SAFETY_CHECK_INTERVAL", "10s")
	t.Setenv("DENSITYBOT_SERVER_PORT", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.IsTrade())
	assert.Equal(t, "env-key", cfg.Exchange.APIKey)
	assert.Equal(t, "file-secret", cfg.Exchange.APISecret)
	assert.Equal(t, 3*time.Second, cfg.Exchange.Timeout.Duration)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Market.Symbols)
	assert.Equal(t, 90*time.Second, cfg.Market.SnapshotInterval.Duration)
	assert.Equal(t, 1000.0, cfg.Market.Defaults.DensityThresholdAbs)
	assert.Equal(t, "bounce", cfg.Market.Defaults.PreferredStrategy)
	assert.Equal(t, 0.5, cfg.Market.Defaults.ClusterRangePercent, "unset keys keep their defaults")
	assert.Equal(t, 5.0, cfg.Safety.MaxLossPercent)
	assert.Equal(t, 10*time.Second, cfg.Safety.CheckInterval.Duration)
	assert.Equal(t, 8000, cfg.Server.Port, "unparsable overrides are ignored")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeConfig(t, "[risk]\ncheck_interval = \"soon\"\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	t.Setenv("DENSITYBOT_MARKET_SYMBOLS", "solusdt, ,xrpusdt")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"SOLUSDT", "XRPUSDT"}, cfg.Market.Symbols)
	assert.Equal(t, "monitor", cfg.Mode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "paper" },
			wantErr: `unknown mode "paper"`,
		},
		{
			name:    "trade without credentials",
			mutate:  func(c *Config) { c.Mode = "trade" },
			wantErr: "api_key is required",
		},
		{
			name: "trade without server api key",
			mutate: func(c *Config) {
				c.Mode = "trade"
				c.Exchange.APIKey = "k"
				c.Exchange.APISecret = "s"
			},
			wantErr: "server: api_key is required for mode trade",
		},
		{
			name: "encrypted secret without password",
			mutate: func(c *Config) {
				c.Mode = "trade"
				c.Exchange.APIKey = "k"
				c.Exchange.EncryptedSecretPath = "/run/secret.enc"
			},
			wantErr: "secret_password is required",
		},
		{
			name:    "no symbols",
			mutate:  func(c *Config) { c.Market.Symbols = nil },
			wantErr: "at least one symbol",
		},
		{
			name:    "max loss out of range",
			mutate:  func(c *Config) { c.Safety.MaxLossPercent = 150 },
			wantErr: "max_loss_percent must be in (0, 100]",
		},
		{
			name: "position exposure above total",
			mutate: func(c *Config) {
				c.Safety.MaxTotalExposurePercent = 50
				c.Safety.MaxPositionExposurePercent = 60
			},
			wantErr: "must not exceed max_total_exposure_percent",
		},
		{
			name:    "mirror without redis",
			mutate:  func(c *Config) { c.Redis.Enabled = false },
			wantErr: "mirror_to_redis requires redis.enabled",
		},
		{
			name:    "bad strategy",
			mutate:  func(c *Config) { c.Market.Defaults.PreferredStrategy = "scalp" },
			wantErr: "preferred_strategy",
		},
		{
			name:    "inverted slowdown windows",
			mutate:  func(c *Config) { c.Risk.ShortWindow = duration{time.Minute} },
			wantErr: "short_window must be shorter",
		},
		{
			name: "archive without bucket",
			mutate: func(c *Config) {
				c.Archive.Enabled = true
				c.S3.Bucket = ""
			},
			wantErr: "s3: bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_TradeWithServerDisabledNeedsNoAPIKey(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Exchange.APIKey = "k"
	cfg.Exchange.APISecret = "s"
	cfg.Server.Enabled = false
	require.NoError(t, cfg.Validate())

	cfg.Server.Enabled = true
	cfg.Server.APIKey = "api"
	require.NoError(t, cfg.Validate())
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Postgres.PoolMinConns = 50
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "pool_min_conns must not exceed")
	assert.Contains(t, err.Error(), "server: port")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Exchange.APIKey = "key"
	cfg.Exchange.APISecret = "secret"
	cfg.Postgres.DSN = "postgres://u:p@host/db"
	cfg.Notify.TelegramToken = "tg"
	cfg.Server.APIKey = "api"

	out := RedactedConfig(&cfg)
	assert.Equal(t, redacted, out.Exchange.APIKey)
	assert.Equal(t, redacted, out.Exchange.APISecret)
	assert.Equal(t, redacted, out.Postgres.DSN)
	assert.Equal(t, redacted, out.Notify.TelegramToken)
	assert.Equal(t, redacted, out.Server.APIKey)
	assert.Empty(t, out.Exchange.SecretPassword, "empty values stay empty")

	out.Market.Symbols[0] = "MUTATED"
	assert.Equal(t, "BTCUSDT", cfg.Market.Symbols[0])
	assert.Equal(t, "secret", cfg.Exchange.APISecret)
}
