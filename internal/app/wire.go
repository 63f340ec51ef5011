package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/densitybot/internal/blob/s3"
	"github.com/alanyoungcy/densitybot/internal/cache/redis"
	"github.com/alanyoungcy/densitybot/internal/config"
	"github.com/alanyoungcy/densitybot/internal/crypto"
	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/notify"
	"github.com/alanyoungcy/densitybot/internal/platform/bybit"
	"github.com/alanyoungcy/densitybot/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function. Redis, S3 and exchange fields are nil when the
// corresponding backend is not configured.
type Dependencies struct {
	// Stores
	ParamsStore   *postgres.ParamsStore
	DensityStore  *postgres.DensityStore
	SnapshotStore *postgres.SnapshotStore
	TradeStore    *postgres.TradeStore
	EventStore    *postgres.EventStore

	// Caches
	ParamsCache *redis.ParamsCache
	BookMirror  *redis.OrderbookCache
	LockManager *redis.LockManager
	EventBus    *redis.EventBus
	APILimiter  *redis.RateLimiter

	// Blob storage
	BlobReader *s3blob.Reader
	Archiver   *s3blob.ArchiveImpl

	// Exchange is the authenticated REST client; set in trade mode only.
	Exchange *bybit.RESTClient

	// Notifications
	Notifier *notify.Notifier

	// StoreHealth is the persistence check the safety governor counts
	// failures against.
	StoreHealth domain.HealthChecker

	// HealthCheckers are pinged by GET /api/health.
	HealthCheckers map[string]domain.HealthChecker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthCheckers: make(map[string]domain.HealthChecker)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.HealthCheckers["postgres"] = pgClient
	deps.StoreHealth = pgClient

	if cfg.Postgres.RunMigrations {
		applied, err := pgClient.RunMigrations(ctx)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("applied migrations", slog.Any("files", applied))
		}
	}

	pool := pgClient.Pool()
	deps.ParamsStore = postgres.NewParamsStore(pool)
	deps.DensityStore = postgres.NewDensityStore(pool)
	deps.SnapshotStore = postgres.NewSnapshotStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.EventStore = postgres.NewEventStore(pool)

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.HealthCheckers["redis"] = redisClient

		deps.ParamsCache = redis.NewParamsCache(redisClient)
		if cfg.Market.MirrorToRedis {
			deps.BookMirror = redis.NewOrderbookCache(redisClient, cfg.Market.MirrorTTL.Duration)
		}
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.EventBus = redis.NewEventBus(redisClient)
		deps.APILimiter = redis.NewRateLimiter(redisClient, cfg.Exchange.RequestsPerSecond, time.Second)
	}

	// --- S3 blob storage (only when archiving) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			CreateBucket:   cfg.S3.CreateBucket,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.HealthCheckers["s3"] = s3Client

		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.SnapshotStore, deps.DensityStore, logger)
	}

	// --- Exchange (trade mode only) ---
	if cfg.IsTrade() {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Exchange.APISecret,
			EncryptedSecretPath: cfg.Exchange.EncryptedSecretPath,
			Password:            cfg.Exchange.SecretPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: exchange secret: %w", err)
		}
		rest := bybit.NewRESTClient(bybit.RESTConfig{
			BaseURL:    cfg.Exchange.RESTURL,
			Category:   cfg.Exchange.Category,
			SettleCoin: cfg.Exchange.SettleCoin,
			Timeout:    cfg.Exchange.Timeout.Duration,
		}, &crypto.HMACAuth{
			Key:        cfg.Exchange.APIKey,
			Secret:     secret,
			RecvWindow: cfg.Exchange.RecvWindow,
		})
		if deps.APILimiter != nil {
			rest.SetLimiter(deps.APILimiter)
		}
		deps.Exchange = rest
		deps.HealthCheckers["exchange"] = rest
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if n := notify.NewNotifier(senders, cfg.Notify.Events, logger); n.Enabled() {
		deps.Notifier = n
	}

	return deps, cleanup, nil
}
