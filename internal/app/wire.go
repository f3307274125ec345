package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/winder87-stack/SuperSignal-sub000/internal/blob/s3"
	"github.com/winder87-stack/SuperSignal-sub000/internal/cache/redis"
	"github.com/winder87-stack/SuperSignal-sub000/internal/config"
	"github.com/winder87-stack/SuperSignal-sub000/internal/crypto"
	"github.com/winder87-stack/SuperSignal-sub000/internal/domain"
	"github.com/winder87-stack/SuperSignal-sub000/internal/executor"
	"github.com/winder87-stack/SuperSignal-sub000/internal/notify"
	"github.com/winder87-stack/SuperSignal-sub000/internal/platform/hyperliquid"
	"github.com/winder87-stack/SuperSignal-sub000/internal/platform/paper"
	"github.com/winder87-stack/SuperSignal-sub000/internal/server/handler"
	"github.com/winder87-stack/SuperSignal-sub000/internal/store/postgres"
)

// Dependencies bundles everything the modes need. It is constructed by Wire
// and torn down by the returned cleanup function. Optional backends are nil
// when disabled.
type Dependencies struct {
	// Exchange is always present; it is read-only unless a key is loaded.
	Exchange *hyperliquid.Client
	// Paper is the simulated exchange in paper mode.
	Paper *paper.Gateway
	// Gateway is what the engine trades against: Paper or Exchange.
	Gateway executor.Gateway
	// Prices prices manual closes.
	Prices handler.PriceSource
	// Account is the address whose positions are managed.
	Account string

	// Stores
	TradeStore domain.TradeStore
	AuditStore domain.AuditStore

	// Caches
	LockManager      domain.LockManager
	SignalBus        domain.SignalBus
	RateLimiter      domain.RateLimiter
	PositionSnapshot *redis.PositionSnapshot

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Checks are the dependency probes reported by /api/health.
	Checks map[string]handler.Check
}

// needsSigner returns true for modes that place orders on the exchange.
func needsSigner(mode string) bool {
	return mode == "trade"
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Exchange ---
	var signer *crypto.Signer
	if needsSigner(cfg.Mode) {
		key, err := crypto.LoadKey(cfg.Account.KeyConfig())
		if err != nil {
			return fail(fmt.Errorf("wire: load key: %w", err))
		}
		signer, err = crypto.NewSigner(key, hyperliquid.IsMainnet(cfg.Exchange.BaseURL))
		if err != nil {
			return fail(fmt.Errorf("wire: signer: %w", err))
		}
		logger.InfoContext(ctx, "signer loaded",
			slog.String("signer", signer.Address().Hex()),
			slog.Bool("mainnet", hyperliquid.IsMainnet(cfg.Exchange.BaseURL)),
		)
	}
	deps.Exchange = hyperliquid.NewClient(hyperliquid.Config{
		BaseURL:           cfg.Exchange.BaseURL,
		Vault:             cfg.Account.Vault,
		RequestsPerSecond: cfg.Exchange.RequestsPerSecond,
		Burst:             cfg.Exchange.Burst,
		Timeout:           cfg.Exchange.Timeout.Duration,
	}, signer, logger)

	if cfg.Mode == "paper" {
		deps.Paper = paper.NewGateway(cfg.Paper.Balance, cfg.Paper.FeeRate, logger)
		deps.Gateway = deps.Paper
		deps.Prices = deps.Paper
		deps.Account = "paper"
	} else {
		deps.Gateway = deps.Exchange
		deps.Prices = deps.Exchange
		deps.Account = cfg.Account.Address
		if cfg.Account.Vault != "" {
			deps.Account = cfg.Account.Vault
		}
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.PositionSnapshot = redis.NewPositionSnapshot(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 archive (requires Postgres, enforced by config validation) ---
	if cfg.S3.Enabled && deps.TradeStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3Client,
			deps.TradeStore,
			deps.AuditStore,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
