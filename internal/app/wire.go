package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	s3blob "github.com/alanyoungcy/salvagebid/internal/blob/s3"
	"github.com/alanyoungcy/salvagebid/internal/cache/local"
	"github.com/alanyoungcy/salvagebid/internal/cache/redis"
	"github.com/alanyoungcy/salvagebid/internal/config"
	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/metrics"
	"github.com/alanyoungcy/salvagebid/internal/notify"
	"github.com/alanyoungcy/salvagebid/internal/platform/paystack"
	"github.com/alanyoungcy/salvagebid/internal/server/handler"
	"github.com/alanyoungcy/salvagebid/internal/store/memory"
	"github.com/alanyoungcy/salvagebid/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	Auctions domain.AuctionStore
	Bids     domain.BidStore
	Vendors  domain.VendorStore
	Cases    domain.CaseStore
	Wallets  domain.WalletStore
	Payments domain.PaymentStore
	Fraud    domain.FraudStore
	Audit    domain.AuditStore

	// Coordination
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Limiter domain.RateLimiter
	Cache   domain.AuctionCache

	// Archiver is nil when no bucket is configured.
	Archiver domain.Archiver
	// Gateway is nil when no Paystack secret key is configured.
	Gateway  domain.PaymentGateway
	Notifier *notify.Gateway

	Metrics        *metrics.Instruments
	MetricsHandler http.Handler
	Checks         map[string]handler.Pinger
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

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- Metrics ---
	metricsHandler, shutdownMetrics, err := metrics.Setup()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	closers = append(closers, func() { _ = shutdownMetrics(context.Background()) })
	deps.MetricsHandler = metricsHandler
	deps.Metrics = metrics.Default()

	// --- Stores ---
	switch cfg.Store {
	case "postgres":
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

		s := pgClient.Stores()
		deps.Auctions, deps.Bids, deps.Vendors, deps.Cases = s.Auctions, s.Bids, s.Vendors, s.Cases
		deps.Wallets, deps.Payments, deps.Fraud, deps.Audit = s.Wallets, s.Payments, s.Fraud, s.Audit
		deps.Checks["postgres"] = pgClient.Pool().Ping
	case "memory":
		logger.Warn("wire: using in-memory store, data is lost on exit")
		db := memory.NewDB()
		deps.Auctions, deps.Bids, deps.Vendors, deps.Cases = db.Auctions(), db.Bids(), db.Vendors(), db.Cases()
		deps.Wallets, deps.Payments, deps.Fraud, deps.Audit = db.Wallets(), db.Payments(), db.Fraud(), db.Audit()
	default:
		return fail(fmt.Errorf("wire: unsupported store %q", cfg.Store))
	}

	// --- Locks, bus, limiter, snapshot cache ---
	switch cfg.Cache {
	case "redis":
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Bid.RateLimit, cfg.Bid.RateWindow.Duration)
		deps.Cache = redis.NewAuctionCache(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	case "local":
		deps.Locks = local.NewLockManager()
		deps.Bus = local.NewSignalBus(0)
		deps.Limiter = local.NewRateLimiter(cfg.Bid.RateLimit, cfg.Bid.RateWindow.Duration)
		deps.Cache = local.NewAuctionCache()
	default:
		return fail(fmt.Errorf("wire: unsupported cache %q", cfg.Cache))
	}

	// --- S3 archive (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			Prefix:         cfg.S3.Prefix,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Encrypt:        cfg.S3.Encrypt,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewStore(s3Client), deps.Auctions, deps.Bids, deps.Wallets, deps.Audit)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Payment gateway (optional) ---
	if cfg.Gateway.SecretKey != "" {
		deps.Gateway = paystack.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey)
	}

	// --- Notifications ---
	deps.Notifier = notify.NewGateway(cfg.Notify.DefaultPolicy, cfg.Notify.TemplatePolicies, logger)
	for channel, p := range cfg.Notify.Providers {
		if p.URL == "" {
			continue
		}
		deps.Notifier.Register(channel, notify.NewWebhookSender(channel, p.URL, p.Token))
	}
	if tg := cfg.Notify.Telegram; tg.Token != "" && tg.ChatID != "" {
		deps.Notifier.Register(notify.ChannelOps, notify.NewTelegramSender(tg.BaseURL, tg.Token, tg.ChatID))
	} else {
		logger.Warn("wire: telegram not configured, ops notifications will degrade")
	}

	return deps, cleanup, nil
}
