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
// built-in defaults, applies SALVAGE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
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

	return &cfg, nil
}

// applyEnvOverrides reads well-known SALVAGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SALVAGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "SALVAGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SALVAGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SALVAGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SALVAGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SALVAGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SALVAGE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SALVAGE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SALVAGE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SALVAGE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SALVAGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SALVAGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SALVAGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SALVAGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SALVAGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SALVAGE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SALVAGE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SALVAGE_S3_REGION")
	setStr(&cfg.S3.Bucket, "SALVAGE_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "SALVAGE_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "SALVAGE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SALVAGE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SALVAGE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SALVAGE_S3_FORCE_PATH_STYLE")

	// ── Auction and bidding ──
	setDuration(&cfg.Auction.Duration, "SALVAGE_AUCTION_DURATION")
	setMoney(&cfg.Auction.MinimumIncrement, "SALVAGE_AUCTION_MINIMUM_INCREMENT")
	setInt(&cfg.Auction.ExtensionCap, "SALVAGE_AUCTION_EXTENSION_CAP")
	setDuration(&cfg.Bid.LockWait, "SALVAGE_BID_LOCK_WAIT")
	setInt(&cfg.Bid.RateLimit, "SALVAGE_BID_RATE_LIMIT")

	// ── Settlement ──
	setStr(&cfg.Settlement.Mode, "SALVAGE_SETTLEMENT_MODE")
	setDuration(&cfg.Settlement.PaymentWindow, "SALVAGE_SETTLEMENT_PAYMENT_WINDOW")
	setDuration(&cfg.Settlement.PickupValidity, "SALVAGE_SETTLEMENT_PICKUP_VALIDITY")
	setStr(&cfg.Settlement.BeneficiaryRecipient, "SALVAGE_SETTLEMENT_BENEFICIARY_RECIPIENT")

	// ── Fraud ──
	setStringSlice(&cfg.Fraud.Disabled, "SALVAGE_FRAUD_DISABLED")

	// ── Gateway ──
	setStr(&cfg.Gateway.BaseURL, "SALVAGE_GATEWAY_BASE_URL")
	setStr(&cfg.Gateway.SecretKey, "SALVAGE_GATEWAY_SECRET_KEY")
	setStr(&cfg.Gateway.WebhookSecret, "SALVAGE_GATEWAY_WEBHOOK_SECRET")

	// ── Notify ──
	setStr(&cfg.Notify.Telegram.Token, "SALVAGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.Telegram.ChatID, "SALVAGE_NOTIFY_TELEGRAM_CHAT_ID")
	setInt(&cfg.Notify.Workers, "SALVAGE_NOTIFY_WORKERS")

	// ── Admin ──
	setStr(&cfg.Admin.JWTSecret, "SALVAGE_ADMIN_JWT_SECRET")
	setInt(&cfg.Admin.MinJustification, "SALVAGE_ADMIN_MIN_JUSTIFICATION")

	// ── Scheduler ──
	setStr(&cfg.Scheduler.ArchiveCron, "SALVAGE_SCHEDULER_ARCHIVE_CRON")

	// ── Server ──
	setInt(&cfg.Server.Port, "SALVAGE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SALVAGE_SERVER_CORS_ORIGINS")
	setStringSlice(&cfg.Server.APIKeys, "SALVAGE_SERVER_API_KEYS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SALVAGE_MODE")
	setStr(&cfg.LogLevel, "SALVAGE_LOG_LEVEL")
	setStr(&cfg.Store, "SALVAGE_STORE")
	setStr(&cfg.Cache, "SALVAGE_CACHE")
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

func setMoney(dst *money, key string) {
	if v := os.Getenv(key); v != "" {
		var m money
		if err := m.UnmarshalText([]byte(v)); err == nil {
			*dst = m
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
