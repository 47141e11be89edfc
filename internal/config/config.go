// Package config defines the top-level configuration for the auction core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/notify"
	"github.com/alanyoungcy/salvagebid/internal/pipeline"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SALVAGE_* environment variables.
type Config struct {
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
	Store      string           `toml:"store"`
	Cache      string           `toml:"cache"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Auction    AuctionConfig    `toml:"auction"`
	Bid        BidConfig        `toml:"bid"`
	Tiers      map[string]money `toml:"tiers"`
	Settlement SettlementConfig `toml:"settlement"`
	Fraud      FraudConfig      `toml:"fraud"`
	Notify     NotifyConfig     `toml:"notify"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Admin      AdminConfig      `toml:"admin"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Server     ServerConfig     `toml:"server"`
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the archive bucket. Archiving is off when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Encrypt        bool   `toml:"encrypt"`
}

// AuctionConfig holds auction timing and increment rules.
type AuctionConfig struct {
	Duration           duration `toml:"duration"`
	MinimumIncrement   money    `toml:"minimum_increment"`
	ExtensionWindow    duration `toml:"extension_window"`
	ExtensionIncrement duration `toml:"extension_increment"`
	ExtensionCap       int      `toml:"extension_cap"`
	// SettleLookback bounds the straggler sweep for closed auctions without
	// a payment.
	SettleLookback duration `toml:"settle_lookback"`
}

// BidConfig holds bid-path concurrency and throttling.
type BidConfig struct {
	LockWait        duration `toml:"lock_wait"`
	LockTTL         duration `toml:"lock_ttl"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	BroadcastBudget duration `toml:"broadcast_budget"`
	OutbidBudget    duration `toml:"outbid_budget"`
}

// SettlementConfig holds payment and release parameters.
type SettlementConfig struct {
	Mode                 string   `toml:"mode"`
	PaymentWindow        duration `toml:"payment_window"`
	PickupValidity       duration `toml:"pickup_validity"`
	BeneficiaryRecipient string   `toml:"beneficiary_recipient"`
	TransferMaxElapsed   duration `toml:"transfer_max_elapsed"`
}

// FraudConfig holds detection thresholds.
type FraudConfig struct {
	JumpMultiple      money    `toml:"jump_multiple"`
	AlternationMin    int      `toml:"alternation_min"`
	AlternationWindow duration `toml:"alternation_window"`
	Disabled          []string `toml:"disabled"`
}

// ProviderConfig is one outbound channel backed by an HTTP webhook.
type ProviderConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// TelegramConfig routes ops notifications to a chat.
type TelegramConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
	ChatID  string `toml:"chat_id"`
}

// NotifyConfig holds channel policies, providers and dispatcher tuning.
type NotifyConfig struct {
	DefaultPolicy    notify.ChannelPolicy            `toml:"default_policy"`
	TemplatePolicies map[string]notify.ChannelPolicy `toml:"template_policies"`
	// Providers maps a channel name (push, sms, email) to its webhook.
	Providers    map[string]ProviderConfig `toml:"providers"`
	Telegram     TelegramConfig            `toml:"telegram"`
	Workers      int                       `toml:"workers"`
	BatchSize    int                       `toml:"batch_size"`
	PollInterval duration                  `toml:"poll_interval"`
	Backlog      duration                  `toml:"backlog"`
}

// GatewayConfig holds the Paystack credentials.
type GatewayConfig struct {
	BaseURL   string `toml:"base_url"`
	SecretKey string `toml:"secret_key"`
	// WebhookSecret verifies wallet funding notifications.
	WebhookSecret string `toml:"webhook_secret"`
}

// AdminConfig holds admin authentication and command policy.
type AdminConfig struct {
	JWTSecret        string `toml:"jwt_secret"`
	MinJustification int    `toml:"min_justification"`
}

// SchedulerConfig holds background scan intervals.
type SchedulerConfig struct {
	ActivateInterval  duration `toml:"activate_interval"`
	CloseInterval     duration `toml:"close_interval"`
	OverdueInterval   duration `toml:"overdue_interval"`
	TransferInterval  duration `toml:"transfer_interval"`
	ReconcileInterval duration `toml:"reconcile_interval"`
	// ArchiveCron is a five-field cron expression; empty disables archiving.
	ArchiveCron string `toml:"archive_cron"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKeys     []string `toml:"api_keys"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
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

// money decodes naira amounts written as TOML strings ("10000.50").
type money struct {
	decimal.Decimal
}

func (m *money) UnmarshalText(text []byte) error {
	d, err := decimal.NewFromString(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", text, err)
	}
	m.Decimal = d
	return nil
}

func (m money) MarshalText() ([]byte, error) {
	return []byte(m.Decimal.String()), nil
}

func naira(n int64) money { return money{decimal.NewFromInt(n)} }

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Store:    "postgres",
		Cache:    "redis",
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "salvagebid",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Prefix:         "salvagebid",
			ForcePathStyle: true,
			Encrypt:        true,
		},
		Auction: AuctionConfig{
			Duration:           duration{5 * 24 * time.Hour},
			MinimumIncrement:   naira(10000),
			ExtensionWindow:    duration{5 * time.Minute},
			ExtensionIncrement: duration{5 * time.Minute},
			ExtensionCap:       3,
			SettleLookback:     duration{7 * 24 * time.Hour},
		},
		Bid: BidConfig{
			LockWait:        duration{2 * time.Second},
			LockTTL:         duration{10 * time.Second},
			RateLimit:       10,
			RateWindow:      duration{time.Minute},
			BroadcastBudget: duration{2 * time.Second},
			OutbidBudget:    duration{5 * time.Second},
		},
		Tiers: map[string]money{
			string(domain.VendorTier1): naira(500000),
			string(domain.VendorTier2): naira(0),
		},
		Settlement: SettlementConfig{
			Mode:               string(domain.SettlementEscrow),
			PaymentWindow:      duration{24 * time.Hour},
			PickupValidity:     duration{7 * 24 * time.Hour},
			TransferMaxElapsed: duration{2 * time.Minute},
		},
		Fraud: FraudConfig{
			JumpMultiple:      naira(3),
			AlternationMin:    4,
			AlternationWindow: duration{10 * time.Minute},
		},
		Notify: NotifyConfig{
			DefaultPolicy: notify.DefaultPolicy(),
			Telegram:      TelegramConfig{BaseURL: "https://api.telegram.org"},
			Workers:       4,
			BatchSize:     64,
			PollInterval:  duration{250 * time.Millisecond},
			Backlog:       duration{5 * time.Minute},
		},
		Gateway: GatewayConfig{
			BaseURL: "https://api.paystack.co",
		},
		Admin: AdminConfig{
			MinJustification: 20,
		},
		Scheduler: SchedulerConfig{
			ActivateInterval:  duration{30 * time.Second},
			CloseInterval:     duration{30 * time.Second},
			OverdueInterval:   duration{5 * time.Minute},
			TransferInterval:  duration{time.Minute},
			ReconcileInterval: duration{time.Hour},
			ArchiveCron:       "0 3 * * *",
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   600,
			RateWindow:  duration{time.Minute},
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPatterns = map[domain.FraudPattern]bool{
	domain.PatternSameIP:            true,
	domain.PatternUnusualJump:       true,
	domain.PatternDuplicateIdentity: true,
	domain.PatternRapidAlternation:  true,
}

var validChannels = map[string]bool{
	notify.ChannelPush:  true,
	notify.ChannelSMS:   true,
	notify.ChannelEmail: true,
	notify.ChannelOps:   true,
}

var validTemplates = map[domain.NotificationTemplate]bool{
	domain.TemplateAuctionCreated:  true,
	domain.TemplateOutbid:          true,
	domain.TemplateAuctionWon:      true,
	domain.TemplatePaymentDue:      true,
	domain.TemplatePaymentVerified: true,
	domain.TemplatePaymentOverdue:  true,
	domain.TemplatePickupIssued:    true,
	domain.TemplateFraudAlert:      true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: api, worker, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	switch c.Store {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		add("unknown store %q (valid: postgres, memory)", c.Store)
	}

	switch c.Cache {
	case "local":
		if strings.ToLower(c.Mode) != "full" {
			add("cache: local cache only works in full mode, api and worker processes must share redis")
		}
	case "redis":
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	default:
		add("unknown cache %q (valid: redis, local)", c.Cache)
	}

	if c.S3.Bucket != "" && c.Scheduler.ArchiveCron == "" {
		add("scheduler: archive_cron must be set when s3.bucket is configured")
	}
	if c.Scheduler.ArchiveCron != "" {
		if _, err := pipeline.ParseSchedule(c.Scheduler.ArchiveCron); err != nil {
			add("scheduler: archive_cron: %v", err)
		}
	}

	if c.Auction.Duration.Duration <= 0 {
		add("auction: duration must be > 0")
	}
	if !c.Auction.MinimumIncrement.IsPositive() {
		add("auction: minimum_increment must be > 0")
	}
	if c.Auction.ExtensionWindow.Duration <= 0 || c.Auction.ExtensionIncrement.Duration <= 0 {
		add("auction: extension_window and extension_increment must be > 0")
	}
	if c.Auction.ExtensionCap < 0 {
		add("auction: extension_cap must be >= 0")
	}

	if c.Bid.LockWait.Duration <= 0 {
		add("bid: lock_wait must be > 0")
	}
	if c.Bid.LockTTL.Duration < c.Bid.LockWait.Duration {
		add("bid: lock_ttl must be >= lock_wait")
	}
	if c.Bid.RateLimit < 0 {
		add("bid: rate_limit must be >= 0")
	}

	for tier, ceiling := range c.Tiers {
		if tier != string(domain.VendorTier1) && tier != string(domain.VendorTier2) {
			add("tiers: unknown tier %q", tier)
		}
		if ceiling.IsNegative() {
			add("tiers: %s ceiling must be >= 0", tier)
		}
	}

	switch domain.SettlementMode(c.Settlement.Mode) {
	case domain.SettlementEscrow, domain.SettlementGateway:
	default:
		add("settlement: unknown mode %q (valid: escrow, gateway)", c.Settlement.Mode)
	}
	if c.Settlement.PaymentWindow.Duration <= 0 {
		add("settlement: payment_window must be > 0")
	}
	if c.Settlement.PickupValidity.Duration <= 0 {
		add("settlement: pickup_validity must be > 0")
	}
	if c.Settlement.BeneficiaryRecipient != "" && c.Gateway.SecretKey == "" {
		add("gateway: secret_key is required when settlement.beneficiary_recipient is set")
	}
	if domain.SettlementMode(c.Settlement.Mode) == domain.SettlementGateway && c.Gateway.SecretKey == "" {
		add("gateway: secret_key is required in gateway settlement mode")
	}

	if !c.Fraud.JumpMultiple.GreaterThan(decimal.NewFromInt(1)) {
		add("fraud: jump_multiple must be > 1")
	}
	if c.Fraud.AlternationMin < 2 {
		add("fraud: alternation_min must be >= 2")
	}
	for _, p := range c.Fraud.Disabled {
		if !validPatterns[domain.FraudPattern(p)] {
			add("fraud: unknown pattern %q in disabled", p)
		}
	}

	c.validatePolicy("notify.default_policy", c.Notify.DefaultPolicy, add)
	for tpl, p := range c.Notify.TemplatePolicies {
		if !validTemplates[domain.NotificationTemplate(tpl)] {
			add("notify: unknown template %q in template_policies", tpl)
		}
		c.validatePolicy("notify.template_policies."+tpl, p, add)
	}
	for ch, p := range c.Notify.Providers {
		if !validChannels[ch] || ch == notify.ChannelOps {
			add("notify: unknown provider channel %q (valid: push, sms, email)", ch)
		}
		if p.URL == "" {
			add("notify: provider %s needs a url", ch)
		}
	}
	if (c.Notify.Telegram.Token == "") != (c.Notify.Telegram.ChatID == "") {
		add("notify: telegram token and chat_id must be set together")
	}
	if c.Notify.Workers < 1 {
		add("notify: workers must be >= 1")
	}

	if c.Admin.JWTSecret != "" && len(c.Admin.JWTSecret) < 32 {
		add("admin: jwt_secret must be at least 32 bytes")
	}
	if c.Admin.MinJustification < 1 {
		add("admin: min_justification must be >= 1")
	}

	for name, d := range map[string]duration{
		"activate_interval":  c.Scheduler.ActivateInterval,
		"close_interval":     c.Scheduler.CloseInterval,
		"overdue_interval":   c.Scheduler.OverdueInterval,
		"transfer_interval":  c.Scheduler.TransferInterval,
		"reconcile_interval": c.Scheduler.ReconcileInterval,
	} {
		if d.Duration <= 0 {
			add("scheduler: %s must be > 0", name)
		}
	}

	if c.Mode != "worker" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		add("server: port must be 1-65535, got %d", c.Server.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validatePolicy(name string, p notify.ChannelPolicy, add func(string, ...any)) {
	if p.Primary == "" {
		add("%s: primary channel must be set", name)
	}
	for _, ch := range append([]string{p.Primary}, p.Fallbacks...) {
		if ch != "" && !validChannels[ch] {
			add("%s: unknown channel %q", name, ch)
		}
	}
}

// TierCeilings converts the tier table to its domain form.
func (c *Config) TierCeilings() domain.TierCeilings {
	out := make(domain.TierCeilings, len(c.Tiers))
	for tier, ceiling := range c.Tiers {
		out[domain.VendorTier(tier)] = ceiling.Decimal
	}
	return out
}

// Extension returns the anti-sniping policy.
func (c *Config) Extension() domain.ExtensionPolicy {
	return domain.ExtensionPolicy{
		Window:    c.Auction.ExtensionWindow.Duration,
		Increment: c.Auction.ExtensionIncrement.Duration,
		Cap:       c.Auction.ExtensionCap,
	}
}
