// Package config defines the engine configuration: a TOML file decoded over
// Defaults, then SUPERSIGNAL_* environment overrides, then Validate.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure.
type Config struct {
	Account  AccountConfig  `toml:"account"`
	Exchange ExchangeConfig `toml:"exchange"`
	Engine   EngineConfig   `toml:"engine"`
	Signal   SignalConfig   `toml:"signal"`
	Risk     RiskConfig     `toml:"risk"`
	Paper    PaperConfig    `toml:"paper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AccountConfig identifies the traded account and where its signing key
// comes from. PrivateKey wins over KeystorePath.
type AccountConfig struct {
	Address          string `toml:"address"`
	Vault            string `toml:"vault"`
	PrivateKey       string `toml:"private_key"`
	KeystorePath     string `toml:"keystore_path"`
	KeystorePassword string `toml:"keystore_password"`
}

// HasKey reports whether a signing key source is configured.
func (a AccountConfig) HasKey() bool { return a.PrivateKey != "" || a.KeystorePath != "" }

// ExchangeConfig holds the exchange endpoint and the traded universe.
type ExchangeConfig struct {
	BaseURL           string   `toml:"base_url"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	Timeout           duration `toml:"timeout"`
	Instruments       []string `toml:"instruments"`
	Interval          string   `toml:"interval"`
}

// EngineConfig tunes order execution and stop management.
type EngineConfig struct {
	EntryTimeout       duration `toml:"entry_timeout"`
	VerifyTimeout      duration `toml:"verify_timeout"`
	Slippage           float64  `toml:"slippage"`
	TrailATRMultiplier float64  `toml:"trail_atr_multiplier"`
	Deadband           float64  `toml:"deadband"`
	RollbackAttempts   int      `toml:"rollback_attempts"`
	RollbackBackoff    duration `toml:"rollback_backoff"`
	QueueSize          int      `toml:"queue_size"`
	DedupTTL           duration `toml:"dedup_ttl"`
	EventQueueSize     int      `toml:"event_queue_size"`
}

// SignalConfig holds the stochastic and ATR parameters.
type SignalConfig struct {
	KPeriod       int      `toml:"k_period"`
	SlowKPeriod   int      `toml:"slow_k_period"`
	SlowDPeriod   int      `toml:"slow_d_period"`
	ATRPeriod     int      `toml:"atr_period"`
	Oversold      float64  `toml:"oversold"`
	Overbought    float64  `toml:"overbought"`
	Midpoint      float64  `toml:"midpoint"`
	StopATR       float64  `toml:"stop_atr"`
	TakeProfitATR float64  `toml:"take_profit_atr"`
	Cooldown      duration `toml:"cooldown"`
	HistorySize   int      `toml:"history_size"`
	// WarmupBars is how many closed candles are fetched before trading.
	WarmupBars int `toml:"warmup_bars"`
}

// RiskConfig holds position sizing and exposure limits.
type RiskConfig struct {
	RiskPct      float64 `toml:"risk_pct"`
	MaxLeverage  float64 `toml:"max_leverage"`
	MinNotional  float64 `toml:"min_notional"`
	MaxPositions int     `toml:"max_positions"`
	MaxExposure  float64 `toml:"max_exposure"`
}

// PaperConfig seeds the simulated account used in paper mode.
type PaperConfig struct {
	Balance float64 `toml:"balance"`
	FeeRate float64 `toml:"fee_rate"`
}

// PostgresConfig holds the trade history database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
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

// RedisConfig holds the event bus and account lock parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	LockTTL      duration `toml:"lock_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds the trade archive bucket and schedule.
type S3Config struct {
	Enabled         bool     `toml:"enabled"`
	Endpoint        string   `toml:"endpoint"`
	Region          string   `toml:"region"`
	Bucket          string   `toml:"bucket"`
	AccessKey       string   `toml:"access_key"`
	SecretKey       string   `toml:"secret_key"`
	UseSSL          bool     `toml:"use_ssl"`
	ForcePathStyle  bool     `toml:"force_path_style"`
	Prefix          string   `toml:"prefix"`
	RetentionDays   int      `toml:"retention_days"`
	ArchiveInterval duration `toml:"archive_interval"`
}

// ServerConfig holds HTTP API parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Addr            string   `toml:"addr"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials. Events filters
// non-critical notifications; empty sends all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig toggles the Prometheus endpoint on the API server.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// duration wraps time.Duration so TOML strings like "5m" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the production defaults; config.example.toml documents
// the same values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			BaseURL:           "https://api.hyperliquid.xyz",
			RequestsPerSecond: 10,
			Burst:             20,
			Timeout:           duration{10 * time.Second},
			Instruments:       []string{"BTC", "ETH"},
			Interval:          "15m",
		},
		Engine: EngineConfig{
			EntryTimeout:       duration{10 * time.Second},
			VerifyTimeout:      duration{10 * time.Second},
			Slippage:           0.05,
			TrailATRMultiplier: 1.5,
			Deadband:           0.001,
			RollbackAttempts:   3,
			RollbackBackoff:    duration{time.Second},
			QueueSize:          64,
			DedupTTL:           duration{24 * time.Hour},
			EventQueueSize:     1024,
		},
		Signal: SignalConfig{
			KPeriod:       14,
			SlowKPeriod:   3,
			SlowDPeriod:   3,
			ATRPeriod:     14,
			Oversold:      20,
			Overbought:    80,
			Midpoint:      50,
			StopATR:       2,
			TakeProfitATR: 4,
			Cooldown:      duration{4 * time.Hour},
			HistorySize:   300,
			WarmupBars:    200,
		},
		Risk: RiskConfig{
			RiskPct:      0.01,
			MaxLeverage:  5,
			MinNotional:  10,
			MaxPositions: 3,
		},
		Paper: PaperConfig{
			Balance: 10_000,
			FeeRate: 0.00035,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "supersignal",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			MaxRetries:   3,
			KeyPrefix:    "supersignal:",
			LockTTL:      duration{30 * time.Second},
			StreamMaxLen: 10_000,
		},
		S3: S3Config{
			Region:          "us-east-1",
			Bucket:          "supersignal-archive",
			UseSSL:          true,
			ForcePathStyle:  true,
			RetentionDays:   90,
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Addr:            ":8080",
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Metrics:  MetricsConfig{Enabled: true},
		Mode:     "paper",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"trade":     true,
	"paper":     true,
	"reconcile": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validIntervals are the candle intervals the exchange serves.
var validIntervals = map[string]bool{
	"1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true,
}

// Validate checks every section and returns one error listing each problem.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: trade, paper, reconcile)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Account
	if mode == "trade" || mode == "reconcile" {
		if c.Account.Address == "" {
			add("account: address is required for mode %s", mode)
		}
	}
	if mode == "trade" && !c.Account.HasKey() {
		add("account: private_key or keystore_path is required for mode trade")
	}
	if c.Account.KeystorePath != "" && c.Account.KeystorePassword == "" {
		add("account: keystore_password is required when keystore_path is set")
	}

	// Exchange
	if c.Exchange.BaseURL == "" {
		add("exchange: base_url must not be empty")
	}
	if len(c.Exchange.Instruments) == 0 && mode != "reconcile" {
		add("exchange: instruments must not be empty")
	}
	if !validIntervals[c.Exchange.Interval] {
		add("exchange: unsupported interval %q", c.Exchange.Interval)
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		add("exchange: requests_per_second must be > 0")
	}

	// Engine
	if c.Engine.Slippage <= 0 || c.Engine.Slippage >= 0.5 {
		add("engine: slippage must be in (0, 0.5), got %g", c.Engine.Slippage)
	}
	if c.Engine.TrailATRMultiplier <= 0 {
		add("engine: trail_atr_multiplier must be > 0")
	}
	if c.Engine.Deadband < 0 || c.Engine.Deadband >= 0.1 {
		add("engine: deadband must be in [0, 0.1), got %g", c.Engine.Deadband)
	}
	if c.Engine.EntryTimeout.Duration <= 0 {
		add("engine: entry_timeout must be > 0")
	}

	// Signal
	if c.Signal.Oversold <= 0 || c.Signal.Oversold >= c.Signal.Midpoint || c.Signal.Midpoint >= c.Signal.Overbought || c.Signal.Overbought >= 100 {
		add("signal: need 0 < oversold < midpoint < overbought < 100")
	}
	if c.Signal.StopATR <= 0 {
		add("signal: stop_atr must be > 0")
	}
	if c.Signal.HistorySize < c.Signal.WarmupBars {
		add("signal: history_size must be >= warmup_bars")
	}

	// Risk
	if c.Risk.RiskPct <= 0 || c.Risk.RiskPct > 0.1 {
		add("risk: risk_pct must be in (0, 0.1], got %g", c.Risk.RiskPct)
	}
	if c.Risk.MaxLeverage < 1 {
		add("risk: max_leverage must be >= 1")
	}
	if c.Risk.MaxPositions < 1 {
		add("risk: max_positions must be >= 1")
	}

	if mode == "paper" && c.Paper.Balance <= 0 {
		add("paper: balance must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.LockTTL.Duration < 3*time.Second {
			add("redis: lock_ttl must be >= 3s")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			add("s3: region must not be empty")
		}
		if !c.Postgres.Enabled {
			add("s3: archiving requires postgres.enabled")
		}
		if c.S3.RetentionDays < 1 {
			add("s3: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled && c.Server.Addr == "" {
		add("server: addr must not be empty")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
