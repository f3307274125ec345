package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env from the
// working directory if present, and applies SUPERSIGNAL_* overrides. An
// empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose SUPERSIGNAL_* variable is set,
// so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// Account
	setStr(&cfg.Account.Address, "SUPERSIGNAL_ACCOUNT_ADDRESS")
	setStr(&cfg.Account.Vault, "SUPERSIGNAL_ACCOUNT_VAULT")
	setStr(&cfg.Account.PrivateKey, "SUPERSIGNAL_ACCOUNT_PRIVATE_KEY")
	setStr(&cfg.Account.KeystorePath, "SUPERSIGNAL_ACCOUNT_KEYSTORE_PATH")
	setStr(&cfg.Account.KeystorePassword, "SUPERSIGNAL_ACCOUNT_KEYSTORE_PASSWORD")

	// Exchange
	setStr(&cfg.Exchange.BaseURL, "SUPERSIGNAL_EXCHANGE_BASE_URL")
	setFloat64(&cfg.Exchange.RequestsPerSecond, "SUPERSIGNAL_EXCHANGE_REQUESTS_PER_SECOND")
	setStringSlice(&cfg.Exchange.Instruments, "SUPERSIGNAL_EXCHANGE_INSTRUMENTS")
	setStr(&cfg.Exchange.Interval, "SUPERSIGNAL_EXCHANGE_INTERVAL")

	// Engine
	setFloat64(&cfg.Engine.Slippage, "SUPERSIGNAL_ENGINE_SLIPPAGE")
	setFloat64(&cfg.Engine.TrailATRMultiplier, "SUPERSIGNAL_ENGINE_TRAIL_ATR_MULTIPLIER")
	setDuration(&cfg.Engine.EntryTimeout, "SUPERSIGNAL_ENGINE_ENTRY_TIMEOUT")

	// Risk
	setFloat64(&cfg.Risk.RiskPct, "SUPERSIGNAL_RISK_RISK_PCT")
	setFloat64(&cfg.Risk.MaxLeverage, "SUPERSIGNAL_RISK_MAX_LEVERAGE")
	setInt(&cfg.Risk.MaxPositions, "SUPERSIGNAL_RISK_MAX_POSITIONS")
	setFloat64(&cfg.Risk.MaxExposure, "SUPERSIGNAL_RISK_MAX_EXPOSURE")

	// Paper
	setFloat64(&cfg.Paper.Balance, "SUPERSIGNAL_PAPER_BALANCE")

	// Postgres
	setBool(&cfg.Postgres.Enabled, "SUPERSIGNAL_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SUPERSIGNAL_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SUPERSIGNAL_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SUPERSIGNAL_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SUPERSIGNAL_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SUPERSIGNAL_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SUPERSIGNAL_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SUPERSIGNAL_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "SUPERSIGNAL_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "SUPERSIGNAL_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SUPERSIGNAL_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SUPERSIGNAL_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SUPERSIGNAL_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "SUPERSIGNAL_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SUPERSIGNAL_REDIS_KEY_PREFIX")

	// S3
	setBool(&cfg.S3.Enabled, "SUPERSIGNAL_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SUPERSIGNAL_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SUPERSIGNAL_S3_REGION")
	setStr(&cfg.S3.Bucket, "SUPERSIGNAL_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SUPERSIGNAL_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SUPERSIGNAL_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SUPERSIGNAL_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "SUPERSIGNAL_S3_RETENTION_DAYS")

	// Server
	setBool(&cfg.Server.Enabled, "SUPERSIGNAL_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "SUPERSIGNAL_SERVER_ADDR")
	setStringSlice(&cfg.Server.CORSOrigins, "SUPERSIGNAL_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SUPERSIGNAL_SERVER_API_KEY")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "SUPERSIGNAL_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SUPERSIGNAL_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SUPERSIGNAL_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SUPERSIGNAL_NOTIFY_EVENTS")

	setBool(&cfg.Metrics.Enabled, "SUPERSIGNAL_METRICS_ENABLED")

	setStr(&cfg.Mode, "SUPERSIGNAL_MODE")
	setStr(&cfg.LogLevel, "SUPERSIGNAL_LOG_LEVEL")
}

// Typed setters: each changes dst only when the variable is set and parses.

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
