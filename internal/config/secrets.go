package config

import (
	"slices"

	"github.com/winder87-stack/SuperSignal-sub000/internal/crypto"
)

// KeyConfig maps the account section to the keystore loader.
func (a AccountConfig) KeyConfig() crypto.KeyConfig {
	return crypto.KeyConfig{
		RawPrivateKey:    a.PrivateKey,
		KeystorePath:     a.KeystorePath,
		KeystorePassword: a.KeystorePassword,
	}
}

// RedactedConfig returns a copy of cfg with every secret replaced by "***",
// for logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Account.PrivateKey)
	redact(&out.Account.KeystorePassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are copied so the redacted value cannot alias the original.
	out.Exchange.Instruments = slices.Clone(cfg.Exchange.Instruments)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
