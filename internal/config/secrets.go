package config

import "slices"

const redacted = "***"

// secrets lists every credential-bearing field of cfg.
func secrets(cfg *Config) []*string {
	return []*string{
		&cfg.Wallet.PrivateKey, &cfg.Wallet.KeyPassword,
		&cfg.Collaborators.APIKey, &cfg.Collaborators.APISecret, &cfg.Collaborators.APIPassphrase,
		&cfg.Database.DSN, &cfg.Database.Password,
		&cfg.Redis.Password,
		&cfg.S3.AccessKey, &cfg.S3.SecretKey,
		&cfg.Server.APIKey,
		&cfg.Notify.TelegramToken, &cfg.Notify.DiscordWebhookURL,
	}
}

// RedactedConfig returns a copy of cfg that is safe to log: set secrets
// read "***" and slices are cloned so the copy shares no memory with cfg.
func RedactedConfig(cfg *Config) Config {
	out := *cfg
	for _, s := range secrets(&out) {
		if *s != "" {
			*s = redacted
		}
	}
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	out.Market.Tiers = slices.Clone(cfg.Market.Tiers)
	return out
}
