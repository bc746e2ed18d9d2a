package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "OUTCOME_"

// Load layers the TOML file at path over Defaults, then .env, then OUTCOME_*
// variables. An empty path skips the file. The result is not validated;
// callers run Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides copies every set OUTCOME_* variable over the matching
// field. Values that do not parse leave the field alone and are reported
// together.
func applyEnvOverrides(cfg *Config) error {
	var o overrides

	// market
	override(&o, &cfg.Market.BaseFeeBps, "MARKET_BASE_FEE_BPS", parseUint64)
	override(&o, &cfg.Market.MaxFeeBps, "MARKET_MAX_FEE_BPS", parseUint64)
	override(&o, &cfg.Market.VolatilityWindow, "MARKET_VOLATILITY_WINDOW", parseDuration)
	override(&o, &cfg.Market.ProtocolFeeShareBps, "MARKET_PROTOCOL_FEE_SHARE_BPS", parseUint64)
	override(&o, &cfg.Market.CurveFactorBps, "MARKET_CURVE_FACTOR_BPS", parseUint64)
	override(&o, &cfg.Market.MinPrice, "MARKET_MIN_PRICE", str)
	override(&o, &cfg.Market.MaxPrice, "MARKET_MAX_PRICE", str)
	override(&o, &cfg.Market.MaxPriceImpactBps, "MARKET_MAX_PRICE_IMPACT_BPS", parseUint64)
	override(&o, &cfg.Market.MinRevealDelay, "MARKET_MIN_REVEAL_DELAY", parseDuration)
	override(&o, &cfg.Market.LockWindow, "MARKET_LOCK_WINDOW", parseDuration)

	// roles / chain
	override(&o, &cfg.Roles.Admin, "ROLES_ADMIN", str)
	override(&o, &cfg.Roles.Oracle, "ROLES_ORACLE", str)
	override(&o, &cfg.Chain.ChainID, "CHAIN_ID", parseInt64)
	override(&o, &cfg.Chain.DomainName, "CHAIN_DOMAIN_NAME", str)

	// wallet
	override(&o, &cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY", str)
	override(&o, &cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH", str)
	override(&o, &cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD", str)

	// collaborators
	override(&o, &cfg.Collaborators.GatewayURL, "COLLABORATORS_GATEWAY_URL", str)
	override(&o, &cfg.Collaborators.APIKey, "COLLABORATORS_API_KEY", str)
	override(&o, &cfg.Collaborators.APISecret, "COLLABORATORS_API_SECRET", str)
	override(&o, &cfg.Collaborators.APIPassphrase, "COLLABORATORS_API_PASSPHRASE", str)
	override(&o, &cfg.Collaborators.RatePerSec, "COLLABORATORS_RATE_PER_SEC", parseFloat64)
	override(&o, &cfg.Collaborators.IncentiveRate, "COLLABORATORS_INCENTIVE_RATE", str)

	// database
	override(&o, &cfg.Database.DSN, "DATABASE_DSN", str)
	override(&o, &cfg.Database.DSN, "DATABASE_URL", str) // compatibility alias
	override(&o, &cfg.Database.Host, "DATABASE_HOST", str)
	override(&o, &cfg.Database.Port, "DATABASE_PORT", strconv.Atoi)
	override(&o, &cfg.Database.Database, "DATABASE_DATABASE", str)
	override(&o, &cfg.Database.User, "DATABASE_USER", str)
	override(&o, &cfg.Database.Password, "DATABASE_PASSWORD", str)
	override(&o, &cfg.Database.SSLMode, "DATABASE_SSL_MODE", str)
	override(&o, &cfg.Database.PoolMaxConns, "DATABASE_POOL_MAX_CONNS", strconv.Atoi)
	override(&o, &cfg.Database.PoolMinConns, "DATABASE_POOL_MIN_CONNS", strconv.Atoi)
	override(&o, &cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS", strconv.ParseBool)

	// redis
	override(&o, &cfg.Redis.Addr, "REDIS_ADDR", str)
	override(&o, &cfg.Redis.Password, "REDIS_PASSWORD", str)
	override(&o, &cfg.Redis.DB, "REDIS_DB", strconv.Atoi)
	override(&o, &cfg.Redis.PoolSize, "REDIS_POOL_SIZE", strconv.Atoi)
	override(&o, &cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED", strconv.ParseBool)
	override(&o, &cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX", str)
	// s3
	override(&o, &cfg.S3.Enabled, "S3_ENABLED", strconv.ParseBool)
	override(&o, &cfg.S3.Endpoint, "S3_ENDPOINT", str)
	override(&o, &cfg.S3.Region, "S3_REGION", str)
	override(&o, &cfg.S3.Bucket, "S3_BUCKET", str)
	override(&o, &cfg.S3.AccessKey, "S3_ACCESS_KEY", str)
	override(&o, &cfg.S3.SecretKey, "S3_SECRET_KEY", str)
	override(&o, &cfg.S3.UseSSL, "S3_USE_SSL", strconv.ParseBool)
	override(&o, &cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE", strconv.ParseBool)
	override(&o, &cfg.S3.Prefix, "S3_PREFIX", str)

	// server
	override(&o, &cfg.Server.Enabled, "SERVER_ENABLED", strconv.ParseBool)
	override(&o, &cfg.Server.Port, "SERVER_PORT", strconv.Atoi)
	override(&o, &cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS", parseList)
	override(&o, &cfg.Server.APIKey, "SERVER_API_KEY", str)
	override(&o, &cfg.Server.RateLimit, "SERVER_RATE_LIMIT", strconv.Atoi)
	override(&o, &cfg.Server.SignatureTolerance, "SERVER_SIGNATURE_TOLERANCE", parseDuration)

	// keeper
	override(&o, &cfg.Keeper.Interval, "KEEPER_INTERVAL", parseDuration)
	override(&o, &cfg.Keeper.LockTTL, "KEEPER_LOCK_TTL", parseDuration)

	// notify
	override(&o, &cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN", str)
	override(&o, &cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID", str)
	override(&o, &cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL", str)
	override(&o, &cfg.Notify.Events, "NOTIFY_EVENTS", parseList)

	// top-level
	override(&o, &cfg.Mode, "MODE", str)
	override(&o, &cfg.LogLevel, "LOG_LEVEL", str)

	return o.err()
}

type overrides struct {
	bad []error
}

func (o *overrides) err() error { return errors.Join(o.bad...) }

// override sets *dst from EnvPrefix+key when the variable is non-empty.
func override[T any](o *overrides, dst *T, key string, parse func(string) (T, error)) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return
	}
	parsed, err := parse(v)
	if err != nil {
		o.bad = append(o.bad, fmt.Errorf("config: %s%s=%q: %w", EnvPrefix, key, v, err))
		return
	}
	*dst = parsed
}

func str(v string) (string, error) { return v, nil }

func parseInt64(v string) (int64, error) { return strconv.ParseInt(v, 10, 64) }

func parseUint64(v string) (uint64, error) { return strconv.ParseUint(v, 10, 64) }

func parseFloat64(v string) (float64, error) { return strconv.ParseFloat(v, 64) }

func parseDuration(v string) (duration, error) {
	d, err := time.ParseDuration(v)
	return duration{d}, err
}

// parseList splits a comma-separated list, dropping blanks.
func parseList(v string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty list")
	}
	return out, nil
}
