// Package config defines the top-level configuration for the outcome market
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OUTCOME_* environment variables.
type Config struct {
	Market        MarketConfig        `toml:"market"`
	Roles         RolesConfig         `toml:"roles"`
	Chain         ChainConfig         `toml:"chain"`
	Wallet        WalletConfig        `toml:"wallet"`
	Collaborators CollaboratorsConfig `toml:"collaborators"`
	Database      DatabaseConfig      `toml:"database"`
	Redis         RedisConfig         `toml:"redis"`
	S3            S3Config            `toml:"s3"`
	Server        ServerConfig        `toml:"server"`
	Keeper        KeeperConfig        `toml:"keeper"`
	Notify        NotifyConfig        `toml:"notify"`
	Mode          string              `toml:"mode"`
	LogLevel      string              `toml:"log_level"`
}

// MarketConfig holds the engine parameters shared by every market. Prices
// and liquidity thresholds are decimal strings such as "0.001" or "1000".
type MarketConfig struct {
	BaseFeeBps          uint64   `toml:"base_fee_bps"`
	MaxFeeBps           uint64   `toml:"max_fee_bps"`
	VolatilityWindow    duration `toml:"volatility_window"`
	ProtocolFeeShareBps uint64   `toml:"protocol_fee_share_bps"`

	CurveFactorBps uint64 `toml:"curve_factor_bps"`
	MinPrice       string `toml:"min_price"`
	MaxPrice       string `toml:"max_price"`

	MaxPriceImpactBps   uint64 `toml:"max_price_impact_bps"`
	MEVWithholdShareBps uint64 `toml:"mev_withhold_share_bps"`
	MaxMEVWithholdBps   uint64 `toml:"max_mev_withhold_bps"`

	MinRevealDelay duration `toml:"min_reveal_delay"`
	LockWindow     duration `toml:"lock_window"`

	ILProtectionPeriod duration     `toml:"il_protection_period"`
	MaxILCoverageBps   uint64       `toml:"max_il_coverage_bps"`
	Tiers              []TierConfig `toml:"tiers"`

	EarlyPredictorWindow  duration `toml:"early_predictor_window"`
	StreakWindow          duration `toml:"streak_window"`
	AccuracyRewardRateBps uint64   `toml:"accuracy_reward_rate_bps"`
	EarlyBonusBps         uint64   `toml:"early_bonus_bps"`
	StreakBonusBps        uint64   `toml:"streak_bonus_bps"`
	MaxStreakBonusBps     uint64   `toml:"max_streak_bonus_bps"`
}

// TierConfig is one liquidity tier.
type TierConfig struct {
	MinLiquidity  string `toml:"min_liquidity"`
	MultiplierBps uint64 `toml:"multiplier_bps"`
}

// RolesConfig names the privileged addresses.
type RolesConfig struct {
	Admin  string `toml:"admin"`
	Oracle string `toml:"oracle"`
}

// ChainConfig holds the EIP-712 domain trade intents are signed under.
type ChainConfig struct {
	ChainID       int64  `toml:"chain_id"`
	DomainName    string `toml:"domain_name"`
	DomainVersion string `toml:"domain_version"`
}

// WalletConfig holds the operator key used by outcomectl.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// CollaboratorsConfig selects how the engine reaches the incentive manager,
// reputation system, oracle, treasury and referral program. With an empty
// GatewayURL the in-process fallbacks are used.
type CollaboratorsConfig struct {
	GatewayURL    string   `toml:"gateway_url"`
	APIKey        string   `toml:"api_key"`
	APISecret     string   `toml:"api_secret"`
	APIPassphrase string   `toml:"api_passphrase"`
	RatePerSec    float64  `toml:"rate_per_sec"`
	Burst         int      `toml:"burst"`
	Timeout       duration `toml:"timeout"`
	// IncentiveRate is the static reward rate per second per unit of
	// liquidity used without a gateway.
	IncentiveRate string `toml:"incentive_rate"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
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
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	KeyPrefix   string   `toml:"key_prefix"`
	PriceTTL    duration `toml:"price_ttl"`
	StreamBlock duration `toml:"stream_block"`
}

// S3Config holds S3-compatible object storage parameters for the settled
// market archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey gates every non-public route. Required whenever the server runs.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// OracleTolerance bounds clock skew on signed oracle callbacks.
	OracleTolerance duration `toml:"oracle_tolerance"`
	// SignatureTolerance bounds clock skew on wallet-signed requests.
	SignatureTolerance duration `toml:"signature_tolerance"`
}

// KeeperConfig holds the lifecycle keeper parameters.
type KeeperConfig struct {
	Interval duration `toml:"interval"`
	LockTTL  duration `toml:"lock_ttl"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramAPIBase   string   `toml:"telegram_api_base"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	p := amm.DefaultParams()
	tiers := make([]TierConfig, len(p.Tiers))
	for i, t := range p.Tiers {
		tiers[i] = TierConfig{MinLiquidity: fixed.Format(t.MinLiquidity), MultiplierBps: t.MultiplierBps}
	}

	return Config{
		Market: MarketConfig{
			BaseFeeBps:            p.BaseFeeBps,
			MaxFeeBps:             p.MaxFeeBps,
			VolatilityWindow:      duration{p.VolatilityWindow},
			ProtocolFeeShareBps:   p.ProtocolFeeShareBps,
			CurveFactorBps:        p.CurveFactorBps,
			MinPrice:              "0.001",
			MaxPrice:              "0.999",
			MaxPriceImpactBps:     p.MaxPriceImpactBps,
			MEVWithholdShareBps:   p.MEVWithholdShareBps,
			MaxMEVWithholdBps:     p.MaxMEVWithholdBps,
			MinRevealDelay:        duration{p.MinRevealDelay},
			LockWindow:            duration{p.LockWindow},
			ILProtectionPeriod:    duration{p.ILProtectionPeriod},
			MaxILCoverageBps:      p.MaxILCoverageBps,
			Tiers:                 tiers,
			EarlyPredictorWindow:  duration{p.EarlyPredictorWindow},
			StreakWindow:          duration{p.StreakWindow},
			AccuracyRewardRateBps: p.AccuracyRewardRateBps,
			EarlyBonusBps:         p.EarlyBonusBps,
			StreakBonusBps:        p.StreakBonusBps,
			MaxStreakBonusBps:     p.MaxStreakBonusBps,
		},
		Chain: ChainConfig{
			ChainID:       137,
			DomainName:    "OutcomeAMM",
			DomainVersion: "1",
		},
		Collaborators: CollaboratorsConfig{
			RatePerSec:    20,
			Burst:         5,
			Timeout:       duration{10 * time.Second},
			IncentiveRate: "0",
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			KeyPrefix:   "outcome",
			PriceTTL:    duration{10 * time.Minute},
			StreamBlock: duration{5 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "outcome-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:          120,
			RateWindow:         duration{time.Minute},
			OracleTolerance:    duration{30 * time.Second},
			SignatureTolerance: duration{30 * time.Second},
		},
		Keeper: KeeperConfig{
			Interval: duration{15 * time.Second},
			LockTTL:  duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"market_locked", "resolution_requested", "market_settled"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// EngineParams converts the market section into engine parameters.
func (c *Config) EngineParams() (amm.Params, error) {
	m := c.Market
	minPrice, err := fixed.Parse(m.MinPrice)
	if err != nil {
		return amm.Params{}, fmt.Errorf("market: min_price: %w", err)
	}
	maxPrice, err := fixed.Parse(m.MaxPrice)
	if err != nil {
		return amm.Params{}, fmt.Errorf("market: max_price: %w", err)
	}
	tiers := make([]amm.Tier, 0, len(m.Tiers))
	for i, t := range m.Tiers {
		floor, err := fixed.Parse(t.MinLiquidity)
		if err != nil {
			return amm.Params{}, fmt.Errorf("market: tiers[%d].min_liquidity: %w", i, err)
		}
		tiers = append(tiers, amm.Tier{MinLiquidity: floor, MultiplierBps: t.MultiplierBps})
	}
	return amm.Params{
		BaseFeeBps:            m.BaseFeeBps,
		MaxFeeBps:             m.MaxFeeBps,
		VolatilityWindow:      m.VolatilityWindow.Duration,
		ProtocolFeeShareBps:   m.ProtocolFeeShareBps,
		CurveFactorBps:        m.CurveFactorBps,
		MinPrice:              minPrice,
		MaxPrice:              maxPrice,
		MaxPriceImpactBps:     m.MaxPriceImpactBps,
		MEVWithholdShareBps:   m.MEVWithholdShareBps,
		MaxMEVWithholdBps:     m.MaxMEVWithholdBps,
		MinRevealDelay:        m.MinRevealDelay.Duration,
		LockWindow:            m.LockWindow.Duration,
		ILProtectionPeriod:    m.ILProtectionPeriod.Duration,
		MaxILCoverageBps:      m.MaxILCoverageBps,
		Tiers:                 tiers,
		EarlyPredictorWindow:  m.EarlyPredictorWindow.Duration,
		StreakWindow:          m.StreakWindow.Duration,
		AccuracyRewardRateBps: m.AccuracyRewardRateBps,
		EarlyBonusBps:         m.EarlyBonusBps,
		StreakBonusBps:        m.StreakBonusBps,
		MaxStreakBonusBps:     m.MaxStreakBonusBps,
	}, nil
}

// EngineRoles returns the configured admin and oracle addresses.
func (c *Config) EngineRoles() amm.Roles {
	return amm.Roles{
		Admin:  common.HexToAddress(c.Roles.Admin),
		Oracle: common.HexToAddress(c.Roles.Oracle),
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if p, err := c.EngineParams(); err != nil {
		errs = append(errs, err.Error())
	} else if err := p.Validate(); err != nil {
		errs = append(errs, "market: "+err.Error())
	}

	// Roles
	for _, role := range []struct{ name, addr string }{
		{"admin", c.Roles.Admin},
		{"oracle", c.Roles.Oracle},
	} {
		name, addr := role.name, role.addr
		if !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("roles: %s must be a hex address, got %q", name, addr))
		} else if common.HexToAddress(addr) == (common.Address{}) {
			errs = append(errs, "roles: "+name+" must not be the zero address")
		}
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.DomainName == "" {
		errs = append(errs, "chain: domain_name must not be empty")
	}

	// Wallet
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Collaborators
	if c.Collaborators.GatewayURL != "" {
		if (c.Collaborators.APIKey == "") != (c.Collaborators.APISecret == "") {
			errs = append(errs, "collaborators: api_key and api_secret must be set together")
		}
		if c.Collaborators.RatePerSec <= 0 {
			errs = append(errs, "collaborators: rate_per_sec must be > 0")
		}
	} else if _, err := fixed.Parse(c.Collaborators.IncentiveRate); err != nil {
		errs = append(errs, "collaborators: incentive_rate: "+err.Error())
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty when enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
		if c.Mode != "keeper" && c.Server.APIKey == "" {
			errs = append(errs, "server: api_key must be set when the server is enabled")
		}
		if c.Server.SignatureTolerance.Duration <= 0 {
			errs = append(errs, "server: signature_tolerance must be positive")
		}
	}

	// Keeper
	if c.Keeper.Interval.Duration <= 0 {
		errs = append(errs, "keeper: interval must be positive")
	}
	if c.Keeper.LockTTL.Duration <= 0 {
		errs = append(errs, "keeper: lock_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
