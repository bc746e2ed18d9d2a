package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/outcome-amm/internal/amm"
	s3blob "github.com/alanyoungcy/outcome-amm/internal/blob/s3"
	"github.com/alanyoungcy/outcome-amm/internal/cache/redis"
	"github.com/alanyoungcy/outcome-amm/internal/collab"
	"github.com/alanyoungcy/outcome-amm/internal/config"
	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/fixed"
	"github.com/alanyoungcy/outcome-amm/internal/notify"
	"github.com/alanyoungcy/outcome-amm/internal/server/handler"
	"github.com/alanyoungcy/outcome-amm/internal/service"
	"github.com/alanyoungcy/outcome-amm/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	MarketStore domain.MarketStore
	TradeStore  domain.TradeStore
	AuditStore  domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil when the archive is disabled.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Collaborators
	Collaborators amm.Collaborators
	PendingOracle handler.PendingLister

	// Health probes by dependency name.
	Checks map[string]handler.Check

	Notifier *notify.Notifier
	Markets  *service.MarketService
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		return fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Checks["postgres"] = pgClient.Ping

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	markets := postgres.NewMarketStore(pool)
	trades := postgres.NewTradeStore(pool)
	audit := postgres.NewAuditStore(pool)
	deps.MarketStore, deps.TradeStore, deps.AuditStore = markets, trades, audit

	// --- Redis ---
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
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Checks["redis"] = redisClient.Ping

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamBlock.Duration)

	// --- S3 archive ---
	if cfg.S3.Enabled {
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
			return fail("s3", err)
		}
		deps.Checks["s3"] = s3Client.Health

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(writer, reader, trades, audit, logger)
	}

	// --- Collaborators ---
	collabs, pending, err := wireCollaborators(cfg, logger)
	if err != nil {
		return fail("collaborators", err)
	}
	deps.Collaborators, deps.PendingOracle = collabs, pending

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPIBase,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Market service ---
	params, err := cfg.EngineParams()
	if err != nil {
		return fail("market params", err)
	}
	svcDeps := service.MarketDeps{
		Engine: amm.Config{
			Params:        params,
			Roles:         cfg.EngineRoles(),
			Collaborators: collabs,
			Verifier:      crypto.NewIntentVerifier(cfg.Chain.DomainName, cfg.Chain.DomainVersion, cfg.Chain.ChainID),
			Logger:        logger.With(slog.String("component", "amm")),
		},
		Markets: markets,
		Trades:  trades,
		Audit:   audit,
		Bus:     deps.SignalBus,
		Prices:  deps.PriceCache,
		Locks:   deps.LockManager,
		LockTTL: cfg.Keeper.LockTTL.Duration,
		Logger:  logger,
	}
	// Typed nils must not reach the service's interface fields.
	if deps.Archiver != nil {
		svcDeps.Archiver = deps.Archiver
	}
	if deps.Notifier.Enabled() {
		svcDeps.Notifier = deps.Notifier
	}
	deps.Markets = service.NewMarketService(svcDeps)

	if err := deps.Markets.Load(ctx); err != nil {
		return fail("load markets", err)
	}

	return deps, cleanup, nil
}

// wireCollaborators selects the HTTP gateway when one is configured and the
// in-process fallbacks otherwise. The manual oracle is returned as a
// PendingLister so operators can see what awaits an answer.
func wireCollaborators(cfg *config.Config, logger *slog.Logger) (amm.Collaborators, handler.PendingLister, error) {
	c := cfg.Collaborators
	if c.GatewayURL != "" {
		gw := collab.NewGateway(collab.GatewayConfig{
			BaseURL: c.GatewayURL,
			Auth: crypto.HMACAuth{
				Key:        c.APIKey,
				Secret:     c.APISecret,
				Passphrase: c.APIPassphrase,
			},
			RatePerSec: c.RatePerSec,
			Burst:      c.Burst,
			Timeout:    c.Timeout.Duration,
		}, logger)
		return amm.Collaborators{
			Incentives: gw,
			Reputation: gw,
			Oracle:     gw,
			Treasury:   gw,
			Referral:   gw,
		}, nil, nil
	}

	rate, err := fixed.Parse(c.IncentiveRate)
	if err != nil {
		return amm.Collaborators{}, nil, err
	}
	oracle := collab.NewManualOracle(logger)
	return amm.Collaborators{
		Incentives: collab.NewStaticIncentives(rate, logger),
		Reputation: collab.Noop{},
		Oracle:     oracle,
		Treasury:   collab.Noop{},
		Referral:   collab.Noop{},
	}, oracle, nil
}
