package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/outcome-amm/internal/crypto"
	"github.com/alanyoungcy/outcome-amm/internal/server"
	"github.com/alanyoungcy/outcome-amm/internal/server/handler"
	"github.com/alanyoungcy/outcome-amm/internal/server/ws"
	"github.com/alanyoungcy/outcome-amm/internal/service"
)

// shutdownGrace bounds how long in-flight HTTP requests may take to finish.
const shutdownGrace = 10 * time.Second

// ServerMode serves the HTTP and WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// KeeperMode drives market lifecycles and consumes oracle fulfillments
// without serving the API.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting keeper mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the keeper and, unless server.enabled is false, the API in
// one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "app: starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startKeeper(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}
	return ignoreCanceled(g.Wait())
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	keeper := service.NewKeeper(deps.Markets, deps.SignalBus, a.cfg.Keeper.Interval.Duration, a.logger)
	g.Go(func() error {
		return keeper.Run(ctx)
	})
}

func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: a.startedAt})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var oracleAuth *crypto.HMACAuth
	if a.cfg.Collaborators.APIKey != "" {
		oracleAuth = &crypto.HMACAuth{
			Key:        a.cfg.Collaborators.APIKey,
			Secret:     a.cfg.Collaborators.APISecret,
			Passphrase: a.cfg.Collaborators.APIPassphrase,
		}
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.startedAt, deps.Markets),
		Markets:   handler.NewMarketHandler(deps.Markets, a.logger),
		Trades:    handler.NewTradeHandler(deps.Markets, a.logger),
		Liquidity: handler.NewLiquidityHandler(deps.Markets, a.logger),
		Lifecycle: handler.NewLifecycleHandler(deps.Markets, handler.LifecycleConfig{
			Oracle:    deps.Markets.Roles().Oracle,
			Auth:      oracleAuth,
			Tolerance: a.cfg.Server.OracleTolerance.Duration,
			Pending:   deps.PendingOracle,
		}, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		SignatureTolerance: a.cfg.Server.SignatureTolerance.Duration,
		RateLimit:          a.cfg.Server.RateLimit,
		RateWindow:         a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, deps.LockManager, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("app: server shutdown failed", slog.String("error", err.Error()))
		}
		return nil
	})
}

// ignoreCanceled treats a cancelled context as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
