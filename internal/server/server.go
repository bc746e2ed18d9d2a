package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
	"github.com/alanyoungcy/outcome-amm/internal/server/handler"
	"github.com/alanyoungcy/outcome-amm/internal/server/middleware"
	"github.com/alanyoungcy/outcome-amm/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string

	// SignatureTolerance bounds clock skew on wallet-signed requests.
	SignatureTolerance time.Duration

	// RateLimit requests per RateWindow per bucket (wallet for trades, else client IP). Zero disables.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Markets   *handler.MarketHandler
	Trades    *handler.TradeHandler
	Liquidity *handler.LiquidityHandler
	Lifecycle *handler.LifecycleHandler
	Archive   *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API of the market engine.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// unauthenticated paths. The oracle callback carries its own HMAC signature.
var exemptPaths = []string{"/api/health", "/api/oracle/fulfill"}

// NewServer creates a new Server with all routes registered on the ServeMux.
// limiter and replay may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, replay domain.LockManager, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Markets.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", handlers.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/prices", handlers.Markets.GetPrices)
	mux.HandleFunc("GET /api/markets/{id}/twap/{outcome}", handlers.Markets.GetTWAP)
	mux.HandleFunc("GET /api/markets/{id}/trades", handlers.Markets.ListTrades)
	mux.HandleFunc("GET /api/markets/{id}/accounts/{address}", handlers.Markets.GetAccount)
	mux.HandleFunc("GET /api/events", handlers.Markets.ListEvents)

	// Trading.
	mux.HandleFunc("POST /api/markets/{id}/quote", handlers.Trades.Quote)
	mux.HandleFunc("POST /api/markets/{id}/trades", handlers.Trades.Trade)
	mux.HandleFunc("POST /api/markets/{id}/commitments", handlers.Trades.Commit)
	mux.HandleFunc("POST /api/markets/{id}/reveals", handlers.Trades.Reveal)
	mux.HandleFunc("POST /api/markets/{id}/winnings/claim", handlers.Trades.ClaimWinnings)

	// Liquidity.
	mux.HandleFunc("POST /api/markets/{id}/liquidity", handlers.Liquidity.AddLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/liquidity/remove", handlers.Liquidity.RemoveLiquidity)
	mux.HandleFunc("POST /api/markets/{id}/rewards/claim", handlers.Liquidity.ClaimRewards)

	// Lifecycle.
	mux.HandleFunc("POST /api/markets/{id}/lock", handlers.Lifecycle.Lock)
	mux.HandleFunc("POST /api/markets/{id}/resolution/start", handlers.Lifecycle.StartResolution)
	mux.HandleFunc("POST /api/markets/{id}/resolution/request", handlers.Lifecycle.RequestResolution)
	mux.HandleFunc("POST /api/oracle/fulfill", handlers.Lifecycle.Fulfill)
	mux.HandleFunc("GET /api/oracle/requests", handlers.Lifecycle.PendingRequests)

	// Archive.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive/{id}", handlers.Archive.ListArchive)
		mux.HandleFunc("GET /api/archive/{id}/snapshot", handlers.Archive.GetSnapshot)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.WalletAuth(cfg.SignatureTolerance, replay, time.Now, logger)(h)
	h = middleware.Auth(cfg.APIKey, exemptPaths...)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
