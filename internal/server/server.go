// Package server assembles the auction HTTP API: routes, the middleware
// chain and the websocket observer endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
	"github.com/alanyoungcy/salvagebid/internal/server/handler"
	"github.com/alanyoungcy/salvagebid/internal/server/middleware"
	"github.com/alanyoungcy/salvagebid/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeys guard the vendor and intake routes. Empty disables the check.
	APIKeys []string
	// AdminSecret signs admin JWTs. /api/admin is not mounted without it.
	AdminSecret []byte
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Directory *handler.DirectoryHandler
	Auctions  *handler.AuctionHandler
	Wallets   *handler.WalletHandler
	Payments  *handler.PaymentHandler
	Admin     *handler.AdminHandler
	Metrics   http.Handler
}

// Server is the HTTP + WebSocket API of the auction core.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
// limiter may be nil to disable per-IP limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and wrapped handler without binding a port.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}

	// Intake.
	mux.HandleFunc("POST /api/cases", handlers.Directory.IntakeCase)
	mux.HandleFunc("GET /api/cases/{id}", handlers.Directory.GetCase)
	mux.HandleFunc("POST /api/vendors", handlers.Directory.RegisterVendor)
	mux.HandleFunc("GET /api/vendors/{id}", handlers.Directory.GetVendor)

	// Auctions and bidding.
	mux.HandleFunc("POST /api/auctions", handlers.Auctions.CreateAuction)
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Auctions.ListBids)
	mux.HandleFunc("POST /api/auctions/{id}/bids", handlers.Auctions.PlaceBid)

	// Escrow wallets.
	mux.HandleFunc("GET /api/wallets/{vendorId}", handlers.Wallets.GetWallet)
	mux.HandleFunc("GET /api/wallets/{vendorId}/transactions", handlers.Wallets.ListTransactions)
	mux.HandleFunc("POST /api/wallets/{vendorId}/credits", handlers.Wallets.Credit)
	mux.HandleFunc("GET /api/wallets/{vendorId}/replay", handlers.Wallets.Replay)

	// Settlement.
	mux.HandleFunc("GET /api/payments/{id}", handlers.Payments.GetPayment)
	mux.HandleFunc("POST /api/payments/{id}/verify", handlers.Payments.VerifyPayment)
	mux.HandleFunc("POST /api/payments/{id}/pickup", handlers.Payments.RedeemPickup)

	if len(cfg.AdminSecret) > 0 && handlers.Admin != nil {
		admin := http.NewServeMux()
		admin.HandleFunc("POST /api/admin/fraud-alerts/{id}/dismiss", handlers.Admin.DismissAlert)
		admin.HandleFunc("GET /api/admin/fraud-alerts", handlers.Admin.ListAlerts)
		admin.HandleFunc("POST /api/admin/vendors/{id}/suspend", handlers.Admin.SuspendVendor)
		admin.HandleFunc("POST /api/admin/vendors/{id}/reinstate", handlers.Admin.ReinstateVendor)
		admin.HandleFunc("POST /api/admin/auctions/{id}/cancel", handlers.Admin.CancelAuction)
		admin.HandleFunc("POST /api/admin/payments/{id}/reject", handlers.Admin.RejectPayment)
		admin.HandleFunc("GET /api/admin/audit", handlers.Admin.ListAudit)
		mux.Handle("/api/admin/", middleware.AdminJWT(cfg.AdminSecret)(admin))
	} else {
		logger.Warn("server: admin secret not set, admin routes disabled")
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Admin routes carry their own bearer token; the funding webhook is
	// authenticated by its body signature.
	auth := middleware.Public(middleware.APIKeys(cfg.APIKeys),
		"/health", "/metrics", "/ws", "/api/admin/", "/api/wallets/*/credits")

	var h http.Handler = mux
	h = auth(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
