package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/salvagebid/internal/notify"
	"github.com/alanyoungcy/salvagebid/internal/pipeline"
	"github.com/alanyoungcy/salvagebid/internal/server"
	"github.com/alanyoungcy/salvagebid/internal/server/handler"
	"github.com/alanyoungcy/salvagebid/internal/server/ws"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// APIMode serves the HTTP API and the websocket hub. Scans and notification
// delivery are left to a worker process.
func (a *App) APIMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting api mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// WorkerMode runs the background scans, the archive cron and the
// notification dispatcher.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svc)
	return g.Wait()
}

// FullMode runs the API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svc)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// startWorkers adds the scheduler and the dispatcher to g.
func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *Services) {
	sc := a.cfg.Scheduler
	jobs := []pipeline.Job{
		{Name: "activate_due", Interval: sc.ActivateInterval.Duration, Run: svc.Lifecycle.ActivateDue},
		{Name: "close_expired", Interval: sc.CloseInterval.Duration, Run: svc.Lifecycle.CloseExpiredAuctions},
		{Name: "payment_overdue", Interval: sc.OverdueInterval.Duration, Run: svc.Settlement.CheckOverdue},
		{Name: "transfer_retry", Interval: sc.TransferInterval.Duration, Run: svc.Settlement.RetryTransfers},
		{Name: "ledger_reconcile", Interval: sc.ReconcileInterval.Duration, Run: svc.Ledger.Reconcile},
	}

	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.logger)
	} else {
		a.logger.InfoContext(ctx, "no archive bucket configured, cold storage export disabled")
	}
	orch := pipeline.NewOrchestrator(jobs, archiver, sc.ArchiveCron, a.logger)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	nc := a.cfg.Notify
	dispatcher := notify.NewDispatcher(deps.Bus, deps.Notifier, deps.Metrics, notify.DispatcherConfig{
		Workers:      nc.Workers,
		BatchSize:    nc.BatchSize,
		PollInterval: nc.PollInterval.Duration,
		Backlog:      nc.Backlog.Duration,
	}, a.logger)
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
}

// startHTTPServer adds an HTTP server goroutine to the given errgroup. It
// registers the websocket hub plus the REST handlers. The server is shut down
// gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *Services) {
	hub := ws.NewHub(deps.Bus, svc.Lifecycle, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Directory: handler.NewDirectoryHandler(svc.Directory, a.logger),
		Auctions:  handler.NewAuctionHandler(svc.Lifecycle, svc.Bids, a.logger),
		Wallets:   handler.NewWalletHandler(svc.Ledger, svc.Directory, a.cfg.Gateway.WebhookSecret, a.logger),
		Payments:  handler.NewPaymentHandler(svc.Settlement, a.logger),
		Admin:     handler.NewAdminHandler(svc.Admin, a.logger),
		Metrics:   deps.MetricsHandler,
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		AdminSecret: []byte(a.cfg.Admin.JWTSecret),
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.Limiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening", slog.Int("port", a.cfg.Server.Port))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
