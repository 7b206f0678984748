package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/confidentialpad/internal/keeper"
	"github.com/alanyoungcy/confidentialpad/internal/server"
	"github.com/alanyoungcy/confidentialpad/internal/server/handler"
	"github.com/alanyoungcy/confidentialpad/internal/server/ws"
)

// ServerMode runs the HTTP API, the decryption gateway and the recorder.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// KeeperMode runs the housekeeping loops without the HTTP API.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting keeper mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	a.startKeeper(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startCore(ctx, g, deps)
	a.startKeeper(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startCore runs the gateway's fulfilment loop and the event recorder.
func (a *App) startCore(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		if err := deps.Gateway.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return deps.Recorder.Run(ctx)
	})
}

func (a *App) startKeeper(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var archiver keeper.Archiver
	if a.cfg.Keeper.Archive && deps.Reports != nil {
		archiver = deps.Reports
	}
	k := keeper.New(keeper.Config{
		Interval:        a.cfg.Keeper.Interval.Duration,
		ArchiveInterval: a.cfg.Keeper.ArchiveInterval.Duration,
		LockTTL:         a.cfg.Keeper.LockTTL.Duration,
		Operator:        deps.Owner,
	}, deps.Launchpad, deps.Exchange, archiver, deps.LockManager, a.logger)
	g.Go(func() error {
		return k.Run(ctx)
	})
}

// startHTTPServer adds the API server and, when a bus is wired, the
// WebSocket hub to g. The server shuts down gracefully on cancellation.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var reports handler.ReportSource
	if deps.Reports != nil {
		reports = deps.Reports
	}
	var encrypter handler.Encrypter
	var fund handler.Faucet
	if a.cfg.Server.DevInputs {
		encrypter = deps.FHE
		fund = faucet{tokens: deps.Tokens, native: deps.Native}
		a.logger.WarnContext(ctx, "dev inputs enabled: /api/inputs and /api/dev/fund are open")
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Campaigns: handler.NewCampaignHandler(deps.Launchpad, reports, a.logger),
		Exchange:  handler.NewExchangeHandler(deps.Exchange, a.logger),
		Ledger:    handler.NewLedgerHandler(deps.Tokens, deps.Native, fund, a.logger),
		Oracle:    handler.NewOracleHandler(deps.Gateway, encrypter, a.logger),
		History:   handler.NewHistoryHandler(deps.History, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: time.Now().UTC(),
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down", slog.Int("port", a.cfg.Server.Port))
		return srv.Shutdown(shutCtx)
	})
}
