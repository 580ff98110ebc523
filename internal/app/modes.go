package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/equitydesk/vestd/internal/notify"
	"github.com/equitydesk/vestd/internal/server"
	"github.com/equitydesk/vestd/internal/server/handler"
	"github.com/equitydesk/vestd/internal/server/ws"
	"github.com/equitydesk/vestd/internal/service"
)

// ServerMode runs the full API server: grant services backed by Postgres,
// Redis for locks, caching, and event fan-out, the WebSocket hub, and the
// notification relay.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	return a.runServer(ctx, deps)
}

// DevMode runs the same API server as ServerMode but entirely in memory; Wire
// already substituted in-process stores, locks, and the signal bus. Useful
// for local development and integration testing without external backends.
func (a *App) DevMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting dev mode (in-memory backends)")
	return a.runServer(ctx, deps)
}

// ArchiveMode performs a one-shot export of closed grants older than the
// retention cutoff to object storage, then exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	count, err := deps.Archiver.ArchiveClosedGrants(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete", slog.Int64("grants_archived", count))
	return nil
}

// runServer builds the services and HTTP/WebSocket stack on top of the wired
// dependencies and blocks until the context is cancelled.
func (a *App) runServer(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	grantSvc := service.NewGrantService(
		deps.GrantStore, deps.LockManager, deps.ProjectionCache,
		deps.SignalBus, deps.AuditStore, a.logger,
	)
	vestSvc := service.NewVestingService(
		deps.GrantStore, deps.LockManager, deps.ProjectionCache,
		deps.SignalBus, deps.AuditStore, a.logger,
	)
	exerSvc := service.NewExerciseService(
		deps.GrantStore, deps.LockManager, deps.ProjectionCache,
		deps.SignalBus, deps.AuditStore, a.logger,
	)

	// WebSocket hub bridges the signal bus to connected dashboards.
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	// Notification relay forwards grant events to configured webhooks.
	if deps.Notifier != nil && deps.Notifier.HasSenders() {
		relay := notify.NewRelay(deps.SignalBus, deps.Notifier, a.logger)
		g.Go(func() error {
			err := relay.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
		},
		server.Handlers{
			Health: handler.NewHealthHandler(a.cfg.Mode),
			Grants: handler.NewGrantHandler(grantSvc, vestSvc, exerSvc, a.logger),
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}
