// Package app wires the daemon together: store, feed vault, ICS provider,
// mapping engine, importer, scheduled sync, and the HTTP listeners.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/hearthhq/hearth/internal/api"
	"github.com/hearthhq/hearth/internal/auth"
	"github.com/hearthhq/hearth/internal/config"
	"github.com/hearthhq/hearth/internal/importer"
	"github.com/hearthhq/hearth/internal/mapping"
	"github.com/hearthhq/hearth/internal/provider"
	"github.com/hearthhq/hearth/internal/security"
	"github.com/hearthhq/hearth/internal/store"
)

type Application struct {
	cfg      config.Config
	store    *store.Store
	provider provider.CalendarProvider
	engine   *mapping.Engine
	importer *importer.Importer
	logger   *slog.Logger
}

// New builds the application graph on an already-open store. The provider
// may be nil, in which case an ICS provider backed by the source registry
// and the feed vault is constructed.
func New(cfg config.Config, st *store.Store, p provider.CalendarProvider, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if p == nil {
		var vaultFeeds auth.Feeds
		if cfg.FeedVaultPath != "" {
			feeds, err := auth.Vault{Path: cfg.FeedVaultPath}.Load(cfg.FeedVaultPass)
			if err != nil {
				return nil, fmt.Errorf("load feed vault: %w", err)
			}
			vaultFeeds = feeds
		}
		p = provider.NewICSProvider(newRegistryResolver(st, vaultFeeds), nil)
	}

	engine := mapping.New(st, logger)
	imp := importer.New(st, p, engine, logger)
	imp.WindowPast = cfg.SyncWindowPast
	imp.WindowFuture = cfg.SyncWindowFuture

	return &Application{
		cfg:      cfg,
		store:    st,
		provider: p,
		engine:   engine,
		importer: imp,
		logger:   logger,
	}, nil
}

func (a *Application) Run(ctx context.Context) error {
	if a.cfg.SeedFile != "" {
		if err := ApplySeed(ctx, a.store, a.cfg.SeedFile); err != nil {
			return err
		}
		a.logger.Info("household seed applied", "path", a.cfg.SeedFile)
	}

	server := api.New(api.Options{
		Store:    a.store,
		Engine:   a.engine,
		Importer: a.importer,
		Guard: security.TokenGuard{
			Enabled: a.cfg.RequireBearerToken,
			Token:   a.cfg.BearerToken,
		},
		Logger: a.logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 3)
	wg := sync.WaitGroup{}

	if a.cfg.BindAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeTCP(ctx, a.cfg.BindAddress); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("tcp server: %w", err)
			}
		}()
	}
	if a.cfg.UnixSocketPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeUnix(ctx, a.cfg.UnixSocketPath); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("unix server: %w", err)
			}
		}()
	}

	if a.cfg.SyncSchedule != "" {
		stopCron, err := a.startScheduler(ctx)
		if err != nil {
			cancel()
			wg.Wait()
			return err
		}
		defer stopCron()
	}

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	case <-ctx.Done():
		wg.Wait()
		return nil
	}
}

// startScheduler runs SyncAll on the configured cron schedule. Sync errors
// are logged, never fatal; the next tick retries.
func (a *Application) startScheduler(ctx context.Context) (func(), error) {
	c := cron.New()
	_, err := c.AddFunc(a.cfg.SyncSchedule, func() {
		summary, err := a.importer.SyncAll(ctx, "")
		if err != nil {
			a.logger.Error("scheduled sync failed", "error", err)
			return
		}
		a.logger.Info("scheduled sync finished",
			"sources", len(summary.Sources), "failed", summary.Failed)
	})
	if err != nil {
		return nil, fmt.Errorf("sync schedule %q: %w", a.cfg.SyncSchedule, err)
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
