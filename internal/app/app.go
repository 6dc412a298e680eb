// Package app wires the storage backend, the engines and the blob layer
// into one runnable unit and handles process lifecycle. The HTTP/CLI
// surface is a separate component that embeds App and calls its engines.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phorest/code-push-server/internal/blob"
	"github.com/phorest/code-push-server/internal/config"
	"github.com/phorest/code-push-server/internal/logging"
	"github.com/phorest/code-push-server/internal/service"
	"github.com/phorest/code-push-server/internal/storage"
	"github.com/phorest/code-push-server/internal/storage/memory"
	"github.com/phorest/code-push-server/internal/storage/postgres"
)

// App exposes the engines to an embedding host. The single backend handle
// is constructed once here and passed into each engine explicitly, so
// tests can substitute the in-memory implementation of the same contract.
type App struct {
	Config   *config.Config
	Store    storage.Store
	Accounts *service.AccountService
	Releases *service.ReleaseService
	Access   *service.AccessService
	Resolver *blob.Resolver
	Blobs    blob.Store

	logger logging.Logger
	closer func() error
}

// NewApp builds the application from configuration. A ConnectionFailed
// from the postgres backend is returned to the caller, who decides whether
// startup should abort.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout)

	var (
		store  storage.Store
		closer func() error
	)
	switch cfg.StorageBackend {
	case "memory":
		store = memory.New()
		closer = func() error { return nil }
	case "postgres":
		pg, err := postgres.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("storage init error: %w", err)
		}
		store = pg
		closer = pg.Close
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}

	accounts := service.NewAccountService(store, logger, cfg)

	return &App{
		Config:   cfg,
		Store:    store,
		Accounts: accounts,
		Releases: service.NewReleaseService(store, logger, cfg),
		Access:   service.NewAccessService(store, accounts, logger, cfg),
		Resolver: blob.NewResolver(cfg.DownloadURLHost, cfg.DownloadTokenSecret, cfg.DownloadTokenValidity),
		Blobs:    blob.NewS3Store(cfg),
		logger:   logger,
		closer:   closer,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until the process receives a termination signal or ctx is
// cancelled, then releases the backend handle.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "storage engine ready", "backend", app.Config.StorageBackend)

	app.initSignalHandler(cancelFunc)

	<-ctx.Done()

	if err := app.closer(); err != nil {
		app.logger.Error(ctx, "storage close error", "error", err)
	}
	app.logger.Info(ctx, "stopped")
}
