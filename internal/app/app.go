package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/specialistvlad/taskgrid/internal/artifactstore"
	"github.com/specialistvlad/taskgrid/internal/cache"
	"github.com/specialistvlad/taskgrid/internal/config"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/remote"
	"github.com/specialistvlad/taskgrid/internal/task"
	"github.com/specialistvlad/taskgrid/internal/toolchain"
	"github.com/specialistvlad/taskgrid/internal/vcs"
)

// Version is reported to remote caches as the tool version.
var Version = "dev"

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx        context.Context
	outW       io.Writer
	config     *Config
	settings   *config.Config
	cache      *cache.Engine
	vcs        vcs.VCS
	toolchains *toolchain.Registry

	remote     *remote.Client
	store      *artifactstore.Store
	connected  bool
	httpServer *http.Server
}

// NewApp is the constructor for the main application. It builds an isolated
// logger, loads the workspace configuration and prepares the local cache.
// Remote tiers are connected lazily by the first run.
func NewApp(ctx context.Context, outW io.Writer, appConfig *Config, loader *config.Loader) (*App, error) {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx = ctxlog.WithLogger(ctx, logger)
	logger.Debug("Logger configured successfully.")

	settings, err := loader.Load(ctx, appConfig.Root, appConfig.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded.", "files", len(settings.Files), "projects", len(settings.Workspace.Projects))

	if appConfig.CacheMode != "" {
		mode, err := cache.ParseMode(appConfig.CacheMode)
		if err != nil {
			return nil, err
		}
		settings.Runner.CacheMode = mode
	}
	if appConfig.WorkerCount > 0 {
		settings.Runner.Workers = appConfig.WorkerCount
	}

	engine, err := cache.New(appConfig.CacheDir, settings.Runner.CacheMode)
	if err != nil {
		return nil, err
	}

	toolchains := toolchain.NewRegistry()
	for _, tc := range settings.Toolchains {
		toolchains.Register(tc)
	}
	logger.Debug("Toolchains registered.", "ids", toolchains.IDs())

	app := &App{
		ctx:        ctx,
		outW:       outW,
		config:     appConfig,
		settings:   settings,
		cache:      engine,
		vcs:        vcs.NewGit(appConfig.Root),
		toolchains: toolchains,
	}
	if err := app.healthCheckServer(); err != nil {
		return nil, err
	}
	return app, nil
}

// Workspace returns the loaded workspace.
func (app *App) Workspace() *task.Workspace {
	return app.settings.Workspace
}

// Cache returns the local cache engine.
func (app *App) Cache() *cache.Engine {
	return app.cache
}

// connectRemotes opens the remote cache and the artifact store once. A tier
// that cannot be reached stays disabled for the rest of the process.
func (app *App) connectRemotes(ctx context.Context) {
	if app.connected {
		return
	}
	app.connected = true
	logger := ctxlog.FromContext(ctx)

	if cfg := app.settings.Remote; cfg != nil {
		rc := *cfg
		rc.ToolName = "taskgrid"
		rc.ToolVersion = Version
		client, err := remote.Connect(ctx, rc)
		if err != nil {
			logger.Warn("Remote cache unavailable, continuing without it.", "host", cfg.Host, "error", err)
		} else {
			app.remote = client
			logger.Info("Connected to remote cache.", "host", cfg.Host)
		}
	}

	if cfg := app.settings.ArtifactStore; cfg != nil {
		store, err := artifactstore.Connect(ctx, *cfg)
		if err != nil {
			logger.Warn("Artifact store unavailable, continuing without it.", "host", cfg.Host, "error", err)
		} else {
			app.store = store
			logger.Info("Signed in to artifact store.", "host", cfg.Host, "repository", cfg.Repository)
		}
	}
}

// Close releases every connection held by the app.
func (app *App) Close() error {
	var errs []error
	if app.remote != nil {
		errs = append(errs, app.remote.Close())
	}
	if app.store != nil {
		errs = append(errs, app.store.Close())
	}
	errs = append(errs, app.closeHealthCheckServer())
	return errors.Join(errs...)
}
