package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/builder"
	"github.com/specialistvlad/taskgrid/internal/cache"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/executor"
	"github.com/specialistvlad/taskgrid/internal/hasher"
	"github.com/specialistvlad/taskgrid/internal/report"
	"github.com/specialistvlad/taskgrid/internal/runner"
	"github.com/specialistvlad/taskgrid/internal/target"
)

// RunOptions select what a run executes.
type RunOptions struct {
	Targets []string
	// Args are passed through to the primary tasks.
	Args []string
	// Env holds extra "KEY=VALUE" pairs for the primary tasks.
	Env []string
}

func (app *App) withLogger(ctx context.Context) context.Context {
	return ctxlog.WithLogger(ctx, ctxlog.FromContext(app.ctx))
}

// BuildGraph expands targets into a validated action graph.
func (app *App) BuildGraph(ctx context.Context, opts RunOptions) (*builder.Graph, error) {
	ctx = app.withLogger(ctx)
	if len(opts.Targets) == 0 {
		return nil, fmt.Errorf("no targets requested")
	}

	requests := make([]builder.Request, 0, len(opts.Targets))
	for _, raw := range opts.Targets {
		t, err := target.Parse(raw)
		if err != nil {
			return nil, err
		}
		requests = append(requests, builder.Request{Target: t, Args: opts.Args, Env: opts.Env})
	}

	g, err := builder.New(app.settings.Workspace, app.toolchains).Build(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("failed to build action graph: %w", err)
	}
	return g, nil
}

// Run executes the requested targets and everything they depend on.
func (app *App) Run(ctx context.Context, opts RunOptions) (*report.RunSummary, error) {
	ctx = app.withLogger(ctx)
	logger := ctxlog.FromContext(ctx)
	logger.Debug("App.Run method started.", "targets", opts.Targets)

	env, err := parseEnv(opts.Env)
	if err != nil {
		return nil, err
	}
	g, err := app.BuildGraph(ctx, opts)
	if err != nil {
		return nil, err
	}

	actx := action.NewContext()
	actx.PassthroughArgs = opts.Args
	actx.Env = env
	for _, t := range g.Primary {
		actx.PrimaryTargets[t] = struct{}{}
	}
	if app.vcs.IsEnabled() && !app.settings.Runner.Hasher.CI {
		touched, err := app.vcs.TouchedFiles(ctx)
		if err != nil {
			logger.Warn("Failed to list touched files.", "error", err)
		} else {
			for _, f := range touched.All() {
				actx.TouchedFiles[f] = struct{}{}
			}
		}
	}

	app.connectRemotes(ctx)

	reporters := report.Multi{report.NewLogReporter(app.outW)}
	if app.settings.Runner.History && app.cache.IsWritable() {
		history, err := report.OpenHistory(app.cache.Root())
		if err != nil {
			logger.Warn("Run history unavailable.", "error", err)
		} else {
			defer history.Close()
			reporters = append(reporters, history)
			logger.Debug("Recording run history.", "run_id", history.RunID())
		}
	}

	runnerOpts := runner.Options{
		Root:       app.config.Root,
		Cache:      app.cache,
		Hasher:     hasher.NewTaskHasher(app.config.Root, app.vcs, app.settings.Runner.Hasher),
		Toolchains: app.toolchains,
		VCS:        app.vcs,
		Reporter:   reporters,
		Archivable: app.settings.Runner.ArchivableTargets,
	}
	if app.remote != nil {
		runnerOpts.Remote = app.remote
	}
	if app.store != nil {
		runnerOpts.Legacy = app.store
	}

	exec := executor.New(executor.Options{
		Workers:  app.settings.Runner.Workers,
		Runner:   runner.New(runnerOpts),
		Reporter: reporters,
		IsFatal:  runner.IsFatal,
	})

	logger.Info("Starting run.", "nodes", g.Len(), "primary", len(g.Primary))
	summary, err := exec.Execute(ctx, g, actx)
	logger.Info("Run finished.", "duration", summary.Duration.Round(time.Millisecond), "failed", summary.Failed)
	return summary, err
}

// parseEnv turns "KEY=VALUE" pairs into a map. Later pairs win.
func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment variable %q, expected KEY=VALUE", pair)
		}
		env[key] = value
	}
	return env, nil
}

// Clean removes cached archives and manifests older than lifetime.
func (app *App) Clean(ctx context.Context, lifetime time.Duration) (cache.CleanStats, error) {
	ctx = app.withLogger(ctx)
	stats, err := app.cache.Clean(ctx, lifetime)
	if err != nil {
		return stats, err
	}
	ctxlog.FromContext(ctx).Info("Cache cleaned.", "files", stats.Files, "bytes", stats.Bytes)
	return stats, nil
}
