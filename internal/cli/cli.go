package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/specialistvlad/taskgrid/internal/app"
	"github.com/specialistvlad/taskgrid/internal/config"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) *ExitError {
	return &ExitError{Code: 2, Message: err.Error()}
}

func failure(err error) *ExitError {
	return &ExitError{Code: 1, Message: err.Error()}
}

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	root            string
	configPath      string
	cacheDir        string
	cacheMode       string
	logFormat       string
	logLevel        string
	workers         int
	healthcheckPort int
}

// newApp validates the flags and creates the application. Invalid flags are
// usage errors; failing to load the workspace is a runtime failure.
func (o *rootOptions) newApp(ctx context.Context, outW io.Writer) (*app.App, error) {
	cfg, err := app.NewConfig(app.Config{
		Root:            o.root,
		ConfigPath:      o.configPath,
		CacheDir:        o.cacheDir,
		CacheMode:       o.cacheMode,
		LogFormat:       o.logFormat,
		LogLevel:        o.logLevel,
		HealthcheckPort: o.healthcheckPort,
		WorkerCount:     o.workers,
	})
	if err != nil {
		return nil, usageError(err)
	}
	slog.Debug("CLI configuration validated.", "root", cfg.Root, "config", cfg.ConfigPath)

	a, err := app.NewApp(ctx, outW, cfg, config.NewLoader())
	if err != nil {
		return nil, failure(err)
	}
	return a, nil
}

// NewRootCommand builds the command tree. Output, help included, goes to outW.
func NewRootCommand(outW io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "taskgrid",
		Short: "taskgrid - incremental task runner for monorepos",
		Long: `taskgrid runs the tasks of a monorepo workspace in dependency order and
skips work whose inputs have not changed, restoring outputs from the local
cache, a remote execution cache or an artifact store.`,
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(outW)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&opts.root, "root", ".", "Workspace root directory.")
	flags.StringVar(&opts.configPath, "config", "", "Path to a .hcl file or directory. Defaults to <root>/.taskgrid.")
	flags.StringVar(&opts.cacheDir, "cache-dir", "", "Local cache directory. Defaults to <root>/.taskgrid/cache.")
	flags.StringVar(&opts.cacheMode, "cache", "", "Override the cache mode: 'off', 'read', 'read-write' or 'write'.")
	flags.StringVar(&opts.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flags.IntVar(&opts.workers, "workers", 0, "Number of concurrent workers. 0 uses the configured value.")
	flags.IntVar(&opts.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")

	root.AddCommand(
		newRunCommand(opts, outW),
		newGraphCommand(opts, outW),
		newCleanCommand(opts, outW),
	)
	return root
}

// Execute runs the command line. Every returned error is an *ExitError:
// failures of a command exit with 1, anything cobra rejects exits with 2.
func Execute(ctx context.Context, outW io.Writer, args []string) error {
	slog.Debug("CLI parser started.")
	root := NewRootCommand(outW)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return usageError(err)
}

// targetArgs requires at least one target before any "--" separator.
func targetArgs(cmd *cobra.Command, args []string) error {
	targets := args
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		targets = args[:dash]
	}
	if len(targets) == 0 {
		return usageError(errors.New("at least one target is required, for example app:build or :test"))
	}
	return nil
}

// splitAtDash separates targets from the arguments passed through to tasks.
func splitAtDash(cmd *cobra.Command, args []string) (targets, passthrough []string) {
	if dash := cmd.ArgsLenAtDash(); dash >= 0 {
		return args[:dash], args[dash:]
	}
	return args, nil
}
