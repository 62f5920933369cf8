// Package runner drives a single task through its lifecycle: dependency
// check, hashing, cache resolution across every tier, execution with retries,
// archiving, and reporting of the resulting operation log.
package runner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/cache"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/digest"
	"github.com/specialistvlad/taskgrid/internal/hasher"
	"github.com/specialistvlad/taskgrid/internal/metrics"
	"github.com/specialistvlad/taskgrid/internal/process"
	"github.com/specialistvlad/taskgrid/internal/remote"
	"github.com/specialistvlad/taskgrid/internal/report"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/task"
	"github.com/specialistvlad/taskgrid/internal/toolchain"
	"github.com/specialistvlad/taskgrid/internal/vcs"
)

const tracerName = "github.com/specialistvlad/taskgrid/internal/runner"

// Options wires a Runner to its collaborators. Remote, Legacy and VCS may be
// nil; a nil VCS disables caching.
type Options struct {
	Root       string
	Cache      *cache.Engine
	Hasher     *hasher.TaskHasher
	Toolchains *toolchain.Registry
	VCS        vcs.VCS
	Commands   process.Builder
	Exec       CommandFunc
	Remote     RemoteCache
	Legacy     ArtifactStore
	Uploads    *remote.Ledger
	Mutexes    *MutexRegistry
	Reporter   report.Reporter
	// Archivable are target patterns whose outputs are archived even when
	// the task is not a build task.
	Archivable []target.Target
}

// Runner runs tasks. It is safe for concurrent use; each Run call handles
// one task.
type Runner struct {
	opts     Options
	archiver *Archiver
	hydrater *Hydrater
	tracer   trace.Tracer
}

// New creates a Runner, filling unset optional collaborators with defaults.
func New(opts Options) *Runner {
	if opts.Exec == nil {
		opts.Exec = process.Run
	}
	if opts.Commands == nil {
		opts.Commands = process.NewShellBuilder(opts.Root)
	}
	if opts.Toolchains == nil {
		opts.Toolchains = toolchain.NewRegistry()
	}
	if opts.Uploads == nil {
		opts.Uploads = remote.NewLedger()
	}
	if opts.Mutexes == nil {
		opts.Mutexes = NewMutexRegistry()
	}
	if opts.Reporter == nil {
		opts.Reporter = report.Nop{}
	}

	return &Runner{
		opts: opts,
		archiver: &Archiver{
			root:       opts.Root,
			cache:      opts.Cache,
			remote:     opts.Remote,
			legacy:     opts.Legacy,
			uploads:    opts.Uploads,
			archivable: opts.Archivable,
		},
		hydrater: &Hydrater{root: opts.Root, cache: opts.Cache, remote: opts.Remote, legacy: opts.Legacy},
		tracer:   otel.Tracer(tracerName),
	}
}

// Uploads returns the ledger collecting background uploads.
func (r *Runner) Uploads() *remote.Ledger {
	return r.opts.Uploads
}

// Run processes one RunTask node. The returned report is always non-nil and
// has already been handed to the reporter. Task failures are returned as
// errors after reporting; IsFatal tells whether the run must stop.
func (r *Runner) Run(ctx context.Context, actx *action.Context, node action.Node, t *task.Task) (*report.TaskReport, error) {
	ctx = ctxlog.With(ctx, "target", t.Target.String())
	ctx, span := r.tracer.Start(ctx, "runner.Run", trace.WithAttributes(attribute.String("target", t.Target.String())))
	defer span.End()

	run := &taskRun{Runner: r, actx: actx, node: node, task: t}
	err := run.run(ctx)
	rep := run.finish(ctx, err)

	span.SetAttributes(attribute.String("status", rep.Status.String()))
	if rep.Hash != "" {
		span.SetAttributes(attribute.String("hash", rep.Hash))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return rep, err
}

// taskRun is the state of one task moving through the runner.
type taskRun struct {
	*Runner
	actx *action.Context
	node action.Node
	task *task.Task

	ops    action.OperationList
	digest digest.Digest
}

func (tr *taskRun) hashed() bool {
	return tr.digest.Hash != ""
}

func (tr *taskRun) record(op *action.Operation) {
	if tr.hashed() && op.Hash == "" {
		op.Hash = tr.digest.Hash
	}
	tr.ops = append(tr.ops, op)
}

func (tr *taskRun) run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	ready, err := tr.dependenciesComplete()
	if err != nil {
		return err
	}
	if !ready {
		logger.Debug("Skipping task, a dependency did not complete.")
		tr.record(action.Finished(action.OpNoOperation, action.StatusSkipped))
		tr.actx.SetTargetState(tr.task.Target, action.Skipped())
		return nil
	}

	if !tr.cacheEnabled() {
		logger.Debug("Caching disabled for task.")
		return tr.execute(ctx)
	}

	if err := tr.generateHash(ctx); err != nil {
		return err
	}
	if tr.resolveCache(ctx) {
		return nil
	}
	metrics.CacheMisses.Inc()
	return tr.execute(ctx)
}

func (tr *taskRun) dependenciesComplete() (bool, error) {
	for _, dep := range tr.task.Deps {
		state, ok := tr.actx.TargetState(dep)
		if !ok {
			return false, fmt.Errorf("%w: %s (required by %s)", ErrMissingDependencyState, dep, tr.task.Target)
		}
		if !state.IsComplete() {
			return false, nil
		}
	}
	return true, nil
}

func (tr *taskRun) cacheEnabled() bool {
	return tr.task.Options.Cache && tr.opts.VCS != nil && tr.opts.VCS.IsEnabled()
}

func (tr *taskRun) generateHash(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	ctx, span := tr.tracer.Start(ctx, "runner.hash")
	defer span.End()

	op := action.Begin(action.OpHashGeneration)
	h := hasher.New(tr.task.Target.String())

	err := tr.opts.Toolchains.HashTask(ctx, tr.task, h)
	if err == nil {
		err = tr.opts.Hasher.HashTask(ctx, h, tr.actx, tr.task, tr.node)
	}
	var manifest []byte
	if err == nil {
		tr.digest, manifest, err = h.Generate()
	}
	if err != nil {
		err = fmt.Errorf("failed to hash %s: %w", tr.task.Target, err)
		op.Fail(err)
		tr.record(op)
		span.RecordError(err)
		return err
	}

	if err := tr.opts.Cache.WriteManifest(tr.digest.Hash, manifest); err != nil {
		logger.Warn("Failed to write hash manifest.", "hash", tr.digest.Hash, "error", err)
	}

	op.Finish(action.StatusPassed)
	tr.record(op)
	span.SetAttributes(attribute.String("hash", tr.digest.Hash))
	logger.Debug("Generated task hash.", "hash", tr.digest.Hash)
	return nil
}

// resolveCache walks the cache tiers in priority order and reports whether
// one of them satisfied the task.
func (tr *taskRun) resolveCache(ctx context.Context) bool {
	logger := ctxlog.FromContext(ctx)
	if !tr.opts.Cache.IsReadable() {
		logger.Debug("Cache is not readable, executing.")
		return false
	}

	hash := tr.digest.Hash
	lifetime := tr.task.Options.CacheLifetime
	now := time.Now()

	state, err := tr.opts.Cache.States.Load(tr.task.Target)
	if err != nil {
		logger.Warn("Failed to read previous run state, executing.", "error", err)
		return false
	}

	if state.ExitCode == 0 && state.Hash == hash {
		_, missing, err := resolveOutputs(tr.opts.Root, tr.task)
		switch {
		case err != nil || len(missing) > 0:
			logger.Debug("Previous outputs are gone.", "missing", missing)
		case cache.IsStale(state.LastRunTime, lifetime, now):
			logger.Debug("Previous run is stale.", "last_run", state.LastRunTime)
		default:
			tr.reusePrevious(ctx, state)
			return true
		}
	}

	if state.ExitCode != 0 {
		logger.Debug("Previous run failed, executing.", "exit_code", state.ExitCode)
		return false
	}

	if at, ok := tr.opts.Cache.ArchiveTime(hash); ok {
		if cache.IsStale(at, lifetime, now) {
			logger.Debug("Local archive is stale.", "tier", TierLocal)
		} else if tr.hydrate(ctx, TierLocal, at, func(ctx context.Context) (int, *action.Output, error) {
			return tr.hydrater.FromArchive(ctx, tr.opts.Cache.ArchivePath(hash))
		}) {
			return true
		}
	}

	if remoteEnabled(tr.opts.Remote) {
		result, err := tr.opts.Remote.GetActionResult(ctx, tr.digest)
		switch {
		case err != nil:
			logger.Warn("Remote cache lookup failed.", "tier", TierRemote, "error", err)
		case result == nil:
			logger.Debug("Remote cache miss.", "tier", TierRemote)
		case result.GetExitCode() != 0:
			logger.Debug("Remote result recorded a failure.", "tier", TierRemote)
		case cache.IsStale(remote.CompletedAt(result), lifetime, now):
			logger.Debug("Remote result is stale.", "tier", TierRemote)
		default:
			if tr.hydrate(ctx, TierRemote, remote.CompletedAt(result), func(ctx context.Context) (int, *action.Output, error) {
				return tr.hydrater.FromRemote(ctx, result)
			}) {
				return true
			}
		}
	}

	if legacyEnabled(tr.opts.Legacy) {
		artifact, url, err := tr.opts.Legacy.Get(ctx, hash)
		switch {
		case err != nil:
			logger.Warn("Artifact store lookup failed.", "tier", TierLegacy, "error", err)
		case artifact == nil:
			logger.Debug("Artifact store miss.", "tier", TierLegacy)
		case cache.IsStale(artifact.CreatedAt, lifetime, now):
			logger.Debug("Artifact is stale.", "tier", TierLegacy)
		default:
			if tr.hydrate(ctx, TierLegacy, artifact.CreatedAt, func(ctx context.Context) (int, *action.Output, error) {
				return tr.hydrater.FromLegacy(ctx, hash, url)
			}) {
				return true
			}
		}
	}
	return false
}

// reusePrevious completes the task from the outputs still on disk.
func (tr *taskRun) reusePrevious(ctx context.Context, state cache.RunState) {
	op := action.Begin(action.OpOutputHydration)
	op.Meta = string(TierPrevious)
	stdout, stderr := tr.opts.Cache.ReadLogs(tr.task.Target)
	op.Output = &action.Output{Stdout: stdout, Stderr: stderr}
	op.Finish(action.StatusCached)
	tr.record(op)

	metrics.CacheHits.WithLabelValues(string(TierPrevious)).Inc()
	ctxlog.FromContext(ctx).Debug("Reusing previous outputs.", "tier", TierPrevious, "hash", tr.digest.Hash)

	tr.persist(ctx, 0, state.LastRunTime)
	tr.actx.SetTargetState(tr.task.Target, action.Passed(tr.digest.Hash))
}

type restoreFunc func(ctx context.Context) (int, *action.Output, error)

// hydrate restores outputs from one tier. A failure, or a restore that left
// declared outputs missing, is recorded and reported as a miss.
func (tr *taskRun) hydrate(ctx context.Context, tier Tier, producedAt time.Time, restore restoreFunc) bool {
	logger := ctxlog.FromContext(ctx)
	ctx, span := tr.tracer.Start(ctx, "runner.hydrate", trace.WithAttributes(attribute.String("tier", string(tier))))
	defer span.End()

	op := action.Begin(action.OpOutputHydration)
	op.Meta = string(tier)

	if err := clearOutputs(tr.opts.Root, tr.task); err != nil {
		logger.Warn("Failed to clear outputs before hydration.", "error", err)
	}
	n, out, err := restore(ctx)
	if err == nil {
		err = verifyRestore(tr.opts.Root, tr.task, n, out)
	}
	if err != nil {
		op.Fail(err)
		tr.record(op)
		span.RecordError(err)
		logger.Warn("Hydration failed, falling through.", "tier", tier, "error", err)
		return false
	}

	status := action.StatusCached
	if tier == TierRemote {
		status = action.StatusCachedFromRemote
	}
	op.Output = out
	op.Finish(status)
	tr.record(op)
	span.SetAttributes(attribute.Int("entries", n))

	metrics.CacheHits.WithLabelValues(string(tier)).Inc()
	logger.Debug("Hydrated outputs.", "tier", tier, "hash", tr.digest.Hash, "entries", n)

	if err := tr.opts.Cache.SaveLogs(tr.task.Target, out.Stdout, out.Stderr); err != nil {
		logger.Warn("Failed to save logs.", "error", err)
	}
	if producedAt.IsZero() {
		producedAt = time.Now()
	}
	tr.persist(ctx, 0, producedAt)
	tr.actx.SetTargetState(tr.task.Target, action.Passed(tr.digest.Hash))
	return true
}

func (tr *taskRun) execute(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	ctx, span := tr.tracer.Start(ctx, "runner.execute")
	defer span.End()

	if name := tr.task.Options.Mutex; name != "" {
		op := action.Begin(action.OpMutexAcquisition)
		op.Meta = name
		release, err := tr.opts.Mutexes.Acquire(ctx, name)
		if err != nil {
			err = fmt.Errorf("failed to acquire mutex %s: %w", name, err)
			op.Fail(err)
			tr.record(op)
			return err
		}
		defer release()
		op.Finish(action.StatusPassed)
		tr.record(op)
	}

	cmd, err := tr.opts.Commands.Build(ctx, tr.actx, tr.task)
	if err != nil {
		return fmt.Errorf("failed to build command for %s: %w", tr.task.Target, err)
	}

	attempts := 1 + max(tr.task.Options.RetryCount, 0)
	var out *action.Output
	for attempt := 1; attempt <= attempts; attempt++ {
		op := action.Begin(action.OpTaskExecution)
		op.Meta = fmt.Sprintf("attempt %d/%d", attempt, attempts)

		out, err = tr.opts.Exec(ctx, cmd)
		if err != nil {
			err = fmt.Errorf("failed to run %s: %w", tr.task.Target, err)
			op.Fail(err)
			tr.record(op)
			return err
		}

		op.Output = out
		if out.ExitCode == 0 {
			op.Finish(action.StatusPassed)
			tr.record(op)
			break
		}
		op.Finish(action.StatusFailed)
		tr.record(op)
		logger.Warn("Task attempt failed.", "attempt", attempt, "exit_code", out.ExitCode)
	}
	span.SetAttributes(attribute.Int("exit_code", out.ExitCode))

	if err := tr.opts.Cache.SaveLogs(tr.task.Target, out.Stdout, out.Stderr); err != nil {
		logger.Warn("Failed to save logs.", "error", err)
	}

	if out.ExitCode != 0 {
		tr.persist(ctx, out.ExitCode, time.Now())
		return &RunFailedError{Target: tr.task.Target, ExitCode: out.ExitCode, Attempts: attempts, Stderr: out.Stderr}
	}

	if tr.hashed() && tr.archiver.IsArchivable(tr.task) {
		if err := tr.archive(ctx, out); err != nil {
			return err
		}
	}

	tr.persist(ctx, 0, time.Now())
	if tr.hashed() {
		tr.actx.SetTargetState(tr.task.Target, action.Passed(tr.digest.Hash))
	} else {
		tr.actx.SetTargetState(tr.task.Target, action.Passthrough())
	}
	return nil
}

func (tr *taskRun) archive(ctx context.Context, out *action.Output) error {
	ctx, span := tr.tracer.Start(ctx, "runner.archive")
	defer span.End()

	op := action.Begin(action.OpArchiveCreation)
	created, err := tr.archiver.Archive(ctx, tr.task, tr.digest, out)
	if err != nil {
		op.Fail(err)
		tr.record(op)
		span.RecordError(err)
		return err
	}
	if created {
		op.Finish(action.StatusPassed)
	} else {
		op.Finish(action.StatusSkipped)
	}
	tr.record(op)
	return nil
}

// persist records the outcome of this run as the task's last run.
func (tr *taskRun) persist(ctx context.Context, exitCode int, at time.Time) {
	err := tr.opts.Cache.States.Update(tr.task.Target, func(s *cache.RunState) {
		s.Hash = tr.digest.Hash
		s.ExitCode = exitCode
		s.LastRunTime = at
	})
	if err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to persist run state.", "error", err)
	}
}

// finish closes the operation log, updates the shared target state on
// failure and hands the report to the reporter.
func (tr *taskRun) finish(ctx context.Context, err error) *report.TaskReport {
	logger := ctxlog.FromContext(ctx)

	if err != nil {
		if !tr.ops.Has(action.OpTaskExecution) {
			op := action.Finished(action.OpTaskExecution, action.StatusAborted)
			op.Err = err
			tr.record(op)
		}
		tr.actx.SetTargetState(tr.task.Target, action.Failed())
	}

	status := tr.ops.FinalStatus()
	if err != nil && !status.IsFailure() {
		status = action.StatusFailed
	}

	rep := &report.TaskReport{
		Target:      tr.task.Target,
		Hash:        tr.digest.Hash,
		Status:      status,
		OutputStyle: tr.task.Options.OutputStyle,
		Operations:  tr.ops,
		Err:         err,
	}

	metrics.TasksTotal.WithLabelValues(status.String()).Inc()
	metrics.TaskDuration.WithLabelValues(status.String()).Observe(rep.Duration().Seconds())

	if rerr := tr.opts.Reporter.TaskFinished(ctx, rep); rerr != nil {
		logger.Warn("Failed to report task.", "error", rerr)
	}
	return rep
}
