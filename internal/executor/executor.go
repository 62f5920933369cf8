// Package executor runs an action graph batch by batch over a bounded pool
// of workers.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/builder"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/remote"
	"github.com/specialistvlad/taskgrid/internal/report"
	"github.com/specialistvlad/taskgrid/internal/task"
)

// ErrTasksFailed is returned when at least one task of the run failed.
var ErrTasksFailed = errors.New("tasks failed")

// TaskRunner runs a single task. *runner.Runner implements it.
type TaskRunner interface {
	Run(ctx context.Context, actx *action.Context, node action.Node, t *task.Task) (*report.TaskReport, error)
	Uploads() *remote.Ledger
}

// Options configure an Executor.
type Options struct {
	// Workers bounds how many actions of a batch run at once. Zero means
	// the number of CPUs.
	Workers int
	Runner  TaskRunner
	// Handler processes every node that is not a task run.
	Handler ActionHandler
	// Reporter receives the run summary.
	Reporter report.Reporter
	// IsFatal tells whether a task error must abort the whole run.
	IsFatal func(error) bool
}

// Executor is responsible for orchestrating the end-to-end execution of an
// action graph.
type Executor struct {
	opts   Options
	tracer trace.Tracer
}

// New creates an Executor.
func New(opts Options) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Handler == nil {
		opts.Handler = NopHandler{}
	}
	if opts.Reporter == nil {
		opts.Reporter = report.Nop{}
	}
	if opts.IsFatal == nil {
		opts.IsFatal = func(error) bool { return false }
	}
	return &Executor{opts: opts, tracer: otel.Tracer("github.com/specialistvlad/taskgrid/internal/executor")}
}

// run is the state of one Execute call.
type run struct {
	*Executor
	graph *builder.Graph
	actx  *action.Context

	mu       sync.Mutex
	summary  report.RunSummary
	failures []error
}

func (r *run) recordTask(rep *report.TaskReport, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Add(rep.Status)
	if err != nil {
		r.failures = append(r.failures, err)
	}
}

// Execute runs every batch of g in order. Task failures do not stop the run,
// their dependents are skipped instead; a fatal task error or a failing
// action handler aborts it. Pending uploads are drained before returning.
func (e *Executor) Execute(ctx context.Context, g *builder.Graph, actx *action.Context) (*report.RunSummary, error) {
	logger := ctxlog.FromContext(ctx)
	ctx, span := e.tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.Int("nodes", g.Len()),
		attribute.Int("batches", len(g.Batches)),
	))
	defer span.End()

	r := &run{Executor: e, graph: g, actx: actx}
	r.summary.StartedAt = time.Now()

	logger.Info("Executing action graph.", "nodes", g.Len(), "batches", len(g.Batches), "workers", e.opts.Workers)

	var fatal error
	for i, batch := range g.Batches {
		if err := r.dispatch(ctx, i, batch); err != nil {
			fatal = err
			break
		}
	}

	if e.opts.Runner != nil {
		pending := e.opts.Runner.Uploads().Pending()
		if pending > 0 {
			logger.Info("Waiting for uploads to finish.", "pending", pending)
		}
		if err := e.opts.Runner.Uploads().Drain(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Some uploads failed.", "error", err)
		}
	}

	r.summary.Duration = time.Since(r.summary.StartedAt)
	var err error
	switch {
	case fatal != nil:
		err = fatal
	case len(r.failures) > 0:
		err = fmt.Errorf("%w: %d of %d: %w", ErrTasksFailed, len(r.failures), r.summary.Total(), errors.Join(r.failures...))
	}
	r.summary.Err = err

	if rerr := e.opts.Reporter.RunFinished(ctx, &r.summary); rerr != nil {
		logger.Warn("Failed to report run.", "error", rerr)
	}
	if err != nil {
		span.RecordError(err)
	}
	return &r.summary, err
}
