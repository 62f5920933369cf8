package executor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/dag"
	"github.com/specialistvlad/taskgrid/internal/report"
)

// dispatch runs every node of a batch and waits for all of them. The returned
// error is fatal to the run.
func (r *run) dispatch(ctx context.Context, number int, batch []dag.Index) error {
	logger := ctxlog.FromContext(ctx).With("batch", number)
	logger.Debug("Dispatching batch.", "size", len(batch))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)

	for _, idx := range batch {
		node := r.graph.Node(idx)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if node.Kind == action.KindRunTask {
				return r.runTask(gctx, idx, node)
			}
			return r.runAction(gctx, node)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Aborting run.", "error", err)
		return err
	}
	return nil
}

func (r *run) runTask(ctx context.Context, idx dag.Index, node action.Node) error {
	t := r.graph.Task(idx)
	if t == nil {
		return fmt.Errorf("no task for action %s", node.Label())
	}
	if r.opts.Runner == nil {
		return fmt.Errorf("no task runner configured for action %s", node.Label())
	}

	rep, err := r.opts.Runner.Run(ctx, r.actx, node, t)
	if rep == nil {
		rep = &report.TaskReport{Target: t.Target, Status: action.StatusAborted, Err: err}
	}
	r.recordTask(rep, err)
	if err == nil {
		return nil
	}
	if r.opts.IsFatal(err) {
		return err
	}
	ctxlog.FromContext(ctx).Error("Task failed.", "target", t.Target.String(), "error", err)
	return nil
}

func (r *run) runAction(ctx context.Context, node action.Node) error {
	logger := ctxlog.FromContext(ctx).With("action", node.Label())

	op, err := r.opts.Handler.Handle(ctx, r.actx, node)
	if err != nil {
		return fmt.Errorf("action %s failed: %w", node.Label(), err)
	}
	if op != nil {
		logger.Debug("Action finished.", "operation", op.Kind.String(), "status", op.Status.String(), "duration", op.Duration())
	}
	return nil
}
