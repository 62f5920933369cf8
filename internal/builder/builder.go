package builder

import (
	"context"
	"fmt"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/dag"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/task"
	"github.com/specialistvlad/taskgrid/internal/toolchain"
)

// Request is one target pattern asked for by the user.
type Request struct {
	Target target.Target
	// Args are pass-through arguments for the primary tasks.
	Args []string
	// Env holds extra "KEY=VALUE" pairs for the primary tasks.
	Env []string
}

// Graph is the output of a build: the action graph plus the task behind
// every RunTask node.
type Graph struct {
	*dag.Graph
	Tasks map[dag.Index]*task.Task
	// Primary are the concrete targets the requests expanded to.
	Primary []target.Target
	// Batches is the validated topological order of the graph.
	Batches [][]dag.Index
}

// Task returns the task behind a RunTask node, or nil for other nodes.
func (g *Graph) Task(idx dag.Index) *task.Task {
	return g.Tasks[idx]
}

// Builder expands requested targets into an action graph.
type Builder struct {
	workspace  *task.Workspace
	toolchains *toolchain.Registry

	graph    *dag.Graph
	tasks    map[dag.Index]*task.Task
	runTasks map[target.Target]dag.Index
}

// New creates a builder over a workspace. A nil registry only knows the
// system toolchain.
func New(ws *task.Workspace, toolchains *toolchain.Registry) *Builder {
	if toolchains == nil {
		toolchains = toolchain.NewRegistry()
	}
	return &Builder{workspace: ws, toolchains: toolchains}
}

// Build constructs and validates the action graph for the requests.
func (b *Builder) Build(ctx context.Context, requests []Request) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting action graph construction.", "requests", len(requests))

	b.graph = dag.New()
	b.tasks = make(map[dag.Index]*task.Task)
	b.runTasks = make(map[target.Target]dag.Index)

	// First pass: primary RunTask nodes, so they keep their arguments even
	// when another primary task depends on them.
	var primary []target.Target
	for _, req := range requests {
		targets, err := b.workspace.Expand(req.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", req.Target, err)
		}
		for _, t := range targets {
			if _, exists := b.runTasks[t]; exists {
				continue
			}
			tk, err := b.workspace.Task(t)
			if err != nil {
				return nil, err
			}
			b.insertRunTask(tk, req.Args, req.Env)
			primary = append(primary, t)
		}
	}
	logger.Debug("Build: Primary node creation complete.", "primary_count", len(primary))

	// Second pass: everything the primary tasks need.
	visited := make(map[target.Target]bool)
	for _, t := range primary {
		if _, err := b.linkTask(ctx, t, visited); err != nil {
			return nil, err
		}
	}
	logger.Debug("Build: Dependency expansion complete.", "node_count", b.graph.Len())

	// Final validation: ordering also reports cycles.
	batches, err := b.graph.BatchedTopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("error validating action graph: %w", err)
	}

	logger.Info("Build: Action graph construction successful.", "nodes", b.graph.Len(), "batches", len(batches))
	return &Graph{Graph: b.graph, Tasks: b.tasks, Primary: primary, Batches: batches}, nil
}

func (b *Builder) insertRunTask(tk *task.Task, args, env []string) dag.Index {
	idx := b.graph.Insert(action.RunTask(tk.Target, args, env))
	b.runTasks[tk.Target] = idx
	b.tasks[idx] = tk
	return idx
}
