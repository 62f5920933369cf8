package builder

import (
	"context"
	"fmt"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/dag"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/toolchain"
)

// linkTask makes sure the RunTask node of t exists together with every node
// it depends on, and returns its index. Visited targets are linked once;
// a dependency cycle between tasks surfaces as a cycle in the graph.
func (b *Builder) linkTask(ctx context.Context, t target.Target, visited map[target.Target]bool) (dag.Index, error) {
	logger := ctxlog.FromContext(ctx).With("target", t.String())

	if t.Scope != target.ScopeProject {
		return 0, fmt.Errorf("dependency %s is not a concrete target", t)
	}
	tk, err := b.workspace.Task(t)
	if err != nil {
		return 0, err
	}

	idx, exists := b.runTasks[t]
	if !exists {
		idx = b.insertRunTask(tk, nil, nil)
	}
	if visited[t] {
		return idx, nil
	}
	visited[t] = true

	project := b.workspace.Projects[t.ScopeID]
	rt := b.toolchains.Get(tk.Toolchain).Runtime()
	if rt.IsSystem() && tk.Toolchain != "" && tk.Toolchain != toolchain.SystemID {
		return 0, fmt.Errorf("task %s uses unknown toolchain %q", t, tk.Toolchain)
	}

	if !rt.IsSystem() {

		setup := b.graph.Insert(action.SetupToolchain(rt))
		install := b.graph.Insert(action.InstallWorkspaceDeps(rt))
		if project.IsolatedDeps {
			install = b.graph.Insert(action.InstallProjectDeps(rt, project.ID))
		}
		sync := b.graph.Insert(action.SyncProject(rt, project.ID))

		logger.Debug("Linking toolchain actions.", "runtime", rt.String(), "isolated", project.IsolatedDeps)
		for _, edge := range [][2]dag.Index{{install, setup}, {sync, setup}, {idx, install}, {idx, sync}} {
			if err := b.graph.AddDependency(edge[0], edge[1]); err != nil {
				return 0, fmt.Errorf("error linking toolchain actions of %s: %w", t, err)
			}
		}
	} else {
		sync := b.graph.Insert(action.SyncProject(rt, project.ID))
		if err := b.graph.AddDependency(idx, sync); err != nil {
			return 0, fmt.Errorf("error linking project sync of %s: %w", t, err)
		}
	}

	for _, dep := range tk.Deps {
		dep = dep.Resolve(t.ScopeID)
		logger.Debug("Linking task dependency.", "depends_on", dep.String())
		depIdx, err := b.linkTask(ctx, dep, visited)
		if err != nil {
			return 0, fmt.Errorf("task %s depends on %s: %w", t, dep, err)
		}
		if depIdx == idx {
			return 0, fmt.Errorf("task %s depends on itself", t)
		}
		if err := b.graph.AddDependency(idx, depIdx); err != nil {
			return 0, fmt.Errorf("error linking task dependency: %w", err)
		}
	}
	return idx, nil
}
