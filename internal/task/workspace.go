package task

import (
	"fmt"
	"sort"

	"github.com/specialistvlad/taskgrid/internal/target"
)

// Project groups the tasks that live in one directory of the workspace.
type Project struct {
	ID   string
	Root string
	Tags []string
	// IsolatedDeps marks a project that installs its own dependencies
	// instead of sharing the workspace installation.
	IsolatedDeps bool
	Toolchain    string
	Tasks        map[string]*Task
}

// Workspace is the set of projects known to the engine.
type Workspace struct {
	Root     string
	Projects map[string]*Project
}

// NewWorkspace creates an empty workspace rooted at root.
func NewWorkspace(root string) *Workspace {
	return &Workspace{Root: root, Projects: make(map[string]*Project)}
}

// AddProject registers a project, filling in the back references of its tasks.
func (w *Workspace) AddProject(p *Project) {
	if p.Tasks == nil {
		p.Tasks = make(map[string]*Task)
	}
	for id, t := range p.Tasks {
		t.Target = target.New(p.ID, id)
		t.ProjectRoot = p.Root
		t.ProjectTags = p.Tags
		if t.Toolchain == "" {
			t.Toolchain = p.Toolchain
		}
	}
	w.Projects[p.ID] = p
}

// Task looks up a task by its project-scoped target.
func (w *Workspace) Task(t target.Target) (*Task, error) {
	if t.Scope != target.ScopeProject {
		return nil, fmt.Errorf("target %s is not project-scoped", t)
	}
	p, ok := w.Projects[t.ScopeID]
	if !ok {
		return nil, fmt.Errorf("unknown project %q in target %s", t.ScopeID, t)
	}
	tk, ok := p.Tasks[t.Task]
	if !ok {
		return nil, fmt.Errorf("unknown task %q in project %q", t.Task, t.ScopeID)
	}
	return tk, nil
}

// Expand resolves a target pattern into the concrete targets it addresses,
// sorted for determinism.
func (w *Workspace) Expand(pattern target.Target) ([]target.Target, error) {
	if pattern.Scope == target.ScopeProject {
		if _, err := w.Task(pattern); err != nil {
			return nil, err
		}
		return []target.Target{pattern}, nil
	}

	var matches []target.Target
	for _, p := range w.Projects {
		concrete := target.New(p.ID, pattern.Task)
		if _, ok := p.Tasks[pattern.Task]; ok && pattern.Matches(concrete, p.Tags) {
			matches = append(matches, concrete)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no tasks match target %s", pattern)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].String() < matches[j].String() })
	return matches, nil
}
