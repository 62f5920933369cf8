// Package toolchain lets language toolchains contribute to task hashes and
// describes the runtime each task needs.
package toolchain

import (
	"context"
	"sort"
	"sync"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/hasher"
	"github.com/specialistvlad/taskgrid/internal/task"
)

// SystemID is the toolchain of tasks that run on the host as-is.
const SystemID = "system"

// Plugin is implemented by every toolchain.
type Plugin interface {
	ID() string
	Runtime() action.Runtime
	// HashTask adds toolchain-specific content to the hash of t.
	HashTask(ctx context.Context, t *task.Task, h *hasher.Hasher) error
}

// Registry resolves plugins by id.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates a registry with the system toolchain registered.
func NewRegistry() *Registry {
	r := &Registry{plugins: make(map[string]Plugin)}
	r.Register(system{})
	return r
}

// Register adds or replaces a plugin.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.ID()] = p
}

// Get returns the plugin for id, falling back to the system toolchain.
func (r *Registry) Get(id string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.plugins[id]; ok {
		return p
	}
	return r.plugins[SystemID]
}

// IDs returns the registered toolchain ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HashTask lets the task's toolchain contribute to its hash.
func (r *Registry) HashTask(ctx context.Context, t *task.Task, h *hasher.Hasher) error {
	return r.Get(t.Toolchain).HashTask(ctx, t, h)
}

type system struct{}

func (system) ID() string { return SystemID }

func (system) Runtime() action.Runtime { return action.Runtime{Toolchain: SystemID} }

func (system) HashTask(context.Context, *task.Task, *hasher.Hasher) error { return nil }

// Versioned is a toolchain pinned to a version declared in configuration.
type Versioned struct {
	Name    string
	Version string
	// Files are workspace-relative files whose presence matters to the toolchain, such as lockfiles.
	Files []string
}

func (v *Versioned) ID() string { return v.Name }

func (v *Versioned) Runtime() action.Runtime {
	return action.Runtime{Toolchain: v.Name, Version: v.Version}
}

func (v *Versioned) HashTask(_ context.Context, _ *task.Task, h *hasher.Hasher) error {
	return h.Hash("toolchain:"+v.Name, struct {
		Version string   `json:"version"`
		Files   []string `json:"files,omitempty"`
	}{v.Version, v.Files})
}
