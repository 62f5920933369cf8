package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/specialistvlad/taskgrid/internal/fsutil"
	"github.com/specialistvlad/taskgrid/internal/target"
)

const stateFile = "lastRun.json"

// RunState is the persisted record of a task's last run.
type RunState struct {
	Target      string    `json:"target"`
	Hash        string    `json:"hash"`
	ExitCode    int       `json:"exitCode"`
	LastRunTime time.Time `json:"lastRunTime"`
}

type stateEntry struct {
	mu     sync.Mutex
	loaded bool
	state  RunState
}

// StateRegistry owns the per-task run states of a workspace. Once loaded, a
// state is served from memory, so a concurrent reader never observes the disk
// copy while a newer value is waiting to be flushed.
type StateRegistry struct {
	dir      string
	writable bool

	mu      sync.Mutex
	entries map[target.Target]*stateEntry
}

func newStateRegistry(dir string, writable bool) *StateRegistry {
	return &StateRegistry{dir: dir, writable: writable, entries: make(map[target.Target]*stateEntry)}
}

// Dir returns the state directory of a target.
func (r *StateRegistry) Dir(t target.Target) string {
	return filepath.Join(r.dir, t.Project(), t.Task)
}

func (r *StateRegistry) entry(t target.Target) *stateEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[t]
	if !ok {
		e = &stateEntry{}
		r.entries[t] = e
	}
	return e
}

// load reads the state from disk once. e.mu must be held.
func (r *StateRegistry) load(t target.Target, e *stateEntry) error {
	if e.loaded {
		return nil
	}
	e.state = RunState{Target: t.String()}
	data, err := os.ReadFile(filepath.Join(r.Dir(t), stateFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("failed to read run state of %s: %w", t, err)
	default:
		if err := json.Unmarshal(data, &e.state); err != nil {
			return fmt.Errorf("failed to parse run state of %s: %w", t, err)
		}
	}
	e.loaded = true
	return nil
}

// Load returns the last run state of a target. A target that never ran
// yields a zero state.
func (r *StateRegistry) Load(t target.Target) (RunState, error) {
	e := r.entry(t)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := r.load(t, e); err != nil {
		return RunState{}, err
	}
	return e.state, nil
}

// Update applies fn to the target's state and flushes it. The in-memory
// state always changes; the disk copy only when the cache is writable.
func (r *StateRegistry) Update(t target.Target, fn func(*RunState)) error {
	e := r.entry(t)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := r.load(t, e); err != nil {
		return err
	}

	fn(&e.state)
	e.state.Target = t.String()
	if !r.writable {
		return nil
	}

	data, err := json.MarshalIndent(e.state, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(r.Dir(t), stateFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write run state of %s: %w", t, err)
	}
	return nil
}
