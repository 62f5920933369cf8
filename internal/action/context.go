package action

import (
	"maps"
	"sync"

	"github.com/specialistvlad/taskgrid/internal/target"
)

// TargetStateKind records how a task concluded in the current run.
type TargetStateKind int

const (
	// TargetPassed means the task completed with a cache digest.
	TargetPassed TargetStateKind = iota
	// TargetPassthrough means the task completed without caching.
	TargetPassthrough
	TargetSkipped
	TargetFailed
)

// TargetState is the per-target outcome shared between actions of a run.
type TargetState struct {
	Kind TargetStateKind
	Hash string
}

// Passed creates a completed state carrying the task digest.
func Passed(hash string) TargetState { return TargetState{Kind: TargetPassed, Hash: hash} }

// Passthrough creates a completed state for an uncached task.
func Passthrough() TargetState { return TargetState{Kind: TargetPassthrough} }

// Skipped creates the state of a task that never ran.
func Skipped() TargetState { return TargetState{Kind: TargetSkipped} }

// Failed creates the state of a task that failed.
func Failed() TargetState { return TargetState{Kind: TargetFailed} }

// IsComplete reports whether dependents may run after this state.
func (s TargetState) IsComplete() bool {
	return s.Kind == TargetPassed || s.Kind == TargetPassthrough
}

func (s TargetState) String() string {
	switch s.Kind {
	case TargetPassed:
		return "passed(" + s.Hash + ")"
	case TargetPassthrough:
		return "passthrough"
	case TargetSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Context is shared by every action of one pipeline run.
type Context struct {
	// PassthroughArgs are forwarded to the primary targets.
	PassthroughArgs []string
	// Env holds extra environment variables for the primary targets.
	Env map[string]string
	// PrimaryTargets are the targets requested by the user.
	PrimaryTargets map[target.Target]struct{}
	// TouchedFiles are workspace-relative paths changed in the working tree.
	TouchedFiles map[string]struct{}

	mu           sync.RWMutex
	targetStates map[target.Target]TargetState
}

// NewContext creates an empty action context.
func NewContext() *Context {
	return &Context{
		Env:            make(map[string]string),
		PrimaryTargets: make(map[target.Target]struct{}),
		TouchedFiles:   make(map[string]struct{}),
		targetStates:   make(map[target.Target]TargetState),
	}
}

// SetTargetState records the outcome of a target.
func (c *Context) SetTargetState(t target.Target, s TargetState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targetStates[t] = s
}

// TargetState returns the outcome of a target, if any has been recorded.
func (c *Context) TargetState(t target.Target) (TargetState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.targetStates[t]
	return s, ok
}

// TargetStates returns a snapshot of every recorded outcome.
func (c *Context) TargetStates() map[target.Target]TargetState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.targetStates)
}

// IsPrimary reports whether t was requested directly.
func (c *Context) IsPrimary(t target.Target) bool {
	_, ok := c.PrimaryTargets[t]
	return ok
}
