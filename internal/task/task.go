// Package task defines the executable unit of the engine: a command declared
// by a project, together with the inputs that affect it, the outputs it
// produces, and the options that govern caching and execution.
package task

import (
	"path"
	"slices"
	"strings"
	"time"

	"github.com/specialistvlad/taskgrid/internal/target"
)

// Type classifies a task by what it produces.
type Type int

const (
	// TypeTest is a task that produces no outputs.
	TypeTest Type = iota
	// TypeBuild is a task that declares outputs.
	TypeBuild
	// TypeRun is a long-running or local-only task.
	TypeRun
)

func (t Type) String() string {
	switch t {
	case TypeBuild:
		return "build"
	case TypeRun:
		return "run"
	default:
		return "test"
	}
}

// Options govern how the runner treats a task.
type Options struct {
	// Cache enables hashing and every cache tier for the task.
	Cache bool
	// CacheLifetime bounds how old a cached result may be. Zero means forever.
	CacheLifetime time.Duration
	// Mutex names a lock that serializes every task sharing the name.
	Mutex string
	// RetryCount is the number of additional attempts after a failed run.
	RetryCount int
	// HashPassthroughArgs includes pass-through arguments in the task hash.
	HashPassthroughArgs bool
	// Local marks a task that never participates in CI or remote caching.
	Local bool
	// OutputStyle is forwarded to reporters ("buffer", "stream", "hash", "none").
	OutputStyle string
}

// DefaultOptions returns the options a task has when nothing is configured.
func DefaultOptions() Options {
	return Options{Cache: true, OutputStyle: "buffer"}
}

// Task is a fully resolved task definition.
type Task struct {
	Target target.Target
	// ProjectRoot is the project directory relative to the workspace root, using forward slashes.
	ProjectRoot string
	// ProjectTags are the tags of the owning project.
	ProjectTags []string
	Toolchain   string

	Command string
	Args    []string
	Env     map[string]string

	// Deps are the tasks that must complete before this one.
	Deps []target.Target
	// Inputs are files, globs or environment variables ("$NAME"). Paths are
	// project-relative unless prefixed with "/", which makes them workspace-relative.
	Inputs []string
	// Outputs are files, directories or globs produced by the task, resolved like Inputs.
	Outputs []string

	Options Options
}

// Type derives the task type from its declaration.
func (t *Task) Type() Type {
	switch {
	case len(t.Outputs) > 0:
		return TypeBuild
	case t.Options.Local:
		return TypeRun
	default:
		return TypeTest
	}
}

// IsBuildType reports whether the task declares outputs.
func (t *Task) IsBuildType() bool {
	return t.Type() == TypeBuild
}

// InputEnv returns the names of environment variables declared as inputs.
func (t *Task) InputEnv() []string {
	var names []string
	for _, in := range t.Inputs {
		if strings.HasPrefix(in, "$") {
			names = append(names, in[1:])
		}
	}
	slices.Sort(names)
	return names
}

// InputFiles returns literal, workspace-relative input paths.
func (t *Task) InputFiles() []string {
	var files []string
	for _, in := range t.Inputs {
		if strings.HasPrefix(in, "$") || IsGlob(in) {
			continue
		}
		files = append(files, t.WorkspacePath(in))
	}
	return files
}

// InputGlobs returns workspace-relative input glob patterns.
func (t *Task) InputGlobs() []string {
	var globs []string
	for _, in := range t.Inputs {
		if !strings.HasPrefix(in, "$") && IsGlob(in) {
			globs = append(globs, t.WorkspacePath(in))
		}
	}
	return globs
}

// OutputPaths returns the literal, workspace-relative outputs.
func (t *Task) OutputPaths() []string {
	var paths []string
	for _, out := range t.Outputs {
		if !IsGlob(out) {
			paths = append(paths, t.WorkspacePath(out))
		}
	}
	return paths
}

// OutputGlobs returns workspace-relative output glob patterns.
func (t *Task) OutputGlobs() []string {
	var globs []string
	for _, out := range t.Outputs {
		if IsGlob(out) {
			globs = append(globs, t.WorkspacePath(out))
		}
	}
	return globs
}

// WorkspacePath resolves a declared path against the project root.
func (t *Task) WorkspacePath(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(strings.TrimPrefix(p, "/"))
	}
	return path.Clean(path.Join(t.ProjectRoot, p))
}

// IsGlob reports whether a declared path contains glob syntax.
func IsGlob(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
