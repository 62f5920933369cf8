// Package target parses and matches task targets.
//
// A target addresses a task within a project using the form "project:task".
// Patterns may widen the scope: ":task" addresses the task in every project,
// "#tag:task" addresses it in every project carrying the tag, "~:task" refers
// to the owning project and "^:task" to the owning project's dependencies.
package target

import (
	"fmt"
	"regexp"
	"strings"
)

// Scope describes which projects a target addresses.
type Scope int

const (
	// ScopeProject addresses a single, named project ("app:build").
	ScopeProject Scope = iota
	// ScopeAll addresses every project (":build").
	ScopeAll
	// ScopeTag addresses every project with a tag ("#frontend:build").
	ScopeTag
	// ScopeOwn addresses the project that declares the reference ("~:build").
	ScopeOwn
	// ScopeDeps addresses the dependencies of the declaring project ("^:build").
	ScopeDeps
)

var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_@][a-zA-Z0-9_./@-]*$`)

// Target is a parsed task address. It is comparable and safe to use as a map key.
type Target struct {
	Scope Scope
	// ScopeID holds the project id for ScopeProject and the tag for ScopeTag.
	ScopeID string
	Task    string
}

// New builds a project-scoped target.
func New(project, task string) Target {
	return Target{Scope: ScopeProject, ScopeID: project, Task: task}
}

// Parse creates a Target from its canonical string form.
func Parse(raw string) (Target, error) {
	if raw == "" {
		return Target{}, fmt.Errorf("target cannot be empty")
	}

	scopePart, task, ok := strings.Cut(raw, ":")
	if !ok {
		return Target{}, fmt.Errorf("invalid target %q: expected format project:task", raw)
	}
	if !idRegex.MatchString(task) {
		return Target{}, fmt.Errorf("invalid task id %q in target %q", task, raw)
	}

	t := Target{Task: task}
	switch {
	case scopePart == "":
		t.Scope = ScopeAll
	case scopePart == "~":
		t.Scope = ScopeOwn
	case scopePart == "^":
		t.Scope = ScopeDeps
	case strings.HasPrefix(scopePart, "#"):
		t.Scope = ScopeTag
		t.ScopeID = scopePart[1:]
		if !idRegex.MatchString(t.ScopeID) {
			return Target{}, fmt.Errorf("invalid tag %q in target %q", t.ScopeID, raw)
		}
	default:
		if !idRegex.MatchString(scopePart) {
			return Target{}, fmt.Errorf("invalid project id %q in target %q", scopePart, raw)
		}
		t.Scope = ScopeProject
		t.ScopeID = scopePart
	}
	return t, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(raw string) Target {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the canonical representation of the target.
func (t Target) String() string {
	switch t.Scope {
	case ScopeAll:
		return ":" + t.Task
	case ScopeOwn:
		return "~:" + t.Task
	case ScopeDeps:
		return "^:" + t.Task
	case ScopeTag:
		return "#" + t.ScopeID + ":" + t.Task
	default:
		return t.ScopeID + ":" + t.Task
	}
}

// Project returns the owning project id, or an empty string when the target
// is not project-scoped.
func (t Target) Project() string {
	if t.Scope == ScopeProject {
		return t.ScopeID
	}
	return ""
}

// Matches reports whether the pattern t addresses the concrete target other,
// whose project carries the given tags.
func (t Target) Matches(other Target, tags []string) bool {
	if t.Task != other.Task {
		return false
	}
	switch t.Scope {
	case ScopeAll:
		return true
	case ScopeProject:
		return t.ScopeID == other.ScopeID
	case ScopeTag:
		for _, tag := range tags {
			if tag == t.ScopeID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Resolve rewrites an owner-relative target ("~:task") against the owning
// project. Other scopes are returned unchanged.
func (t Target) Resolve(owner string) Target {
	if t.Scope == ScopeOwn {
		return New(owner, t.Task)
	}
	return t
}
