// Package action models the units of work scheduled by the engine: graph
// nodes, the operations recorded while processing them, and the context
// shared by every action of a run.
package action

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/specialistvlad/taskgrid/internal/target"
)

// Kind discriminates the node variants.
type Kind int

const (
	KindSetupToolchain Kind = iota
	KindInstallWorkspaceDeps
	KindInstallProjectDeps
	KindSyncWorkspace
	KindSyncProject
	KindRunTask
)

func (k Kind) String() string {
	switch k {
	case KindSetupToolchain:
		return "SetupToolchain"
	case KindInstallWorkspaceDeps:
		return "InstallWorkspaceDeps"
	case KindInstallProjectDeps:
		return "InstallProjectDeps"
	case KindSyncWorkspace:
		return "SyncWorkspace"
	case KindSyncProject:
		return "SyncProject"
	case KindRunTask:
		return "RunTask"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Runtime identifies a toolchain at a specific version.
type Runtime struct {
	Toolchain string
	Version   string
}

// IsSystem reports whether the runtime is the host system, which needs no setup.
func (r Runtime) IsSystem() bool {
	return r.Toolchain == "" || r.Toolchain == "system"
}

func (r Runtime) String() string {
	if r.Version == "" {
		return r.Toolchain
	}
	return r.Toolchain + " " + r.Version
}

// Node is one vertex of the action graph. Only the fields relevant to Kind
// are populated; two nodes are the same action when their keys are equal.
type Node struct {
	Kind    Kind
	Runtime Runtime
	Project string
	Target  target.Target
	// Args are pass-through arguments for a task run.
	Args []string
	// Env holds extra "KEY=VALUE" pairs for a task run.
	Env []string
}

// Key is the comparable identity of a Node.
type Key struct {
	Kind    Kind
	Runtime Runtime
	Project string
	Target  target.Target
	Args    string
	Env     string
}

// Key returns the value-equality identity of the node.
func (n Node) Key() Key {
	return Key{
		Kind:    n.Kind,
		Runtime: n.Runtime,
		Project: n.Project,
		Target:  n.Target,
		Args:    encodeList(n.Args),
		Env:     encodeList(n.Env),
	}
}

// encodeList length-prefixes every element so distinct lists never share an
// encoding. Nil and empty lists both encode to "".
func encodeList(items []string) string {
	var b strings.Builder
	for _, s := range items {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// Label is a human readable description used in logs and errors.
func (n Node) Label() string {
	switch n.Kind {
	case KindSetupToolchain, KindInstallWorkspaceDeps:
		return fmt.Sprintf("%s(%s)", n.Kind, n.Runtime)
	case KindInstallProjectDeps, KindSyncProject:
		return fmt.Sprintf("%s(%s, %s)", n.Kind, n.Runtime, n.Project)
	case KindRunTask:
		return fmt.Sprintf("%s(%s)", n.Kind, n.Target)
	default:
		return n.Kind.String()
	}
}

// SetupToolchain creates a node that installs a toolchain.
func SetupToolchain(rt Runtime) Node {
	return Node{Kind: KindSetupToolchain, Runtime: rt}
}

// InstallWorkspaceDeps creates a node that installs the shared workspace dependencies.
func InstallWorkspaceDeps(rt Runtime) Node {
	return Node{Kind: KindInstallWorkspaceDeps, Runtime: rt}
}

// InstallProjectDeps creates a node that installs one project's isolated dependencies.
func InstallProjectDeps(rt Runtime, project string) Node {
	return Node{Kind: KindInstallProjectDeps, Runtime: rt, Project: project}
}

// SyncWorkspace creates the node that synchronizes workspace-level state.
func SyncWorkspace() Node {
	return Node{Kind: KindSyncWorkspace}
}

// SyncProject creates a node that synchronizes one project.
func SyncProject(rt Runtime, project string) Node {
	return Node{Kind: KindSyncProject, Runtime: rt, Project: project}
}

// RunTask creates a node that runs a task.
func RunTask(t target.Target, args, env []string) Node {
	return Node{Kind: KindRunTask, Target: t, Args: args, Env: env}
}
