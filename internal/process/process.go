// Package process builds and runs the command behind a task.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/task"
)

// Command is a runnable process description.
type Command struct {
	Name string
	Args []string
	// Env is added on top of the inherited environment.
	Env map[string]string
	// Dir is the absolute working directory.
	Dir string
	// Stream also writes output to these writers while capturing it.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (c *Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Builder turns a task into a runnable command.
type Builder interface {
	Build(ctx context.Context, actx *action.Context, t *task.Task) (*Command, error)
}

// ShellBuilder runs tasks from their project directory. Pass-through
// arguments are appended and extra environment variables applied when the
// task is a primary target. A command containing whitespace is handed to
// the shell as-is.
type ShellBuilder struct {
	WorkspaceRoot string
	Shell         string
}

// NewShellBuilder creates a builder using /bin/sh.
func NewShellBuilder(root string) *ShellBuilder {
	return &ShellBuilder{WorkspaceRoot: root, Shell: "/bin/sh"}
}

// Build implements Builder.
func (b *ShellBuilder) Build(_ context.Context, actx *action.Context, t *task.Task) (*Command, error) {
	if t.Command == "" {
		return nil, fmt.Errorf("task %s has no command", t.Target)
	}

	primary := actx != nil && actx.IsPrimary(t.Target)
	args := slices.Clone(t.Args)
	if primary {
		args = append(args, actx.PassthroughArgs...)
	}

	env := map[string]string{
		"TASKGRID_TARGET":         t.Target.String(),
		"TASKGRID_PROJECT":        t.Target.Project(),
		"TASKGRID_WORKSPACE_ROOT": b.WorkspaceRoot,
	}
	maps.Copy(env, t.Env)
	if primary {
		maps.Copy(env, actx.Env)
	}

	cmd := &Command{
		Name: t.Command,
		Args: args,
		Env:  env,
		Dir:  filepath.Join(b.WorkspaceRoot, filepath.FromSlash(t.ProjectRoot)),
	}
	if strings.ContainsAny(t.Command, " \t") {
		line := strings.Join(append([]string{t.Command}, args...), " ")
		cmd.Name, cmd.Args = b.Shell, []string{"-c", line}
	}
	return cmd, nil
}

// Run executes the command and captures its output. A non-zero exit is not
// an error: it is reported in the returned output. Cancelling ctx kills the
// whole process group.
func Run(ctx context.Context, c *Command) (*action.Output, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = os.Environ()
	for k, v := range c.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, c.Stdout)
	cmd.Stderr = tee(&stderr, c.Stderr)

	logger.Debug("Running command.", "command", c.String(), "dir", c.Dir)
	err := cmd.Run()

	out := &action.Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", c.Name, err)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command %s cancelled: %w", c.Name, ctx.Err())
		}
		out.ExitCode = exitErr.ExitCode()
	}
	return out, nil
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}
