package process

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/task"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestShellBuilder(t *testing.T) {
	root := t.TempDir()
	b := NewShellBuilder(root)
	build := target.MustParse("app:build")
	tk := &task.Task{
		Target:      build,
		ProjectRoot: "apps/app",
		Command:     "tsc",
		Args:        []string{"--build"},
		Env:         map[string]string{"NODE_ENV": "production"},
	}

	actx := action.NewContext()
	actx.PassthroughArgs = []string{"--verbose"}

	cmd, err := b.Build(context.Background(), actx, tk)
	require.NoError(t, err)
	assert.Equal(t, "tsc", cmd.Name)
	assert.Equal(t, []string{"--build"}, cmd.Args, "pass-through args only reach primary targets")
	assert.Equal(t, filepath.Join(root, "apps", "app"), cmd.Dir)
	assert.Equal(t, "production", cmd.Env["NODE_ENV"])
	assert.Equal(t, "app:build", cmd.Env["TASKGRID_TARGET"])

	actx.PrimaryTargets[build] = struct{}{}
	cmd, err = b.Build(context.Background(), actx, tk)
	require.NoError(t, err)
	assert.Equal(t, []string{"--build", "--verbose"}, cmd.Args)

	tk.Command = "echo hi && tsc"
	cmd, err = b.Build(context.Background(), actx, tk)
	require.NoError(t, err)
	assert.Equal(t, "/bin/sh", cmd.Name)
	assert.Equal(t, []string{"-c", "echo hi && tsc --build --verbose"}, cmd.Args)

	tk.Command = ""
	_, err = b.Build(context.Background(), actx, tk)
	assert.Error(t, err)
}

func TestShellBuilder_Env(t *testing.T) {
	b := NewShellBuilder(t.TempDir())
	build := target.MustParse("app:build")
	tk := &task.Task{
		Target:      build,
		ProjectRoot: "app",
		Command:     "tsc",
		Env:         map[string]string{"NODE_ENV": "production"},
	}
	actx := action.NewContext()
	actx.Env = map[string]string{"NODE_ENV": "test", "DEBUG": "1"}

	cmd, err := b.Build(context.Background(), actx, tk)
	require.NoError(t, err)
	assert.Equal(t, "production", cmd.Env["NODE_ENV"])
	assert.NotContains(t, cmd.Env, "DEBUG", "extra env only reaches primary targets")

	actx.PrimaryTargets[build] = struct{}{}
	cmd, err = b.Build(context.Background(), actx, tk)
	require.NoError(t, err)
	assert.Equal(t, "test", cmd.Env["NODE_ENV"])
	assert.Equal(t, "1", cmd.Env["DEBUG"])
}

func TestRun(t *testing.T) {
	requireShell(t)
	ctx := ctxlog.Discard(context.Background())

	var streamed bytes.Buffer
	out, err := Run(ctx, &Command{
		Name:   "sh",
		Args:   []string{"-c", `echo "out $GREETING"; echo err >&2; exit 3`},
		Env:    map[string]string{"GREETING": "hello"},
		Dir:    t.TempDir(),
		Stdout: &streamed,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "out hello\n", out.Stdout)
	assert.Equal(t, "err\n", out.Stderr)
	assert.Equal(t, "out hello\n", streamed.String())
}

func TestRun_MissingBinary(t *testing.T) {
	ctx := ctxlog.Discard(context.Background())
	_, err := Run(ctx, &Command{Name: "definitely-not-a-real-binary-xyz", Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestRun_Cancelled(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(ctxlog.Discard(context.Background()), 50*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, &Command{Name: "sh", Args: []string{"-c", "sleep 5"}, Dir: t.TempDir()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
