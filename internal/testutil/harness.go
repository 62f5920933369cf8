package testutil

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/app"
	"github.com/specialistvlad/taskgrid/internal/config"
	"github.com/specialistvlad/taskgrid/internal/report"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of one run of a test workspace.
type HarnessResult struct {
	LogOutput string
	Summary   *report.RunSummary
	Err       error
}

// Workspace is a temporary git repository with a taskgrid configuration.
type Workspace struct {
	Root string
	t    *testing.T
}

// NewWorkspace writes files (paths relative to the workspace root) into a
// fresh git repository. Configuration belongs under ".taskgrid/". The test is
// skipped when git is not installed.
func NewWorkspace(t *testing.T, files map[string]string) *Workspace {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is required for workspace tests")
	}

	ws := &Workspace{Root: t.TempDir(), t: t}
	ws.Write(".gitignore", ".taskgrid/cache/\n")
	for name, content := range files {
		ws.Write(name, Unindent(content))
	}

	cmd := exec.Command("git", "init", "--quiet")
	cmd.Dir = ws.Root
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return ws
}

// Write creates or replaces a workspace file.
func (w *Workspace) Write(name, content string) {
	w.t.Helper()
	path := filepath.Join(w.Root, filepath.FromSlash(name))
	require.NoError(w.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(w.t, os.WriteFile(path, []byte(content), 0o644))
}

// Read returns the content of a workspace file, failing the test when it is missing.
func (w *Workspace) Read(name string) string {
	w.t.Helper()
	data, err := os.ReadFile(filepath.Join(w.Root, filepath.FromSlash(name)))
	require.NoError(w.t, err)
	return string(data)
}

// Remove deletes a workspace file or directory.
func (w *Workspace) Remove(name string) {
	w.t.Helper()
	require.NoError(w.t, os.RemoveAll(filepath.Join(w.Root, filepath.FromSlash(name))))
}

// NewApp creates an app for the workspace with debug logging into a buffer.
func (w *Workspace) NewApp(ctx context.Context) (*app.App, *SafeBuffer) {
	w.t.Helper()
	logs := &SafeBuffer{}
	cfg, err := app.NewConfig(app.Config{Root: w.Root, LogLevel: "debug", LogFormat: "text"})
	require.NoError(w.t, err)

	a, err := app.NewApp(ctx, logs, cfg, config.NewLoader())
	require.NoError(w.t, err)
	w.t.Cleanup(func() {
		_ = a.Close()
		if os.Getenv("TASKGRID_TEST_LOGS") == "true" {
			w.t.Logf("--- Full Log Output for %s ---\n%s", w.t.Name(), logs.String())
		}
	})
	return a, logs
}

// Run runs targets with a fresh app, as a separate invocation would.
func (w *Workspace) Run(targets ...string) *HarnessResult {
	w.t.Helper()
	ctx := context.Background()
	a, logs := w.NewApp(ctx)
	summary, err := a.Run(ctx, app.RunOptions{Targets: targets})
	return &HarnessResult{LogOutput: logs.String(), Summary: summary, Err: err}
}
