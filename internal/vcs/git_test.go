package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
)

func TestParseStatus(t *testing.T) {
	out := " M src/main.go\n" +
		"A  src/new.go\n" +
		" D old.go\n" +
		"R  a.go -> b.go\n" +
		"?? notes.txt\n" +
		"MM both.go\n"

	touched := parseStatus(out)
	assert.Equal(t, []string{"src/main.go", "both.go"}, touched.Modified)
	assert.Equal(t, []string{"src/new.go", "b.go"}, touched.Added)
	assert.Equal(t, []string{"old.go"}, touched.Deleted)
	assert.Equal(t, []string{"notes.txt"}, touched.Untracked)
	assert.Equal(t, []string{"b.go", "both.go", "notes.txt", "src/main.go", "src/new.go"}, touched.All())
}

func TestNewGit_NoRepository(t *testing.T) {
	g := NewGit(t.TempDir())
	assert.False(t, g.IsEnabled())
}

func TestGit_Integration(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	root := t.TempDir()
	gitCmd := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = root
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@t", "GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@t")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	gitCmd("init", "-q")
	write("app/src/main.txt", "hello\n")
	write("app/ignored.log", "noise")
	write(".gitignore", "*.log\n")
	gitCmd("add", ".")
	gitCmd("commit", "-q", "-m", "init")
	write("app/src/extra.txt", "untracked")

	ctx := ctxlog.Discard(context.Background())
	g := NewGit(filepath.Join(root, "app"))
	require.True(t, g.IsEnabled())
	assert.Equal(t, root, g.Root())

	files, err := g.FileTree(ctx, "app")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"app/src/main.txt", "app/src/extra.txt"}, files)

	hashes, err := g.FileHashes(ctx, []string{"app/src/main.txt", "app/missing.txt"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"app/src/main.txt": "ce013625030ba8dba906f756967f9e9ca394464a"}, hashes)

	touched, err := g.TouchedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"app/src/extra.txt"}, touched.Untracked)
}
