package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
)

// hashBatchSize bounds how many paths are piped to a single hash-object call.
const hashBatchSize = 500

// Git implements VCS by shelling out to the git binary.
type Git struct {
	root    string
	bin     string
	enabled bool
}

// NewGit creates a Git client for the repository containing dir. The client
// is disabled when no repository is found.
func NewGit(dir string) *Git {
	g := &Git{root: dir, bin: "git"}
	for current := dir; ; {
		if _, err := os.Stat(filepath.Join(current, ".git")); err == nil {
			g.root = current
			g.enabled = true
			break
		}
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}
	return g
}

func (g *Git) IsEnabled() bool { return g.enabled }

func (g *Git) Root() string { return g.root }

func (g *Git) FileHashes(ctx context.Context, files []string) (map[string]string, error) {
	logger := ctxlog.FromContext(ctx)
	hashes := make(map[string]string, len(files))

	var existing []string
	for _, f := range files {
		info, err := os.Stat(filepath.Join(g.root, filepath.FromSlash(f)))
		if err != nil || info.IsDir() {
			continue
		}
		existing = append(existing, f)
	}

	for start := 0; start < len(existing); start += hashBatchSize {
		batch := existing[start:min(start+hashBatchSize, len(existing))]
		logger.Debug("Hashing files with git.", "count", len(batch))

		out, err := g.exec(ctx, strings.Join(batch, "\n"), "hash-object", "--stdin-paths")
		if err != nil {
			return nil, err
		}
		lines := strings.Split(strings.TrimSpace(out), "\n")
		if len(lines) != len(batch) {
			return nil, fmt.Errorf("git hash-object returned %d hashes for %d files", len(lines), len(batch))
		}
		for i, f := range batch {
			hashes[f] = lines[i]
		}
	}
	return hashes, nil
}

func (g *Git) FileTree(ctx context.Context, dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	out, err := g.exec(ctx, "", "ls-files", "--full-name", "--cached", "--others", "--exclude-standard", "--", dir)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (g *Git) TouchedFiles(ctx context.Context) (*TouchedFiles, error) {
	out, err := g.exec(ctx, "", "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

func (g *Git) exec(ctx context.Context, stdin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, g.bin, args...)
	cmd.Dir = g.root
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// parseStatus reads `git status --porcelain` (v1) output.
func parseStatus(out string) *TouchedFiles {
	touched := &TouchedFiles{}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code, file := line[:2], line[3:]
		if _, renamed, ok := strings.Cut(file, " -> "); ok {
			file = renamed
		}
		file = strings.Trim(file, `"`)

		switch {
		case code == "??":
			touched.Untracked = append(touched.Untracked, file)
		case strings.ContainsRune(code, 'D'):
			touched.Deleted = append(touched.Deleted, file)
		case strings.ContainsAny(code, "ACR"):
			touched.Added = append(touched.Added, file)
		default:
			touched.Modified = append(touched.Modified, file)
		}
	}
	return touched
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
