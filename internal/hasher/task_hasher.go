package hasher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/digest"
	"github.com/specialistvlad/taskgrid/internal/task"
	"github.com/specialistvlad/taskgrid/internal/vcs"
)

// WalkStrategy selects how input globs are expanded.
type WalkStrategy string

const (
	// WalkVCS lists candidate files through version control, honoring ignore files.
	WalkVCS WalkStrategy = "vcs"
	// WalkGlob walks the filesystem directly.
	WalkGlob WalkStrategy = "glob"
)

// Config tunes input resolution.
type Config struct {
	WalkStrategy WalkStrategy
	// IgnorePatterns are workspace-relative globs never considered inputs.
	IgnorePatterns []string
	// ManifestNames are project configuration file names excluded from inputs.
	ManifestNames []string
	// WarnOnMissingInputs logs literal inputs that do not exist.
	WarnOnMissingInputs bool
	// CI disables merging of working-tree changes into the input set.
	CI bool
}

// TaskHasher computes the TaskHash contribution of a task.
type TaskHasher struct {
	root      string
	vcs       vcs.VCS
	cfg       Config
	lookupEnv func(string) (string, bool)
}

// NewTaskHasher creates a TaskHasher for the workspace at root. v may be nil.
func NewTaskHasher(root string, v vcs.VCS, cfg Config) *TaskHasher {
	if cfg.WalkStrategy == "" {
		cfg.WalkStrategy = WalkVCS
	}
	return &TaskHasher{root: root, vcs: v, cfg: cfg, lookupEnv: os.LookupEnv}
}

// HashTask resolves the task's inputs and records its TaskHash in h.
// Every dependency of the task must already have a completed state in actx.
func (th *TaskHasher) HashTask(ctx context.Context, h *Hasher, actx *action.Context, t *task.Task, node action.Node) error {
	logger := ctxlog.FromContext(ctx)

	content := TaskHash{
		Command:   t.Command,
		Args:      emptyIfNil(t.Args),
		Deps:      make(map[string]string, len(t.Deps)),
		Env:       make(map[string]string, len(t.Env)),
		InputEnv:  make(map[string]string),
		Target:    t.Target.String(),
		Toolchain: t.Toolchain,
		Version:   Version,
	}

	for k, v := range t.Env {
		content.Env[k] = v
	}
	for _, name := range t.InputEnv() {
		if value, ok := th.lookupEnv(name); ok {
			content.InputEnv[name] = value
		}
	}
	if t.Options.HashPassthroughArgs && len(node.Args) > 0 {
		content.PassthroughArgs = node.Args
	}
	if actx.IsPrimary(t.Target) && len(actx.Env) > 0 {
		content.PassthroughEnv = maps.Clone(actx.Env)
	}

	for _, dep := range t.Deps {
		state, ok := actx.TargetState(dep)
		if !ok || !state.IsComplete() {
			return fmt.Errorf("dependency %s of %s has no completed state", dep, t.Target)
		}
		if state.Kind == action.TargetPassthrough {
			content.Deps[dep.String()] = PassthroughSentinel
		} else {
			content.Deps[dep.String()] = state.Hash
		}
	}

	content.Outputs = append(content.Outputs, t.OutputPaths()...)
	content.Outputs = append(content.Outputs, t.OutputGlobs()...)
	slices.Sort(content.Outputs)
	content.Outputs = emptyIfNil(content.Outputs)

	files, err := th.resolveInputs(ctx, actx, t)
	if err != nil {
		return err
	}
	content.Inputs, err = th.hashFiles(ctx, files)
	if err != nil {
		return err
	}

	logger.Debug("Resolved task hash inputs.", "target", t.Target.String(), "files", len(content.Inputs), "deps", len(content.Deps))
	return h.Hash("task", content)
}

// resolveInputs returns the sorted, workspace-relative files that feed the task.
func (th *TaskHasher) resolveInputs(ctx context.Context, actx *action.Context, t *task.Task) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	found := make(map[string]struct{})
	globs := t.InputGlobs()

	for _, file := range t.InputFiles() {
		info, err := os.Stat(th.abs(file))
		switch {
		case err != nil:
			if th.cfg.WarnOnMissingInputs {
				logger.Warn("Declared input does not exist.", "target", t.Target.String(), "input", file)
			}
		case info.IsDir():
			globs = append(globs, path.Join(file, "**", "*"))
		default:
			found[file] = struct{}{}
		}
	}

	trees := make(map[string][]string)
	for _, pattern := range globs {
		matches, err := th.expandGlob(ctx, pattern, trees)
		if err != nil {
			return nil, fmt.Errorf("failed to expand input %q of %s: %w", pattern, t.Target, err)
		}
		for _, m := range matches {
			found[m] = struct{}{}
		}
	}

	if !th.cfg.CI && actx != nil {
		literal := t.InputFiles()
		for file := range actx.TouchedFiles {
			if slices.Contains(literal, file) || matchesAny(globs, file) {
				if info, err := os.Stat(th.abs(file)); err == nil && !info.IsDir() {
					found[file] = struct{}{}
				}
			}
		}
	}

	files := make([]string, 0, len(found))
	for file := range found {
		if !th.isExcluded(t, file) {
			files = append(files, file)
		}
	}
	slices.Sort(files)
	return files, nil
}

func (th *TaskHasher) expandGlob(ctx context.Context, pattern string, trees map[string][]string) ([]string, error) {
	if th.cfg.WalkStrategy == WalkVCS && th.vcsEnabled() {
		base, _ := doublestar.SplitPattern(pattern)
		tree, ok := trees[base]
		if !ok {
			var err error
			if tree, err = th.vcs.FileTree(ctx, base); err != nil {
				return nil, err
			}
			trees[base] = tree
		}
		var matches []string
		for _, file := range tree {
			if ok, _ := doublestar.Match(pattern, file); ok {
				matches = append(matches, file)
			}
		}
		return matches, nil
	}

	return doublestar.Glob(os.DirFS(th.root), pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
}

func (th *TaskHasher) isExcluded(t *task.Task, file string) bool {
	for _, out := range t.OutputPaths() {
		if file == out || strings.HasPrefix(file, out+"/") {
			return true
		}
	}
	if matchesAny(t.OutputGlobs(), file) || matchesAny(th.cfg.IgnorePatterns, file) {
		return true
	}
	for _, name := range th.cfg.ManifestNames {
		if file == path.Join(t.ProjectRoot, name) {
			return true
		}
	}
	return false
}

// hashFiles hashes files through version control when available, falling back
// to content hashing for anything it could not answer.
func (th *TaskHasher) hashFiles(ctx context.Context, files []string) (map[string]string, error) {
	hashes := make(map[string]string, len(files))
	if len(files) == 0 {
		return hashes, nil
	}

	if th.vcsEnabled() {
		vcsHashes, err := th.vcs.FileHashes(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("failed to hash inputs: %w", err)
		}
		for file, hash := range vcsHashes {
			hashes[file] = hash
		}
	}

	for _, file := range files {
		if _, ok := hashes[file]; ok {
			continue
		}
		d, err := digest.FromFile(th.abs(file))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		hashes[file] = d.Hash
	}
	return hashes, nil
}

func (th *TaskHasher) vcsEnabled() bool {
	return th.vcs != nil && th.vcs.IsEnabled()
}

func (th *TaskHasher) abs(rel string) string {
	return filepath.Join(th.root, filepath.FromSlash(rel))
}

func matchesAny(patterns []string, file string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, file); ok {
			return true
		}
	}
	return false
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
