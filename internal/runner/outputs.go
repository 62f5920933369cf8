package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/archive"
	"github.com/specialistvlad/taskgrid/internal/cache"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/digest"
	"github.com/specialistvlad/taskgrid/internal/fsutil"
	"github.com/specialistvlad/taskgrid/internal/remote"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/task"
)

// Logs travel inside archives under this directory.
const (
	stdoutEntry = "__logs__/stdout.log"
	stderrEntry = "__logs__/stderr.log"
)

// Tier names the source a cached result came from.
type Tier string

const (
	TierPrevious Tier = "previous"
	TierLocal    Tier = "local"
	TierRemote   Tier = "remote"
	TierLegacy   Tier = "legacy"
)

var (
	errNothingRestored    = errors.New("hydration restored nothing")
	errOutputsNotRestored = errors.New("hydration did not restore the declared outputs")
)

// resolveOutputs expands the declared outputs of t into workspace-relative
// paths. Literal outputs that do not exist and globs matching nothing are
// reported as missing.
func resolveOutputs(root string, t *task.Task) (paths, missing []string, err error) {
	for _, p := range t.OutputPaths() {
		if _, err := os.Lstat(filepath.Join(root, filepath.FromSlash(p))); err != nil {
			missing = append(missing, p)
			continue
		}
		paths = append(paths, p)
	}

	fsys := os.DirFS(root)
	for _, pattern := range t.OutputGlobs() {
		matches, err := doublestar.Glob(fsys, pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid output glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			missing = append(missing, pattern)
		}
		paths = append(paths, matches...)
	}

	slices.Sort(paths)
	return slices.Compact(paths), missing, nil
}

// Archiver packs the outputs of executed tasks and publishes them.
type Archiver struct {
	root       string
	cache      *cache.Engine
	remote     RemoteCache
	legacy     ArtifactStore
	uploads    *remote.Ledger
	archivable []target.Target
}

// IsArchivable reports whether outputs of t are archived: build tasks always
// are, other tasks when a configured target pattern matches them.
func (a *Archiver) IsArchivable(t *task.Task) bool {
	if t.IsBuildType() {
		return true
	}
	for _, pattern := range a.archivable {
		if pattern.Matches(t.Target, t.ProjectTags) {
			return true
		}
	}
	return false
}

// Archive verifies the outputs of t exist, writes the local archive for d
// and queues the remote uploads. It reports whether an archive was written.
func (a *Archiver) Archive(ctx context.Context, t *task.Task, d digest.Digest, out *action.Output) (bool, error) {
	logger := ctxlog.FromContext(ctx)

	paths, missing, err := resolveOutputs(a.root, t)
	if err != nil {
		return false, err
	}
	if len(missing) > 0 {
		return false, &MissingOutputsError{Target: t.Target, Missing: missing}
	}
	if !a.cache.IsWritable() {
		logger.Debug("Cache is not writable, skipping archive.")
		return false, nil
	}

	path := a.cache.ArchivePath(d.Hash)
	if fsutil.IsFile(path) {
		logger.Debug("Archive already exists.", "hash", d.Hash)
	} else {
		extra := map[string][]byte{stdoutEntry: []byte(out.Stdout), stderrEntry: []byte(out.Stderr)}
		n, err := archive.Create(ctx, path, a.root, paths, extra)
		if err != nil {
			return false, fmt.Errorf("failed to archive outputs of %s: %w", t.Target, err)
		}
		logger.Debug("Archived outputs.", "hash", d.Hash, "entries", n)
	}

	a.publish(ctx, t, d, paths, out, path)
	return true, nil
}

// publish queues best-effort uploads to the remote tiers.
func (a *Archiver) publish(ctx context.Context, t *task.Task, d digest.Digest, paths []string, out *action.Output, archivePath string) {
	logger := ctxlog.FromContext(ctx)

	if remoteEnabled(a.remote) {
		// Collect now: later tasks may rewrite these files before the upload runs.
		result, blobs, err := remote.BuildActionResult(a.root, paths, remote.Execution{
			ExitCode: out.ExitCode, Stdout: out.Stdout, Stderr: out.Stderr,
		})
		if err != nil {
			logger.Warn("Failed to describe outputs for the remote cache.", "error", err)
		} else {
			a.uploads.Go(ctx, "remote "+t.Target.String(), func(ctx context.Context) error {
				return a.remote.SaveActionResult(ctx, d, result, blobs)
			})
		}
	}

	if legacyEnabled(a.legacy) {
		a.uploads.Go(ctx, "artifact "+t.Target.String(), func(ctx context.Context) error {
			return a.legacy.Upload(ctx, d.Hash, t.Target.String(), archivePath)
		})
	}
}

// Hydrater restores cached outputs into the workspace.
type Hydrater struct {
	root   string
	cache  *cache.Engine
	remote RemoteCache
	legacy ArtifactStore
}

// FromArchive extracts an archive and returns the number of workspace
// entries written. Captured logs are returned instead of being written into
// the workspace and are not counted.
func (h *Hydrater) FromArchive(ctx context.Context, path string) (int, *action.Output, error) {
	logDir, err := os.MkdirTemp("", "taskgrid-logs-")
	if err != nil {
		return 0, nil, err
	}
	defer os.RemoveAll(logDir)

	stdoutPath, stderrPath := filepath.Join(logDir, "stdout.log"), filepath.Join(logDir, "stderr.log")
	n, err := archive.Extract(ctx, path, h.root, map[string]string{stdoutEntry: stdoutPath, stderrEntry: stderrPath})
	if err != nil {
		return n, nil, err
	}

	stdout, _ := os.ReadFile(stdoutPath)
	stderr, _ := os.ReadFile(stderrPath)
	return n, &action.Output{Stdout: string(stdout), Stderr: string(stderr)}, nil
}

// FromRemote restores an action result fetched from the remote cache. Inline
// logs are returned but not counted.
func (h *Hydrater) FromRemote(ctx context.Context, result *repb.ActionResult) (int, *action.Output, error) {
	n, err := h.remote.RestoreActionResult(ctx, result, h.root)
	if err != nil {
		return n, nil, err
	}

	return n, &action.Output{
		ExitCode: int(result.GetExitCode()),
		Stdout:   string(result.GetStdoutRaw()),
		Stderr:   string(result.GetStderrRaw()),
	}, nil
}

// FromLegacy downloads an archive from the legacy store and extracts it.
// The download is kept as the local archive when the cache is writable.
func (h *Hydrater) FromLegacy(ctx context.Context, hash, url string) (int, *action.Output, error) {
	dest := h.cache.ArchivePath(hash)
	if !h.cache.IsWritable() {
		dir, err := os.MkdirTemp("", "taskgrid-artifact-")
		if err != nil {
			return 0, nil, err
		}
		defer os.RemoveAll(dir)
		dest = filepath.Join(dir, hash+cache.ArchiveExtension)
	}

	if _, err := h.legacy.Download(ctx, url, dest); err != nil {
		return 0, nil, err
	}
	return h.FromArchive(ctx, dest)
}

// verifyRestore rejects a restore that cannot stand in for an execution.
// A task declaring outputs must get every one of them back; logs alone are
// not enough. A task without outputs needs at least some captured log.
func verifyRestore(root string, t *task.Task, n int, out *action.Output) error {
	if len(t.OutputPaths()) == 0 && len(t.OutputGlobs()) == 0 {
		if n == 0 && (out == nil || (out.Stdout == "" && out.Stderr == "")) {
			return errNothingRestored
		}
		return nil
	}
	if n == 0 {
		return errNothingRestored
	}
	_, missing, err := resolveOutputs(root, t)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errOutputsNotRestored, strings.Join(missing, ", "))
	}
	return nil
}

// clearOutputs removes literal outputs so a restore cannot mix stale files
// with restored ones.
func clearOutputs(root string, t *task.Task) error {
	var errs []error
	for _, p := range t.OutputPaths() {
		errs = append(errs, os.RemoveAll(filepath.Join(root, filepath.FromSlash(p))))
	}
	return errors.Join(errs...)
}
