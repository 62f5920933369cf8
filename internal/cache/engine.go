// Package cache manages the on-disk cache of a workspace: per-task run
// states, hash manifests and output archives.
//
// Layout under the cache root:
//
//	states/<project>/<task>/lastRun.json   last run record
//	states/<project>/<task>/stdout.log     captured output of the last run
//	hashes/<hash>.json                      manifest the hash was computed from
//	outputs/<hash>.tar.zst                  archived outputs
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/fsutil"
	"github.com/specialistvlad/taskgrid/internal/target"
)

// ArchiveExtension is the suffix of output archives.
const ArchiveExtension = ".tar.zst"

// Engine is the entry point to the local cache.
type Engine struct {
	root   string
	mode   Mode
	States *StateRegistry
}

// New prepares the cache directories under root.
func New(root string, mode Mode) (*Engine, error) {
	for _, dir := range []string{"states", "hashes", "outputs"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	return &Engine{
		root:   root,
		mode:   mode,
		States: newStateRegistry(filepath.Join(root, "states"), mode.IsWritable()),
	}, nil
}

// Root returns the cache directory.
func (e *Engine) Root() string { return e.root }

// Mode returns the configured cache mode.
func (e *Engine) Mode() Mode { return e.mode }

// IsReadable reports whether cached results may be used.
func (e *Engine) IsReadable() bool { return e.mode.IsReadable() }

// IsWritable reports whether results may be persisted.
func (e *Engine) IsWritable() bool { return e.mode.IsWritable() }

// ArchivePath returns where the output archive of hash lives.
func (e *Engine) ArchivePath(hash string) string {
	return filepath.Join(e.root, "outputs", hash+ArchiveExtension)
}

// ManifestPath returns where the hash manifest of hash lives.
func (e *Engine) ManifestPath(hash string) string {
	return filepath.Join(e.root, "hashes", hash+".json")
}

// ArchiveTime returns the modification time of an existing archive.
func (e *Engine) ArchiveTime(hash string) (time.Time, bool) {
	info, err := os.Stat(e.ArchivePath(hash))
	if err != nil || info.Size() == 0 {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// WriteManifest stores the content behind a hash. It is a no-op when the
// cache is not writable or the manifest already exists.
func (e *Engine) WriteManifest(hash string, manifest []byte) error {
	path := e.ManifestPath(hash)
	if !e.IsWritable() || fsutil.Exists(path) {
		return nil
	}
	return fsutil.WriteFileAtomic(path, manifest, 0o644)
}

// LogPaths returns the stdout and stderr log files of a target.
func (e *Engine) LogPaths(t target.Target) (stdout, stderr string) {
	dir := e.States.Dir(t)
	return filepath.Join(dir, "stdout.log"), filepath.Join(dir, "stderr.log")
}

// SaveLogs persists the captured output of a target's last run.
func (e *Engine) SaveLogs(t target.Target, stdout, stderr string) error {
	if !e.IsWritable() {
		return nil
	}
	outPath, errPath := e.LogPaths(t)
	if err := fsutil.WriteFileAtomic(outPath, []byte(stdout), 0o644); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(errPath, []byte(stderr), 0o644)
}

// ReadLogs returns the captured output of a target's last run. Missing logs
// read as empty.
func (e *Engine) ReadLogs(t target.Target) (stdout, stderr string) {
	outPath, errPath := e.LogPaths(t)
	out, _ := os.ReadFile(outPath)
	errOut, _ := os.ReadFile(errPath)
	return string(out), string(errOut)
}

// CleanStats summarizes a Clean pass.
type CleanStats struct {
	Files int
	Bytes int64
}

// Clean deletes archives and manifests older than lifetime. A zero lifetime
// removes every entry.
func (e *Engine) Clean(ctx context.Context, lifetime time.Duration) (CleanStats, error) {
	logger := ctxlog.FromContext(ctx)
	var stats CleanStats
	now := time.Now()

	for _, dir := range []string{"outputs", "hashes"} {
		err := filepath.WalkDir(filepath.Join(e.root, dir), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || strings.Contains(d.Name(), ".tmp.") {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			info, err := d.Info()
			if err != nil {
				return err
			}
			if lifetime > 0 && !IsStale(info.ModTime(), lifetime, now) {
				return nil
			}
			if err := os.Remove(path); err != nil {
				return err
			}
			stats.Files++
			stats.Bytes += info.Size()
			logger.Debug("Removed stale cache entry.", "path", path)
			return nil
		})
		if err != nil {
			return stats, fmt.Errorf("failed to clean cache: %w", err)
		}
	}
	return stats, nil
}
