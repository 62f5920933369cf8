// Package vcs answers the version-control questions the hasher needs: which
// files are tracked, which are touched in the working tree, and what their
// content hashes are.
package vcs

import (
	"context"
	"slices"
)

// TouchedFiles groups working tree changes by kind. Paths are relative to the
// repository root and use forward slashes.
type TouchedFiles struct {
	Added     []string
	Deleted   []string
	Modified  []string
	Untracked []string
}

// All returns every touched path that still exists, sorted and deduplicated.
func (t *TouchedFiles) All() []string {
	var all []string
	all = append(all, t.Added...)
	all = append(all, t.Modified...)
	all = append(all, t.Untracked...)
	slices.Sort(all)
	return slices.Compact(all)
}

// VCS is the query contract used by the engine.
type VCS interface {
	// IsEnabled reports whether a repository root was detected.
	IsEnabled() bool
	// Root returns the repository root directory.
	Root() string
	// FileHashes hashes the given repository-relative files in batches.
	FileHashes(ctx context.Context, files []string) (map[string]string, error)
	// FileTree lists tracked and untracked, non-ignored files under dir.
	FileTree(ctx context.Context, dir string) ([]string, error)
	// TouchedFiles lists working tree changes.
	TouchedFiles(ctx context.Context) (*TouchedFiles, error)
}
