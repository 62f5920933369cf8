package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureWithin checks that dir stays beneath root once symlinks are
// resolved. Only the deepest existing ancestor of dir is resolved, so dir
// itself need not exist yet.
func EnsureWithin(root, dir string) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return err
	}

	existing := dir
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return err
	}

	rel, err := filepath.Rel(realRoot, resolved)
	if err != nil {
		return err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%s resolves to %s, outside %s", dir, resolved, realRoot)
	}
	return nil
}
