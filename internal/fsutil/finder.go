// Package fsutil provides file system helpers shared by the cache, archive
// and configuration layers.
package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// FindFiles lists the files under rootPath whose name ends with extension,
// in lexical order. Directories named in skipDirs are not descended into.
// A rootPath naming a single matching file yields just that file.
func FindFiles(rootPath, extension string, skipDirs ...string) ([]string, error) {
	if extension == "" {
		return nil, errors.New("fsutil: empty extension")
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			if path != rootPath && slices.Contains(skipDirs, d.Name()) {
				return fs.SkipDir
			}
		case strings.HasSuffix(d.Name(), extension):
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(files)
	return files, nil
}
