// Package archive packs workspace files into zstd-compressed tarballs and
// restores them.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/specialistvlad/taskgrid/internal/fsutil"
)

// Create writes the given workspace-relative files and directories, plus the
// extra in-memory entries, into a tar.zst archive at dest. The archive is
// written to a temporary file first and renamed into place. It returns the
// number of entries written.
func Create(ctx context.Context, dest, root string, paths []string, extra map[string][]byte) (int, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp.*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(zw)

	count := 0
	for _, rel := range paths {
		n, err := addPath(ctx, tw, root, rel)
		if err != nil {
			return 0, err
		}
		count += n
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(extra[name])), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			return 0, err
		}
		if _, err := tw.Write(extra[name]); err != nil {
			return 0, err
		}
		count++
	}

	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return 0, err
	}
	return count, nil
}

func addPath(ctx context.Context, tw *tar.Writer, root, rel string) (int, error) {
	count := 0
	err := filepath.WalkDir(filepath.Join(root, filepath.FromSlash(rel)), func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		name, err := filepath.Rel(root, abs)
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&os.ModeSymlink != 0 {
			if link, err = os.Readlink(abs); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(name)
		hdr.ModTime = hdr.ModTime.Truncate(time.Second)
		hdr.Uname, hdr.Gname, hdr.Uid, hdr.Gid = "", "", 0, 0
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		count++

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(abs)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to archive %s: %w", rel, err)
	}
	return count, nil
}

// Extract restores the archive at src beneath root. Entries whose name is a
// key of redirect are written to the mapped absolute path instead. Every other
// entry must resolve beneath root, symlinked parent directories included. It
// returns the number of entries restored into root.
func Extract(ctx context.Context, src, root string, redirect map[string]string) (int, error) {
	f, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	if err := os.MkdirAll(root, 0o755); err != nil {
		return 0, err
	}

	tr := tar.NewReader(zr)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("failed to read archive %s: %w", src, err)
		}

		if dest, ok := redirect[hdr.Name]; ok {
			if err := extractEntry(tr, hdr, dest); err != nil {
				return count, fmt.Errorf("failed to restore %s: %w", hdr.Name, err)
			}
			continue
		}

		dest, err := safeJoin(root, hdr.Name)
		if err != nil {
			return count, err
		}
		if err := fsutil.EnsureWithin(root, filepath.Dir(dest)); err != nil {
			return count, fmt.Errorf("archive entry %q escapes the workspace: %w", hdr.Name, err)
		}
		if err := extractEntry(tr, hdr, dest); err != nil {
			return count, fmt.Errorf("failed to restore %s: %w", hdr.Name, err)
		}
		count++
	}
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, 0o755)
	case tar.TypeSymlink:
		_ = os.Remove(dest)
		return os.Symlink(hdr.Linkname, dest)
	case tar.TypeReg:
		// Never write through a link left by an earlier entry or run.
		if info, err := os.Lstat(dest); err == nil && info.Mode()&os.ModeSymlink != 0 {
			if err := os.Remove(dest); err != nil {
				return err
			}
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		return os.Chmod(dest, os.FileMode(hdr.Mode).Perm())
	default:
		return nil
	}
}

// safeJoin resolves an archive entry name beneath root, rejecting names that
// would escape it.
func safeJoin(root, name string) (string, error) {
	clean := path.Clean(name)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("archive entry %q escapes the workspace", name)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}
