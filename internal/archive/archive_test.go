package archive

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string, perm os.FileMode) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
}

func TestCreateAndExtract(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	write(t, src, "app/dist/index.js", "console.log(1)", 0o644)
	write(t, src, "app/dist/nested/chunk.js", "chunk", 0o644)
	write(t, src, "app/bin/cli", "#!/bin/sh", 0o755)
	require.NoError(t, os.Symlink("index.js", filepath.Join(src, "app/dist/latest.js")))

	dest := filepath.Join(t.TempDir(), "outputs", "abc.tar.zst")
	count, err := Create(ctx, dest, src, []string{"app/dist", "app/bin/cli"}, map[string][]byte{
		"__logs__/stdout.log": []byte("built"),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	restoreRoot := t.TempDir()
	logPath := filepath.Join(t.TempDir(), "stdout.log")
	restored, err := Extract(ctx, dest, restoreRoot, map[string]string{"__logs__/stdout.log": logPath})
	require.NoError(t, err)
	assert.Equal(t, 4, restored, "redirected entries are not counted")

	data, err := os.ReadFile(filepath.Join(restoreRoot, "app/dist/nested/chunk.js"))
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(data))

	info, err := os.Stat(filepath.Join(restoreRoot, "app/bin/cli"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(restoreRoot, "app/dist/latest.js"))
	require.NoError(t, err)
	assert.Equal(t, "index.js", link)

	logData, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "built", string(logData))
	assert.NoFileExists(t, filepath.Join(restoreRoot, "__logs__/stdout.log"))
}

func TestCreate_MissingPath(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.tar.zst")
	_, err := Create(context.Background(), dest, t.TempDir(), []string{"nope"}, nil)
	assert.Error(t, err)
	assert.NoFileExists(t, dest)
}

func TestExtract_EmptyArchive(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "empty.tar.zst")
	count, err := Create(context.Background(), dest, t.TempDir(), nil, nil)
	require.NoError(t, err)
	assert.Zero(t, count)

	restored, err := Extract(context.Background(), dest, t.TempDir(), nil)
	require.NoError(t, err)
	assert.Zero(t, restored)
}

// writeRaw builds an archive from headers as given, bypassing Create.
func writeRaw(t *testing.T, entries []*tar.Header, contents map[string]string) string {
	t.Helper()
	dest := filepath.Join(t.TempDir(), "raw.tar.zst")
	f, err := os.Create(dest)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	for _, hdr := range entries {
		body := contents[hdr.Name]
		hdr.Size = int64(len(body))
		require.NoError(t, tw.WriteHeader(hdr))
		_, err = tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return dest
}

func TestExtract_RejectsEscapingEntries(t *testing.T) {
	dest := writeRaw(t, []*tar.Header{
		{Name: "../escape.txt", Mode: 0o644, Typeflag: tar.TypeReg},
	}, map[string]string{"../escape.txt": "x"})

	_, err := Extract(context.Background(), dest, t.TempDir(), nil)
	assert.ErrorContains(t, err, "escapes the workspace")
}

func TestExtract_RejectsWritesThroughSymlinkedDirectory(t *testing.T) {
	// --- Arrange ---
	outside := t.TempDir()
	dest := writeRaw(t, []*tar.Header{
		{Name: "dist", Linkname: outside, Mode: 0o777, Typeflag: tar.TypeSymlink},
		{Name: "dist/x.txt", Mode: 0o644, Typeflag: tar.TypeReg},
		{Name: "dist/nested/y.txt", Mode: 0o644, Typeflag: tar.TypeReg},
	}, map[string]string{"dist/x.txt": "outside", "dist/nested/y.txt": "outside"})
	root := t.TempDir()

	// --- Act ---
	_, err := Extract(context.Background(), dest, root, nil)

	// --- Assert ---
	assert.ErrorContains(t, err, "escapes the workspace")
	assert.NoFileExists(t, filepath.Join(outside, "x.txt"))
	assert.NoDirExists(t, filepath.Join(outside, "nested"))
}

func TestExtract_ReplacesSymlinkedFile(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "target.txt")
	write(t, filepath.Dir(outside), "target.txt", "original", 0o644)
	dest := writeRaw(t, []*tar.Header{
		{Name: "out.txt", Linkname: outside, Mode: 0o777, Typeflag: tar.TypeSymlink},
		{Name: "out.txt", Mode: 0o644, Typeflag: tar.TypeReg},
	}, map[string]string{"out.txt": "restored"})
	root := t.TempDir()

	restored, err := Extract(context.Background(), dest, root, nil)

	require.NoError(t, err)
	assert.Equal(t, 2, restored)
	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	data, err = os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "restored", string(data))
}

func TestExtract_AllowsSymlinksInsideRoot(t *testing.T) {
	dest := writeRaw(t, []*tar.Header{
		{Name: "real/", Mode: 0o755, Typeflag: tar.TypeDir},
		{Name: "alias", Linkname: "real", Mode: 0o777, Typeflag: tar.TypeSymlink},
		{Name: "alias/file.txt", Mode: 0o644, Typeflag: tar.TypeReg},
	}, map[string]string{"alias/file.txt": "inside"})
	root := t.TempDir()

	_, err := Extract(context.Background(), dest, root, nil)

	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, "real", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "inside", string(data))
}
