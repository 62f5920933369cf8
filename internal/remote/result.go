package remote

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/specialistvlad/taskgrid/internal/digest"
	"github.com/specialistvlad/taskgrid/internal/fsutil"
)

// Execution is the outcome of a local run to be published remotely.
type Execution struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// BuildActionResult describes the given workspace-relative outputs as an
// action result and returns the blobs it references. Directories are walked
// and recorded file by file.
func BuildActionResult(root string, outputs []string, exec Execution) (*repb.ActionResult, []Blob, error) {
	result := &repb.ActionResult{ExitCode: int32(exec.ExitCode)}
	var blobs []Blob

	for _, rel := range outputs {
		err := filepath.WalkDir(filepath.Join(root, filepath.FromSlash(rel)), func(abs string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			name, err := filepath.Rel(root, abs)
			if err != nil {
				return err
			}
			name = filepath.ToSlash(name)

			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Mode()&os.ModeSymlink != 0 {
				link, err := os.Readlink(abs)
				if err != nil {
					return err
				}
				result.OutputSymlinks = append(result.OutputSymlinks, &repb.OutputSymlink{Path: name, Target: link})
				return nil
			}

			data, err := os.ReadFile(abs)
			if err != nil {
				return err
			}
			blob := NewBlob(data)
			blobs = append(blobs, blob)
			result.OutputFiles = append(result.OutputFiles, &repb.OutputFile{
				Path:         name,
				Digest:       toProto(blob.Digest),
				IsExecutable: info.Mode().Perm()&0o111 != 0,
			})
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to collect output %s: %w", rel, err)
		}
	}

	sort.Slice(result.OutputFiles, func(i, j int) bool { return result.OutputFiles[i].Path < result.OutputFiles[j].Path })
	sort.Slice(result.OutputSymlinks, func(i, j int) bool { return result.OutputSymlinks[i].Path < result.OutputSymlinks[j].Path })

	if exec.Stdout != "" {
		blob := NewBlob([]byte(exec.Stdout))
		blobs = append(blobs, blob)
		result.StdoutDigest = toProto(blob.Digest)
	}
	if exec.Stderr != "" {
		blob := NewBlob([]byte(exec.Stderr))
		blobs = append(blobs, blob)
		result.StderrDigest = toProto(blob.Digest)
	}

	host, _ := os.Hostname()
	result.ExecutionMetadata = &repb.ExecutedActionMetadata{
		Worker:                   host,
		WorkerCompletedTimestamp: timestamppb.Now(),
	}
	return result, blobs, nil
}

// CompletedAt returns when the result was produced, or the zero time when
// the server did not record it.
func CompletedAt(result *repb.ActionResult) time.Time {
	ts := result.GetExecutionMetadata().GetWorkerCompletedTimestamp()
	if ts == nil {
		return time.Time{}
	}
	return ts.AsTime()
}

// RestoreActionResult writes the outputs of a result beneath root, fetching
// every file not inlined in the result. It returns the number of files and
// symlinks restored.
func (c *Client) RestoreActionResult(ctx context.Context, result *repb.ActionResult, root string) (int, error) {
	ctx, span := c.tracer.Start(ctx, "remote.RestoreActionResult", trace.WithAttributes(
		attribute.Int("files", len(result.GetOutputFiles()))))
	defer span.End()

	var fetch []digest.Digest
	for _, f := range result.GetOutputFiles() {
		if len(f.GetContents()) == 0 && f.GetDigest().GetSizeBytes() > 0 {
			fetch = append(fetch, fromProto(f.GetDigest()))
		}
	}

	blobs := map[string][]byte{}
	if len(fetch) > 0 {
		var err error
		if blobs, err = c.DownloadBlobs(ctx, fetch); err != nil {
			c.fail(span, "restore_action_result", err)
			return 0, err
		}
	}

	restored := 0
	for _, f := range result.GetOutputFiles() {
		dest, err := safeOutputPath(root, f.GetPath())
		if err != nil {
			return restored, err
		}
		data := f.GetContents()
		if len(data) == 0 {
			data = blobs[f.GetDigest().GetHash()]
		}
		perm := os.FileMode(0o644)
		if f.GetIsExecutable() {
			perm = 0o755
		}
		if err := fsutil.WriteFileAtomic(dest, data, perm); err != nil {
			return restored, fmt.Errorf("failed to restore %s: %w", f.GetPath(), err)
		}
		restored++
	}

	symlinks := append(append([]*repb.OutputSymlink{}, result.GetOutputSymlinks()...), result.GetOutputFileSymlinks()...)
	for _, link := range symlinks {
		dest, err := safeOutputPath(root, link.GetPath())
		if err != nil {
			return restored, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return restored, err
		}
		_ = os.Remove(dest)
		if err := os.Symlink(link.GetTarget(), dest); err != nil {
			return restored, fmt.Errorf("failed to restore symlink %s: %w", link.GetPath(), err)
		}
		restored++
	}
	return restored, nil
}

func safeOutputPath(root, rel string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("output path %q escapes the workspace", rel)
	}
	dest := filepath.Join(root, filepath.FromSlash(rel))
	if err := fsutil.EnsureWithin(root, filepath.Dir(dest)); err != nil {
		return "", fmt.Errorf("output path %q escapes the workspace: %w", rel, err)
	}
	return dest, nil
}
