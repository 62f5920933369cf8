package runner

import (
	"context"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/artifactstore"
	"github.com/specialistvlad/taskgrid/internal/digest"
	"github.com/specialistvlad/taskgrid/internal/process"
	"github.com/specialistvlad/taskgrid/internal/remote"
)

// RemoteCache is the part of *remote.Client the runner uses.
type RemoteCache interface {
	IsEnabled() bool
	GetActionResult(ctx context.Context, d digest.Digest) (*repb.ActionResult, error)
	SaveActionResult(ctx context.Context, d digest.Digest, result *repb.ActionResult, blobs []remote.Blob) error
	RestoreActionResult(ctx context.Context, result *repb.ActionResult, root string) (int, error)
}

// ArtifactStore is the part of *artifactstore.Store the runner uses.
type ArtifactStore interface {
	IsEnabled() bool
	Get(ctx context.Context, hash string) (*artifactstore.Artifact, string, error)
	Download(ctx context.Context, url, dest string) (int64, error)
	Upload(ctx context.Context, hash, target, path string) error
}

// CommandFunc runs a built command. process.Run is the default.
type CommandFunc func(ctx context.Context, cmd *process.Command) (*action.Output, error)

var (
	_ RemoteCache   = (*remote.Client)(nil)
	_ ArtifactStore = (*artifactstore.Store)(nil)
)

func remoteEnabled(r RemoteCache) bool {
	return r != nil && r.IsEnabled()
}

func legacyEnabled(s ArtifactStore) bool {
	return s != nil && s.IsEnabled()
}
