package remote

import (
	"context"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"

	"github.com/specialistvlad/taskgrid/internal/digest"
)

// transport is implemented by exactly two bindings in this package: gRPC and HTTP.
type transport interface {
	name() string
	getCapabilities(ctx context.Context) (*repb.ServerCapabilities, error)
	// getActionResult returns nil without error on a cache miss.
	getActionResult(ctx context.Context, d digest.Digest) (*repb.ActionResult, error)
	updateActionResult(ctx context.Context, d digest.Digest, result *repb.ActionResult) error
	findMissingBlobs(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error)
	batchUpdateBlobs(ctx context.Context, blobs []Blob, compressed bool) error
	batchReadBlobs(ctx context.Context, digests []digest.Digest, compressed bool) ([]Blob, error)
	streamUpdateBlob(ctx context.Context, blob Blob, compressed bool) error
	streamReadBlob(ctx context.Context, d digest.Digest, compressed bool) (Blob, error)
	close() error
}

func newTransport(cfg Config) (transport, error) {
	ep, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	switch ep.scheme {
	case "grpc", "grpcs":
		return newGRPCTransport(cfg, ep)
	default:
		return newHTTPTransport(cfg, ep)
	}
}

func toProto(d digest.Digest) *repb.Digest {
	return &repb.Digest{Hash: d.Hash, SizeBytes: d.Size}
}

func fromProto(d *repb.Digest) digest.Digest {
	return digest.Digest{Hash: d.GetHash(), Size: d.GetSizeBytes()}
}

func toProtos(ds []digest.Digest) []*repb.Digest {
	out := make([]*repb.Digest, len(ds))
	for i, d := range ds {
		out[i] = toProto(d)
	}
	return out
}
