package remote

import (
	"context"
	"fmt"
	"sync"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/digest"
	"github.com/specialistvlad/taskgrid/internal/metrics"
)

const tracerName = "github.com/specialistvlad/taskgrid/internal/remote"

// Client is a connected remote cache.
type Client struct {
	transport transport
	settings  settings
	tracer    trace.Tracer
}

// Connect creates the transport selected by the host scheme and negotiates
// capabilities. A returned error means the remote tier must stay disabled.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	t, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}
	return connect(ctx, cfg, t)
}

func connect(ctx context.Context, cfg Config, t transport) (*Client, error) {
	logger := ctxlog.FromContext(ctx)

	caps, err := t.getCapabilities(ctx)
	if err != nil {
		_ = t.close()
		return nil, fmt.Errorf("failed to load remote cache capabilities: %w", err)
	}

	s, warnings, err := negotiate(caps, cfg)
	if err != nil {
		_ = t.close()
		return nil, err
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	logger.Info("Connected to remote cache.", "binding", t.name(), "compression", s.compression, "max_batch_size", s.maxBatchSize)
	return &Client{transport: t, settings: s, tracer: otel.Tracer(tracerName)}, nil
}

// IsEnabled reports whether the client can be used. A nil client is disabled.
func (c *Client) IsEnabled() bool {
	return c != nil
}

// Compression reports whether blobs travel zstd-compressed.
func (c *Client) Compression() bool {
	return c.settings.compression
}

// MaxBatchSize is the negotiated batch limit, safety margin already applied.
func (c *Client) MaxBatchSize() int64 {
	return c.settings.maxBatchSize
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.transport.close()
}

// GetActionResult looks up the result cached for an action digest. A miss
// returns nil without error. Standard output and error referenced by digest
// are downloaded so the returned result always carries them inline.
func (c *Client) GetActionResult(ctx context.Context, d digest.Digest) (*repb.ActionResult, error) {
	ctx, span := c.tracer.Start(ctx, "remote.GetActionResult", trace.WithAttributes(attribute.String("hash", d.Hash)))
	defer span.End()

	result, err := c.transport.getActionResult(ctx, d)
	if err != nil {
		c.fail(span, "get_action_result", err)
		return nil, fmt.Errorf("failed to get action result %s: %w", d.Hash, err)
	}
	if result == nil {
		span.SetAttributes(attribute.Bool("hit", false))
		return nil, nil
	}
	span.SetAttributes(attribute.Bool("hit", true))

	var fetch []digest.Digest
	if needsFetch(result.GetStdoutRaw(), result.GetStdoutDigest()) {
		fetch = append(fetch, fromProto(result.GetStdoutDigest()))
	}
	if needsFetch(result.GetStderrRaw(), result.GetStderrDigest()) {
		fetch = append(fetch, fromProto(result.GetStderrDigest()))
	}
	if len(fetch) > 0 {
		blobs, err := c.DownloadBlobs(ctx, fetch)
		if err != nil {
			return nil, fmt.Errorf("failed to download logs of %s: %w", d.Hash, err)
		}
		if result.GetStdoutDigest() != nil && len(result.StdoutRaw) == 0 {
			result.StdoutRaw = blobs[result.GetStdoutDigest().GetHash()]
		}
		if result.GetStderrDigest() != nil && len(result.StderrRaw) == 0 {
			result.StderrRaw = blobs[result.GetStderrDigest().GetHash()]
		}
	}
	return result, nil
}

// SaveActionResult uploads the blobs the server is missing, then records
// the action result.
func (c *Client) SaveActionResult(ctx context.Context, d digest.Digest, result *repb.ActionResult, blobs []Blob) error {
	ctx, span := c.tracer.Start(ctx, "remote.SaveActionResult", trace.WithAttributes(
		attribute.String("hash", d.Hash), attribute.Int("blobs", len(blobs))))
	defer span.End()

	if err := c.UploadBlobs(ctx, blobs); err != nil {
		c.fail(span, "upload_blobs", err)
		return err
	}
	if err := c.transport.updateActionResult(ctx, d, result); err != nil {
		c.fail(span, "update_action_result", err)
		return fmt.Errorf("failed to update action result %s: %w", d.Hash, err)
	}
	return nil
}

// UploadBlobs stores the blobs the server does not have yet. Batches are
// sent concurrently; blobs too large for a batch are streamed.
func (c *Client) UploadBlobs(ctx context.Context, blobs []Blob) error {
	logger := ctxlog.FromContext(ctx)
	if len(blobs) == 0 {
		return nil
	}

	unique := make(map[string]Blob, len(blobs))
	digests := make([]digest.Digest, 0, len(blobs))
	for _, b := range blobs {
		if _, ok := unique[b.Digest.Hash]; !ok {
			unique[b.Digest.Hash] = b
			digests = append(digests, b.Digest)
		}
	}

	missing, err := c.transport.findMissingBlobs(ctx, digests)
	if err != nil {
		return fmt.Errorf("failed to find missing blobs: %w", err)
	}
	if len(missing) == 0 {
		logger.Debug("Remote cache already has every blob.", "blobs", len(digests))
		return nil
	}

	upload := make([]Blob, 0, len(missing))
	for _, d := range missing {
		if b, ok := unique[d.Hash]; ok {
			upload = append(upload, b)
		}
	}

	partitions := PartitionBySize(upload, c.settings.maxBatchSize, func(b Blob) int64 { return int64(len(b.Data)) })
	logger.Debug("Uploading blobs to remote cache.", "blobs", len(upload), "partitions", len(partitions))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range partitions {
		g.Go(func() error {
			var err error
			if p.Stream {
				err = c.transport.streamUpdateBlob(ctx, p.Items[0], c.settings.compression)
			} else {
				err = c.transport.batchUpdateBlobs(ctx, p.Items, c.settings.compression)
			}
			if err != nil {
				return fmt.Errorf("partition %d: %w", i, err)
			}
			metrics.RemoteBytes.WithLabelValues("upload").Add(float64(p.Size))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to upload blobs: %w", err)
	}
	return nil
}

// DownloadBlobs fetches blobs by digest and verifies their content. The
// result is keyed by hash.
func (c *Client) DownloadBlobs(ctx context.Context, digests []digest.Digest) (map[string][]byte, error) {
	seen := make(map[string]struct{}, len(digests))
	unique := make([]digest.Digest, 0, len(digests))
	for _, d := range digests {
		if _, ok := seen[d.Hash]; !ok {
			seen[d.Hash] = struct{}{}
			unique = append(unique, d)
		}
	}

	var (
		mu    sync.Mutex
		blobs = make(map[string][]byte, len(unique))
	)
	store := func(b Blob) error {
		if got := digest.FromBytes(b.Data); got.Hash != b.Digest.Hash {
			return fmt.Errorf("blob %s failed verification: got %s", b.Digest.Hash, got.Hash)
		}
		mu.Lock()
		blobs[b.Digest.Hash] = b.Data
		mu.Unlock()
		return nil
	}

	partitions := PartitionBySize(unique, c.settings.maxBatchSize, func(d digest.Digest) int64 { return d.Size })

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range partitions {
		g.Go(func() error {
			var fetched []Blob
			if p.Stream {
				b, err := c.transport.streamReadBlob(ctx, p.Items[0], c.settings.compression)
				if err != nil {
					return fmt.Errorf("partition %d: %w", i, err)
				}
				fetched = []Blob{b}
			} else {
				var err error
				if fetched, err = c.transport.batchReadBlobs(ctx, p.Items, c.settings.compression); err != nil {
					return fmt.Errorf("partition %d: %w", i, err)
				}
			}
			for _, b := range fetched {
				if err := store(b); err != nil {
					return err
				}
			}
			metrics.RemoteBytes.WithLabelValues("download").Add(float64(p.Size))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RemoteErrors.WithLabelValues("download_blobs").Inc()
		return nil, fmt.Errorf("failed to download blobs: %w", err)
	}
	for _, d := range unique {
		if _, ok := blobs[d.Hash]; !ok {
			metrics.RemoteErrors.WithLabelValues("download_blobs").Inc()
			return nil, fmt.Errorf("failed to download blobs: %d of %d returned, %s missing", len(blobs), len(unique), d.Hash)
		}
	}
	return blobs, nil
}

func (c *Client) fail(span trace.Span, op string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.RemoteErrors.WithLabelValues(op).Inc()
}

func needsFetch(raw []byte, d *repb.Digest) bool {
	return len(raw) == 0 && d.GetSizeBytes() > 0
}
