package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/proto"
	"resty.dev/v3"

	"github.com/specialistvlad/taskgrid/internal/digest"
)

// httpConcurrency bounds parallel requests issued for one batch.
const httpConcurrency = 8

// httpTransport speaks the HTTP cache protocol: action results under /ac/
// and blobs under /cas/, both keyed by hash.
type httpTransport struct {
	client *resty.Client
	prefix string
}

func newHTTPTransport(cfg Config, ep endpoint) (*httpTransport, error) {
	client := resty.New().
		SetBaseURL(ep.baseURL).
		SetHeader("Content-Type", "application/octet-stream")
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	if ep.scheme == "https" {
		tlsCfg, err := cfg.tlsConfig()
		if err != nil {
			return nil, err
		}
		client.SetTLSClientConfig(tlsCfg)
	}

	prefix := ""
	if cfg.InstanceName != "" {
		prefix = "/" + cfg.InstanceName
	}
	return &httpTransport{client: client, prefix: prefix}, nil
}

func (t *httpTransport) name() string { return "http" }

// getCapabilities answers locally: the HTTP protocol has no capability
// endpoint, and servers implementing it hash with SHA-256 and accept updates.
func (t *httpTransport) getCapabilities(context.Context) (*repb.ServerCapabilities, error) {
	return &repb.ServerCapabilities{
		CacheCapabilities: &repb.CacheCapabilities{
			DigestFunctions:               []repb.DigestFunction_Value{repb.DigestFunction_SHA256},
			ActionCacheUpdateCapabilities: &repb.ActionCacheUpdateCapabilities{UpdateEnabled: true},
		},
	}, nil
}

func (t *httpTransport) getActionResult(ctx context.Context, d digest.Digest) (*repb.ActionResult, error) {
	res, err := t.client.R().SetContext(ctx).Get(t.prefix + "/ac/" + d.Hash)
	if err != nil {
		return nil, err
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("action result %s: unexpected status %s", d.Hash, res.Status())
	}

	result := &repb.ActionResult{}
	if err := proto.Unmarshal(res.Bytes(), result); err != nil {
		return nil, fmt.Errorf("action result %s: %w", d.Hash, err)
	}
	return result, nil
}

func (t *httpTransport) updateActionResult(ctx context.Context, d digest.Digest, result *repb.ActionResult) error {
	body, err := proto.Marshal(result)
	if err != nil {
		return err
	}
	return t.put(ctx, "/ac/"+d.Hash, body)
}

func (t *httpTransport) findMissingBlobs(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	var (
		mu      sync.Mutex
		missing []digest.Digest
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(httpConcurrency)
	for _, d := range digests {
		g.Go(func() error {
			res, err := t.client.R().SetContext(ctx).Head(t.prefix + "/cas/" + d.Hash)
			if err != nil {
				return err
			}
			switch {
			case res.StatusCode() == http.StatusNotFound:
				mu.Lock()
				missing = append(missing, d)
				mu.Unlock()
			case res.IsError():
				return fmt.Errorf("blob %s: unexpected status %s", d.Hash, res.Status())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return missing, nil
}

func (t *httpTransport) batchUpdateBlobs(ctx context.Context, blobs []Blob, _ bool) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(httpConcurrency)
	for _, b := range blobs {
		g.Go(func() error {
			return t.put(ctx, "/cas/"+b.Digest.Hash, b.Data)
		})
	}
	return g.Wait()
}

func (t *httpTransport) batchReadBlobs(ctx context.Context, digests []digest.Digest, _ bool) ([]Blob, error) {
	blobs := make([]Blob, len(digests))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(httpConcurrency)
	for i, d := range digests {
		g.Go(func() error {
			b, err := t.streamReadBlob(ctx, d, false)
			blobs[i] = b
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return blobs, nil
}

func (t *httpTransport) streamUpdateBlob(ctx context.Context, blob Blob, _ bool) error {
	return t.put(ctx, "/cas/"+blob.Digest.Hash, blob.Data)
}

func (t *httpTransport) streamReadBlob(ctx context.Context, d digest.Digest, _ bool) (Blob, error) {
	res, err := t.client.R().SetContext(ctx).Get(t.prefix + "/cas/" + d.Hash)
	if err != nil {
		return Blob{}, err
	}
	if res.IsError() {
		return Blob{}, fmt.Errorf("blob %s: unexpected status %s", d.Hash, res.Status())
	}
	return Blob{Digest: d, Data: res.Bytes()}, nil
}

func (t *httpTransport) put(ctx context.Context, path string, body []byte) error {
	res, err := t.client.R().SetContext(ctx).SetBody(body).Put(t.prefix + path)
	if err != nil {
		return err
	}
	if res.IsError() {
		return fmt.Errorf("PUT %s: unexpected status %s", path, res.Status())
	}
	return nil
}

func (t *httpTransport) close() error {
	return t.client.Close()
}
