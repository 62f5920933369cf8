// Package remotetest provides an in-memory remote cache that serves both the
// gRPC and the HTTP binding, for tests.
package remotetest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/klauspost/compress/zstd"
	"google.golang.org/genproto/googleapis/bytestream"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Server is an in-memory action cache and content-addressable store.
type Server struct {
	mu           sync.Mutex
	actions      map[string]*repb.ActionResult
	blobs        map[string][]byte
	calls        map[string]int
	capabilities *repb.ServerCapabilities
}

// New creates a server advertising SHA-256, action cache updates and zstd
// compression with the given batch limit (zero means unlimited).
func New(maxBatchSize int64) *Server {
	return &Server{
		actions: make(map[string]*repb.ActionResult),
		blobs:   make(map[string][]byte),
		calls:   make(map[string]int),
		capabilities: &repb.ServerCapabilities{
			CacheCapabilities: &repb.CacheCapabilities{
				DigestFunctions:                 []repb.DigestFunction_Value{repb.DigestFunction_SHA256},
				ActionCacheUpdateCapabilities:   &repb.ActionCacheUpdateCapabilities{UpdateEnabled: true},
				MaxBatchTotalSizeBytes:          maxBatchSize,
				SupportedCompressors:            []repb.Compressor_Value{repb.Compressor_ZSTD},
				SupportedBatchUpdateCompressors: []repb.Compressor_Value{repb.Compressor_ZSTD},
			},
		},
	}
}

// SetCapabilities replaces the advertised capabilities.
func (s *Server) SetCapabilities(caps *repb.ServerCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capabilities = caps
}

// Calls returns how often a method was invoked, e.g. "BatchUpdateBlobs".
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// PutBlob stores data and returns its hash.
func (s *Server) PutBlob(data []byte) string {
	hash := hashOf(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[hash] = data
	return hash
}

// PutRaw stores data under hash without verifying it.
func (s *Server) PutRaw(hash string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[hash] = data
}

// Blob returns stored content.
func (s *Server) Blob(hash string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[hash]
	return data, ok
}

// BlobCount returns the number of stored blobs.
func (s *Server) BlobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// ActionResult returns the result stored for an action hash.
func (s *Server) ActionResult(hash string) (*repb.ActionResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.actions[hash]
	return r, ok
}

// SetActionResult stores a result for an action hash.
func (s *Server) SetActionResult(hash string, r *repb.ActionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[hash] = r
}

// Register attaches every cache service to a gRPC server.
func (s *Server) Register(g *grpc.Server) {
	repb.RegisterCapabilitiesServer(g, &capabilitiesService{s: s})
	repb.RegisterActionCacheServer(g, &actionCacheService{s: s})
	repb.RegisterContentAddressableStorageServer(g, &casService{s: s})
	bytestream.RegisterByteStreamServer(g, &byteStreamService{s: s})
}

func (s *Server) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
}

func (s *Server) store(hash string, data []byte) error {
	if got := hashOf(data); got != hash {
		return fmt.Errorf("digest mismatch: declared %s, content %s", hash, got)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[hash] = data
	return nil
}

type capabilitiesService struct {
	repb.UnimplementedCapabilitiesServer
	s *Server
}

func (c *capabilitiesService) GetCapabilities(context.Context, *repb.GetCapabilitiesRequest) (*repb.ServerCapabilities, error) {
	c.s.record("GetCapabilities")
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	return c.s.capabilities, nil
}

type actionCacheService struct {
	repb.UnimplementedActionCacheServer
	s *Server
}

func (a *actionCacheService) GetActionResult(_ context.Context, req *repb.GetActionResultRequest) (*repb.ActionResult, error) {
	a.s.record("GetActionResult")
	r, ok := a.s.ActionResult(req.GetActionDigest().GetHash())
	if !ok {
		return nil, status.Error(codes.NotFound, "action result not found")
	}
	return r, nil
}

func (a *actionCacheService) UpdateActionResult(_ context.Context, req *repb.UpdateActionResultRequest) (*repb.ActionResult, error) {
	a.s.record("UpdateActionResult")
	a.s.SetActionResult(req.GetActionDigest().GetHash(), req.GetActionResult())
	return req.GetActionResult(), nil
}

type casService struct {
	repb.UnimplementedContentAddressableStorageServer
	s *Server
}

func (c *casService) FindMissingBlobs(_ context.Context, req *repb.FindMissingBlobsRequest) (*repb.FindMissingBlobsResponse, error) {
	c.s.record("FindMissingBlobs")
	resp := &repb.FindMissingBlobsResponse{}
	for _, d := range req.GetBlobDigests() {
		if _, ok := c.s.Blob(d.GetHash()); !ok {
			resp.MissingBlobDigests = append(resp.MissingBlobDigests, d)
		}
	}
	return resp, nil
}

func (c *casService) BatchUpdateBlobs(_ context.Context, req *repb.BatchUpdateBlobsRequest) (*repb.BatchUpdateBlobsResponse, error) {
	c.s.record("BatchUpdateBlobs")
	resp := &repb.BatchUpdateBlobsResponse{}
	for _, item := range req.GetRequests() {
		data := item.GetData()
		code, message := codes.OK, ""
		if item.GetCompressor() == repb.Compressor_ZSTD {
			var err error
			if data, err = decoder.DecodeAll(data, nil); err != nil {
				code, message = codes.InvalidArgument, err.Error()
			}
		}
		if code == codes.OK {
			if err := c.s.store(item.GetDigest().GetHash(), data); err != nil {
				code, message = codes.InvalidArgument, err.Error()
			}
		}
		resp.Responses = append(resp.Responses, &repb.BatchUpdateBlobsResponse_Response{
			Digest: item.GetDigest(),
			Status: &rpcstatus.Status{Code: int32(code), Message: message},
		})
	}
	return resp, nil
}

func (c *casService) BatchReadBlobs(_ context.Context, req *repb.BatchReadBlobsRequest) (*repb.BatchReadBlobsResponse, error) {
	c.s.record("BatchReadBlobs")
	compressed := false
	for _, comp := range req.GetAcceptableCompressors() {
		compressed = compressed || comp == repb.Compressor_ZSTD
	}

	resp := &repb.BatchReadBlobsResponse{}
	for _, d := range req.GetDigests() {
		item := &repb.BatchReadBlobsResponse_Response{Digest: d, Status: &rpcstatus.Status{}}
		data, ok := c.s.Blob(d.GetHash())
		switch {
		case !ok:
			item.Status = &rpcstatus.Status{Code: int32(codes.NotFound), Message: "blob not found"}
		case compressed:
			item.Data = encoder.EncodeAll(data, nil)
			item.Compressor = repb.Compressor_ZSTD
		default:
			item.Data = data
		}
		resp.Responses = append(resp.Responses, item)
	}
	return resp, nil
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
