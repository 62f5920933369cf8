package remote

import (
	"context"
	"errors"
	"fmt"
	"io"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/specialistvlad/taskgrid/internal/digest"
)

const (
	requestMetadataKey = "build.bazel.remote.execution.v2.requestmetadata-bin"
	streamChunkSize    = 1024 * 1024
	maxMessageSize     = 64 * 1024 * 1024
)

type grpcTransport struct {
	conn     *grpc.ClientConn
	instance string
	caps     repb.CapabilitiesClient
	ac       repb.ActionCacheClient
	cas      repb.ContentAddressableStorageClient
	bs       bytestream.ByteStreamClient
}

func newGRPCTransport(cfg Config, ep endpoint) (*grpcTransport, error) {
	var creds credentials.TransportCredentials
	if ep.scheme == "grpcs" {
		tlsCfg, err := cfg.tlsConfig()
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsCfg)
	} else {
		creds = insecure.NewCredentials()
	}

	md, err := requestMetadata(cfg)
	if err != nil {
		return nil, err
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize), grpc.MaxCallSendMsgSize(maxMessageSize)),
		grpc.WithChainUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
			return invoker(metadata.NewOutgoingContext(ctx, md), method, req, reply, cc, opts...)
		}),
		grpc.WithChainStreamInterceptor(func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			return streamer(metadata.NewOutgoingContext(ctx, md), desc, cc, method, opts...)
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(ep.address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for %s: %w", ep.address, err)
	}

	return &grpcTransport{
		conn:     conn,
		instance: cfg.InstanceName,
		caps:     repb.NewCapabilitiesClient(conn),
		ac:       repb.NewActionCacheClient(conn),
		cas:      repb.NewContentAddressableStorageClient(conn),
		bs:       bytestream.NewByteStreamClient(conn),
	}, nil
}

// requestMetadata builds the headers attached to every call.
func requestMetadata(cfg Config) (metadata.MD, error) {
	md := metadata.New(nil)
	for k, v := range cfg.Headers {
		md.Append(k, v)
	}

	rm, err := proto.Marshal(&repb.RequestMetadata{
		ToolDetails:      &repb.ToolDetails{ToolName: cfg.ToolName, ToolVersion: cfg.ToolVersion},
		ToolInvocationId: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}
	md.Append(requestMetadataKey, string(rm))
	return md, nil
}

func (t *grpcTransport) name() string { return "grpc" }

func (t *grpcTransport) getCapabilities(ctx context.Context) (*repb.ServerCapabilities, error) {
	return t.caps.GetCapabilities(ctx, &repb.GetCapabilitiesRequest{InstanceName: t.instance})
}

func (t *grpcTransport) getActionResult(ctx context.Context, d digest.Digest) (*repb.ActionResult, error) {
	result, err := t.ac.GetActionResult(ctx, &repb.GetActionResultRequest{
		InstanceName:   t.instance,
		ActionDigest:   toProto(d),
		InlineStdout:   true,
		InlineStderr:   true,
		DigestFunction: repb.DigestFunction_SHA256,
	})
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	return result, err
}

func (t *grpcTransport) updateActionResult(ctx context.Context, d digest.Digest, result *repb.ActionResult) error {
	_, err := t.ac.UpdateActionResult(ctx, &repb.UpdateActionResultRequest{
		InstanceName:   t.instance,
		ActionDigest:   toProto(d),
		ActionResult:   result,
		DigestFunction: repb.DigestFunction_SHA256,
	})
	return err
}

func (t *grpcTransport) findMissingBlobs(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	resp, err := t.cas.FindMissingBlobs(ctx, &repb.FindMissingBlobsRequest{
		InstanceName:   t.instance,
		BlobDigests:    toProtos(digests),
		DigestFunction: repb.DigestFunction_SHA256,
	})
	if err != nil {
		return nil, err
	}
	missing := make([]digest.Digest, 0, len(resp.GetMissingBlobDigests()))
	for _, d := range resp.GetMissingBlobDigests() {
		missing = append(missing, fromProto(d))
	}
	return missing, nil
}

func (t *grpcTransport) batchUpdateBlobs(ctx context.Context, blobs []Blob, compressed bool) error {
	req := &repb.BatchUpdateBlobsRequest{InstanceName: t.instance, DigestFunction: repb.DigestFunction_SHA256}
	for _, b := range blobs {
		item := &repb.BatchUpdateBlobsRequest_Request{Digest: toProto(b.Digest), Data: b.Data}
		if compressed {
			item.Data = compress(b.Data)
			item.Compressor = repb.Compressor_ZSTD
		}
		req.Requests = append(req.Requests, item)
	}

	resp, err := t.cas.BatchUpdateBlobs(ctx, req)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range resp.GetResponses() {
		if code := codes.Code(r.GetStatus().GetCode()); code != codes.OK {
			errs = append(errs, fmt.Errorf("blob %s: %s: %s", r.GetDigest().GetHash(), code, r.GetStatus().GetMessage()))
		}
	}
	return errors.Join(errs...)
}

func (t *grpcTransport) batchReadBlobs(ctx context.Context, digests []digest.Digest, compressed bool) ([]Blob, error) {
	req := &repb.BatchReadBlobsRequest{
		InstanceName:   t.instance,
		Digests:        toProtos(digests),
		DigestFunction: repb.DigestFunction_SHA256,
	}
	if compressed {
		req.AcceptableCompressors = []repb.Compressor_Value{repb.Compressor_ZSTD}
	}

	resp, err := t.cas.BatchReadBlobs(ctx, req)
	if err != nil {
		return nil, err
	}

	blobs := make([]Blob, 0, len(resp.GetResponses()))
	for _, r := range resp.GetResponses() {
		if code := codes.Code(r.GetStatus().GetCode()); code != codes.OK {
			return nil, fmt.Errorf("blob %s: %s: %s", r.GetDigest().GetHash(), code, r.GetStatus().GetMessage())
		}
		data := r.GetData()
		if r.GetCompressor() == repb.Compressor_ZSTD {
			if data, err = decompress(data); err != nil {
				return nil, fmt.Errorf("blob %s: %w", r.GetDigest().GetHash(), err)
			}
		}
		blobs = append(blobs, Blob{Digest: fromProto(r.GetDigest()), Data: data})
	}
	return blobs, nil
}

func (t *grpcTransport) streamUpdateBlob(ctx context.Context, blob Blob, compressed bool) error {
	data := blob.Data
	resource := fmt.Sprintf("uploads/%s/blobs/%s", uuid.NewString(), blob.Digest)
	if compressed {
		data = compress(blob.Data)
		resource = fmt.Sprintf("uploads/%s/compressed-blobs/zstd/%s", uuid.NewString(), blob.Digest)
	}
	if t.instance != "" {
		resource = t.instance + "/" + resource
	}

	stream, err := t.bs.Write(ctx)
	if err != nil {
		return err
	}

	var offset int64
	for {
		end := min(offset+streamChunkSize, int64(len(data)))
		req := &bytestream.WriteRequest{
			WriteOffset: offset,
			Data:        data[offset:end],
			FinishWrite: end == int64(len(data)),
		}
		if offset == 0 {
			req.ResourceName = resource
		}
		if err := stream.Send(req); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		offset = end
		if req.FinishWrite {
			break
		}
	}

	resp, err := stream.CloseAndRecv()
	if err != nil {
		return err
	}
	if !compressed && resp.GetCommittedSize() != blob.Digest.Size {
		return fmt.Errorf("blob %s: server committed %d of %d bytes", blob.Digest.Hash, resp.GetCommittedSize(), blob.Digest.Size)
	}
	return nil
}

func (t *grpcTransport) streamReadBlob(ctx context.Context, d digest.Digest, compressed bool) (Blob, error) {
	resource := "blobs/" + d.String()
	if compressed {
		resource = "compressed-blobs/zstd/" + d.String()
	}
	if t.instance != "" {
		resource = t.instance + "/" + resource
	}

	stream, err := t.bs.Read(ctx, &bytestream.ReadRequest{ResourceName: resource})
	if err != nil {
		return Blob{}, err
	}

	var data []byte
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Blob{}, err
		}
		data = append(data, resp.GetData()...)
	}

	if compressed {
		if data, err = decompress(data); err != nil {
			return Blob{}, fmt.Errorf("blob %s: %w", d.Hash, err)
		}
	}
	return Blob{Digest: d, Data: data}, nil
}

func (t *grpcTransport) close() error {
	return t.conn.Close()
}
