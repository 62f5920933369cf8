package remotetest

import (
	"fmt"
	"io"
	"strings"

	"google.golang.org/genproto/googleapis/bytestream"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const chunkSize = 64 * 1024

type byteStreamService struct {
	bytestream.UnimplementedByteStreamServer
	s *Server
}

// parseResource extracts the hash from "[instance/][uploads/<id>/]blobs/<hash>/<size>"
// or its "compressed-blobs/zstd/<hash>/<size>" form.
func parseResource(name string) (hash string, compressed bool, err error) {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		switch {
		case p == "blobs" && i+2 < len(parts):
			return parts[i+1], false, nil
		case p == "compressed-blobs" && i+3 < len(parts) && parts[i+1] == "zstd":
			return parts[i+2], true, nil
		}
	}
	return "", false, fmt.Errorf("malformed resource name %q", name)
}

func (b *byteStreamService) Read(req *bytestream.ReadRequest, stream bytestream.ByteStream_ReadServer) error {
	b.s.record("Read")
	hash, compressed, err := parseResource(req.GetResourceName())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	data, ok := b.s.Blob(hash)
	if !ok {
		return status.Error(codes.NotFound, "blob not found")
	}
	if compressed {
		data = encoder.EncodeAll(data, nil)
	}

	for start := 0; start < len(data); start += chunkSize {
		end := min(start+chunkSize, len(data))
		if err := stream.Send(&bytestream.ReadResponse{Data: data[start:end]}); err != nil {
			return err
		}
	}
	return nil
}

func (b *byteStreamService) Write(stream bytestream.ByteStream_WriteServer) error {
	b.s.record("Write")
	var (
		resource string
		buf      []byte
	)
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if resource == "" {
			resource = req.GetResourceName()
		}
		buf = append(buf, req.GetData()...)
		if req.GetFinishWrite() {
			break
		}
	}

	hash, compressed, err := parseResource(resource)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	received := int64(len(buf))
	if compressed {
		if buf, err = decoder.DecodeAll(buf, nil); err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
	}
	if err := b.s.store(hash, buf); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return stream.SendAndClose(&bytestream.WriteResponse{CommittedSize: received})
}
