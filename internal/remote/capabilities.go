package remote

import (
	"fmt"
	"slices"

	repb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
)

const (
	// DefaultMaxBatchSize applies when the server advertises no limit.
	DefaultMaxBatchSize int64 = 4 * 1024 * 1024
	// BatchSafetyMargin is reserved for request framing and non-blob fields.
	BatchSafetyMargin int64 = 10 * 1024
)

// settings are the negotiated parameters of a connection.
type settings struct {
	compression  bool
	maxBatchSize int64
}

// negotiate validates the server capabilities. The server must hash with
// SHA-256 and accept action result updates. Compression is enabled only when
// requested and advertised for both single and batched transfers.
func negotiate(caps *repb.ServerCapabilities, cfg Config) (settings, []string, error) {
	var warnings []string

	cache := caps.GetCacheCapabilities()
	if cache == nil {
		return settings{}, nil, fmt.Errorf("%w: server does not provide a cache", ErrUnsupportedCapability)
	}
	if !slices.Contains(cache.GetDigestFunctions(), repb.DigestFunction_SHA256) {
		return settings{}, nil, fmt.Errorf("%w: server does not support sha256 digests", ErrUnsupportedCapability)
	}
	if !cache.GetActionCacheUpdateCapabilities().GetUpdateEnabled() {
		return settings{}, nil, fmt.Errorf("%w: server does not allow action cache updates", ErrUnsupportedCapability)
	}

	s := settings{maxBatchSize: cache.GetMaxBatchTotalSizeBytes()}
	if s.maxBatchSize <= 0 {
		s.maxBatchSize = DefaultMaxBatchSize
	}
	s.maxBatchSize -= BatchSafetyMargin

	if cfg.wantsCompression() {
		single := slices.Contains(cache.GetSupportedCompressors(), repb.Compressor_ZSTD)
		batch := slices.Contains(cache.GetSupportedBatchUpdateCompressors(), repb.Compressor_ZSTD)
		if single && batch {
			s.compression = true
		} else {
			warnings = append(warnings, "zstd compression requested but not supported by the server; sending uncompressed blobs")
		}
	}
	return s, warnings, nil
}
