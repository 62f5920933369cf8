// Package remote talks to a remote build cache speaking the Remote Execution
// API v2 cache services, over either the binary RPC binding (gRPC) or the
// plain HTTP binding.
//
// The client negotiates capabilities once, partitions transfers to respect
// the server's batch size, optionally compresses blobs with zstd, and runs
// uploads in the background through a Ledger that must be drained before the
// process exits.
package remote

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"google.golang.org/grpc"
)

// ErrUnsupportedCapability is returned when the server cannot act as a cache for us.
var ErrUnsupportedCapability = errors.New("remote cache capability not supported")

// Compression names accepted in configuration.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// TLSConfig points at PEM files for TLS and mutual TLS.
type TLSConfig struct {
	// CACert verifies the server. The system pool is used when empty.
	CACert string
	// Cert and Key enable client authentication (mTLS).
	Cert string
	Key  string
	// Domain overrides the server name used for verification.
	Domain string
	// AssumeHTTP2 skips ALPN negotiation checks for servers behind proxies.
	AssumeHTTP2 bool
}

// Config describes how to reach the remote cache.
type Config struct {
	// Host is a URL whose scheme selects the binding: grpc, grpcs, http or https.
	Host         string
	InstanceName string
	Compression  string
	// Headers are sent with every request, for example authorization tokens.
	Headers map[string]string
	TLS     *TLSConfig

	ToolName    string
	ToolVersion string

	// DialOptions are appended to the gRPC dial options, for custom dialers.
	DialOptions []grpc.DialOption
}

type endpoint struct {
	scheme  string
	address string
	baseURL string
}

func (c Config) endpoint() (endpoint, error) {
	u, err := url.Parse(c.Host)
	if err != nil {
		return endpoint{}, fmt.Errorf("invalid remote host %q: %w", c.Host, err)
	}
	switch u.Scheme {
	case "grpc", "grpcs":
		if u.Host == "" {
			return endpoint{}, fmt.Errorf("invalid remote host %q: missing address", c.Host)
		}
		return endpoint{scheme: u.Scheme, address: u.Host}, nil
	case "http", "https":
		return endpoint{scheme: u.Scheme, baseURL: strings.TrimSuffix(c.Host, "/")}, nil
	default:
		return endpoint{}, fmt.Errorf("invalid remote host %q: scheme must be grpc, grpcs, http or https", c.Host)
	}
}

func (c Config) wantsCompression() bool {
	return strings.EqualFold(c.Compression, CompressionZstd)
}

// tlsConfig builds a *tls.Config from the configured PEM files.
func (c Config) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if c.TLS == nil {
		return cfg, nil
	}

	cfg.ServerName = c.TLS.Domain
	if c.TLS.CACert != "" {
		pem, err := os.ReadFile(c.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.TLS.CACert)
		}
		cfg.RootCAs = pool
	}
	if c.TLS.Cert != "" || c.TLS.Key != "" {
		pair, err := tls.LoadX509KeyPair(c.TLS.Cert, c.TLS.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	}
	if c.TLS.AssumeHTTP2 {
		cfg.NextProtos = []string{"h2"}
	}
	return cfg, nil
}
