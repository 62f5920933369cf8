// Package artifactstore is a client for the legacy artifact store: an HTTP
// service that keeps one archive per task hash behind short-lived presigned
// URLs.
//
// A session is opened once per run with a secret key. Lookups, downloads
// and uploads then authenticate with the session token.
package artifactstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"resty.dev/v3"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/fsutil"
)

var (
	// ErrUnauthorized is returned when the store rejects the secret key or token.
	ErrUnauthorized = errors.New("artifact store rejected credentials")
	// ErrNotSignedIn is returned when an operation runs before SignIn.
	ErrNotSignedIn = errors.New("artifact store session not established")
)

// Config locates the store.
type Config struct {
	Host       string
	Repository string
	SecretKey  string
	Timeout    time.Duration
}

// Artifact is a stored archive.
type Artifact struct {
	Hash      string    `json:"hash"`
	Size      int64     `json:"size"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"createdAt"`
}

type sessionResponse struct {
	Token string `json:"token"`
}

type artifactResponse struct {
	Artifact     Artifact `json:"artifact"`
	PresignedURL string   `json:"presignedUrl"`
}

type uploadRequest struct {
	Target string `json:"target"`
	Size   int64  `json:"size"`
}

type uploadResponse struct {
	PresignedURL string `json:"presignedUrl"`
}

type apiError struct {
	Message string `json:"message"`
}

// Store is an authenticated client. A nil *Store is a disabled tier.
type Store struct {
	cfg    Config
	client *resty.Client
	// presigned URLs point at object storage and must not carry the token.
	raw   *resty.Client
	token string
}

// New creates a client; SignIn must succeed before any other call.
func New(cfg Config) *Store {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.Host).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	raw := resty.New().SetTimeout(cfg.Timeout)
	return &Store{cfg: cfg, client: client, raw: raw}
}

// Connect creates a client and signs in. A returned error means the legacy
// tier must stay disabled.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	s := New(cfg)
	if err := s.SignIn(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// IsEnabled reports whether the store holds a session. A nil store is disabled.
func (s *Store) IsEnabled() bool {
	return s != nil && s.token != ""
}

// SignIn exchanges the secret key for a session token.
func (s *Store) SignIn(ctx context.Context) error {
	var session sessionResponse
	var apiErr apiError
	res, err := s.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"repository": s.cfg.Repository, "secretKey": s.cfg.SecretKey}).
		SetResult(&session).
		SetError(&apiErr).
		Post("/auth/session")
	if err != nil {
		return fmt.Errorf("failed to sign in to artifact store: %w", err)
	}
	if err := checkResponse(res, apiErr); err != nil {
		return fmt.Errorf("failed to sign in to artifact store: %w", err)
	}
	if session.Token == "" {
		return fmt.Errorf("failed to sign in to artifact store: %w", ErrUnauthorized)
	}

	s.token = session.Token
	s.client.SetAuthToken(session.Token)
	ctxlog.FromContext(ctx).Debug("Signed in to artifact store.", "repository", s.cfg.Repository)
	return nil
}

// Get looks up the artifact for hash. A miss returns nil without error.
func (s *Store) Get(ctx context.Context, hash string) (*Artifact, string, error) {
	if !s.IsEnabled() {
		return nil, "", ErrNotSignedIn
	}

	var found artifactResponse
	var apiErr apiError
	res, err := s.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"repository": s.cfg.Repository, "hash": hash}).
		SetResult(&found).
		SetError(&apiErr).
		Get("/artifacts/{repository}/{hash}")
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up artifact %s: %w", hash, err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, "", nil
	}
	if err := checkResponse(res, apiErr); err != nil {
		return nil, "", fmt.Errorf("failed to look up artifact %s: %w", hash, err)
	}
	return &found.Artifact, found.PresignedURL, nil
}

// Download fetches the archive behind a presigned URL into dest.
func (s *Store) Download(ctx context.Context, url, dest string) (int64, error) {
	res, err := s.raw.R().SetContext(ctx).Get(url)
	if err != nil {
		return 0, fmt.Errorf("failed to download artifact: %w", err)
	}
	if res.IsError() {
		return 0, fmt.Errorf("failed to download artifact: unexpected status %s", res.Status())
	}

	data := res.Bytes()
	if err := fsutil.WriteFileAtomic(dest, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write artifact %s: %w", dest, err)
	}
	return int64(len(data)), nil
}

// Upload registers the archive at path under hash and pushes its bytes to
// the presigned URL the store hands out.
func (s *Store) Upload(ctx context.Context, hash, target, path string) error {
	if !s.IsEnabled() {
		return ErrNotSignedIn
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read archive %s: %w", path, err)
	}

	var presigned uploadResponse
	var apiErr apiError
	res, err := s.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"repository": s.cfg.Repository, "hash": hash}).
		SetBody(uploadRequest{Target: target, Size: int64(len(data))}).
		SetResult(&presigned).
		SetError(&apiErr).
		Post("/artifacts/{repository}/{hash}")
	if err != nil {
		return fmt.Errorf("failed to register artifact %s: %w", hash, err)
	}
	if err := checkResponse(res, apiErr); err != nil {
		return fmt.Errorf("failed to register artifact %s: %w", hash, err)
	}

	put, err := s.raw.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/zstd").
		SetBody(data).
		Put(presigned.PresignedURL)
	if err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", hash, err)
	}
	if put.IsError() {
		return fmt.Errorf("failed to upload artifact %s: unexpected status %s", hash, put.Status())
	}

	ctxlog.FromContext(ctx).Debug("Uploaded artifact.", "hash", hash, "bytes", len(data))
	return nil
}

// Close releases idle connections.
func (s *Store) Close() error {
	return errors.Join(s.client.Close(), s.raw.Close())
}

func checkResponse(res *resty.Response, apiErr apiError) error {
	switch {
	case res.StatusCode() == http.StatusUnauthorized || res.StatusCode() == http.StatusForbidden:
		return ErrUnauthorized
	case res.IsError():
		if apiErr.Message != "" {
			return fmt.Errorf("unexpected status %s: %s", res.Status(), apiErr.Message)
		}
		return fmt.Errorf("unexpected status %s", res.Status())
	}
	return nil
}
