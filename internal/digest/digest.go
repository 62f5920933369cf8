// Package digest identifies content by its SHA-256 hash and byte size.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// Digest is the (hash, size) pair used to address content locally and in
// remote content-addressable storage.
type Digest struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Empty is the digest of zero bytes.
var Empty = FromBytes(nil)

// FromBytes hashes an in-memory blob.
func FromBytes(data []byte) Digest {
	sum := sha256.Sum256(data)
	return Digest{Hash: hex.EncodeToString(sum[:]), Size: int64(len(data))}
}

// FromReader hashes everything readable from r.
func FromReader(r io.Reader) (Digest, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return Digest{}, err
	}
	return Digest{Hash: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// FromFile hashes the contents of the file at path.
func FromFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	d, err := FromReader(f)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return d, nil
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d.Hash == ""
}

// String renders the digest as "hash/size", the form used in resource names.
func (d Digest) String() string {
	return fmt.Sprintf("%s/%d", d.Hash, d.Size)
}
