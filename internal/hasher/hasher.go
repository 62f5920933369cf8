// Package hasher computes the content digest that identifies a task run.
//
// A Hasher accumulates labelled contributions (the task definition, resolved
// input files, toolchain details) and serializes them canonically: map keys
// are sorted and every contribution is keyed by its label, so the resulting
// digest does not depend on the order in which contributions were added or on
// the machine that computed it.
package hasher

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/specialistvlad/taskgrid/internal/digest"
)

// Hasher accumulates hash contributions. It is safe for concurrent use.
type Hasher struct {
	label    string
	mu       sync.Mutex
	contents map[string]json.RawMessage
}

// New creates a Hasher. The label names the hash in logs only.
func New(label string) *Hasher {
	return &Hasher{label: label, contents: make(map[string]json.RawMessage)}
}

// Label returns the name given at construction.
func (h *Hasher) Label() string {
	return h.label
}

// Hash records a contribution under key. A later contribution with the same
// key replaces the earlier one.
func (h *Hasher) Hash(key string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to serialize hash contribution %q: %w", key, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.contents[key] = raw
	return nil
}

// Generate returns the digest of every contribution together with the
// manifest bytes the digest was computed from.
func (h *Hasher) Generate() (digest.Digest, []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	manifest, err := json.MarshalIndent(h.contents, "", "  ")
	if err != nil {
		return digest.Digest{}, nil, fmt.Errorf("failed to serialize hash manifest: %w", err)
	}
	return digest.FromBytes(manifest), manifest, nil
}
