package toolchain

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/hasher"
	"github.com/specialistvlad/taskgrid/internal/task"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&Versioned{Name: "node", Version: "20.10.0"})

	assert.Equal(t, []string{"node", SystemID}, r.IDs())
	assert.Equal(t, "node 20.10.0", r.Get("node").Runtime().String())
	assert.True(t, r.Get("unknown").Runtime().IsSystem())
}

func TestRegistry_HashTask(t *testing.T) {
	r := NewRegistry()
	r.Register(&Versioned{Name: "node", Version: "20.10.0", Files: []string{"pnpm-lock.yaml"}})

	h := hasher.New("x")
	require.NoError(t, r.HashTask(context.Background(), &task.Task{Toolchain: "node"}, h))
	require.NoError(t, r.HashTask(context.Background(), &task.Task{Toolchain: "system"}, h))

	_, manifest, err := h.Generate()
	require.NoError(t, err)

	var contents map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(manifest, &contents))
	assert.Len(t, contents, 1)
	assert.JSONEq(t, `{"version":"20.10.0","files":["pnpm-lock.yaml"]}`, string(contents["toolchain:node"]))
}
