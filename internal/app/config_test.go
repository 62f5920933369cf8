package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := NewConfig(Config{Root: root, LogFormat: "JSON"})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, ".taskgrid"), cfg.ConfigPath)
	assert.Equal(t, filepath.Join(root, ".taskgrid", "cache"), cfg.CacheDir)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestNewConfig_KeepsExplicitPaths(t *testing.T) {
	root := t.TempDir()

	cfg, err := NewConfig(Config{Root: root, ConfigPath: "/etc/grid.hcl", CacheDir: "/tmp/c"})
	require.NoError(t, err)

	assert.Equal(t, "/etc/grid.hcl", cfg.ConfigPath)
	assert.Equal(t, "/tmp/c", cfg.CacheDir)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestNewConfig_Validation(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing root", cfg: Config{}, wantErr: "Root is a required"},
		{name: "bad format", cfg: Config{Root: ".", LogFormat: "xml"}, wantErr: "invalid log format"},
		{name: "bad level", cfg: Config{Root: ".", LogLevel: "loud"}, wantErr: "invalid log level"},
		{name: "bad cache mode", cfg: Config{Root: ".", CacheMode: "sometimes"}, wantErr: "invalid cache mode"},
		{name: "negative workers", cfg: Config{Root: ".", WorkerCount: -1}, wantErr: "worker count"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewConfig(tc.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
