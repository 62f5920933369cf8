package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/taskgrid/internal/cache"
)

// DirName is the workspace directory holding configuration and the cache.
const DirName = ".taskgrid"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// Root is the workspace root directory.
	Root string
	// ConfigPath is a .hcl file or a directory of them. Defaults to Root/.taskgrid.
	ConfigPath string
	// CacheDir defaults to Root/.taskgrid/cache.
	CacheDir string
	// CacheMode overrides the configured cache mode when set.
	CacheMode string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// WorkerCount overrides the configured worker count when positive.
	WorkerCount int
}

// NewConfig validates cfg and fills in the defaults derived from Root.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Root == "" {
		return nil, errors.New("Root is a required configuration field and cannot be empty")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid workspace root: %w", err)
	}
	cfg.Root = root

	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(root, DirName)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(root, DirName, "cache")
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	switch cfg.LogFormat {
	case "":
		cfg.LogFormat = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	if cfg.CacheMode != "" {
		if _, err := cache.ParseMode(cfg.CacheMode); err != nil {
			return nil, err
		}
	}
	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("worker count must not be negative")
	}
	return &cfg, nil
}
