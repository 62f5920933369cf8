package config

import (
	"time"

	"github.com/specialistvlad/taskgrid/internal/artifactstore"
	"github.com/specialistvlad/taskgrid/internal/cache"
	"github.com/specialistvlad/taskgrid/internal/hasher"
	"github.com/specialistvlad/taskgrid/internal/remote"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/task"
	"github.com/specialistvlad/taskgrid/internal/toolchain"
)

// FileExtension is the suffix of configuration files.
const FileExtension = ".hcl"

// Config is the translated configuration of a workspace.
type Config struct {
	Runner        Runner
	Remote        *remote.Config
	ArtifactStore *artifactstore.Config
	Toolchains    []*toolchain.Versioned
	Workspace     *task.Workspace
	// Files are the configuration files that were loaded.
	Files []string
}

// Runner holds engine-wide settings.
type Runner struct {
	CacheMode     cache.Mode
	CacheLifetime time.Duration
	// ArchivableTargets are patterns of non-build tasks whose outputs are archived.
	ArchivableTargets []target.Target
	Hasher            hasher.Config
	// Workers bounds concurrent actions. Zero means the number of CPUs.
	Workers int
	// History enables the sqlite run history.
	History bool
}

// Default returns the configuration used when nothing is configured.
func Default(root string) *Config {
	return &Config{
		Runner: Runner{
			CacheMode: cache.ModeReadWrite,
			Hasher: hasher.Config{
				WalkStrategy:        hasher.WalkVCS,
				WarnOnMissingInputs: true,
			},
			History: true,
		},
		Workspace: task.NewWorkspace(root),
	}
}
