package config

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/fsutil"
)

// Loader reads HCL configuration files.
type Loader struct {
	// Environ is exposed to expressions as `env`. Nil means the process environment.
	Environ []string
}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file found under paths and translates the merged
// blocks into a Config for the workspace at root. Paths that do not exist
// are ignored.
func (l *Loader) Load(ctx context.Context, root string, paths ...string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	environ := l.Environ
	if environ == nil {
		environ = processEnv()
	}
	evalCtx := newEvalContext(environ)
	parser := hclparse.NewParser()

	var merged fileRoot
	for _, file := range files {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		if err := checkRemain(root.Remain); err != nil {
			return nil, fmt.Errorf("in %s: %w", file, err)
		}

		merged.Runners = append(merged.Runners, root.Runners...)
		merged.Remotes = append(merged.Remotes, root.Remotes...)
		merged.ArtifactStores = append(merged.ArtifactStores, root.ArtifactStores...)
		merged.Toolchains = append(merged.Toolchains, root.Toolchains...)
		merged.Projects = append(merged.Projects, root.Projects...)
	}

	cfg, err := translate(ctx, root, &merged)
	if err != nil {
		return nil, err
	}
	cfg.Files = files

	logger.Debug("HCL loading complete.", "projects", len(cfg.Workspace.Projects), "toolchains", len(cfg.Toolchains), "remote", cfg.Remote != nil, "artifact_store", cfg.ArtifactStore != nil)
	return cfg, nil
}

// checkRemain rejects unknown top-level attributes.
func checkRemain(body hcl.Body) error {
	if body == nil {
		return nil
	}
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return diags
	}
	for name := range attrs {
		return fmt.Errorf("unsupported top-level attribute %q", name)
	}
	return nil
}

// skipDirs are directory names never searched for configuration.
var skipDirs = []string{"cache", ".git", "node_modules"}

// findAllHCLFiles walks all given paths and returns a flat list of all .hcl files found.
func findAllHCLFiles(paths []string) ([]string, error) {
	var all []string
	seen := make(map[string]struct{})

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}
		files, err := fsutil.FindFiles(path, FileExtension, skipDirs...)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				all = append(all, f)
			}
		}
	}
	return all, nil
}
