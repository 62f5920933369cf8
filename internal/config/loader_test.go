package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/cache"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/hasher"
	"github.com/specialistvlad/taskgrid/internal/remote"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/toolchain"
)

const workspaceHCL = `
runner {
  cache              = "read"
  cache_lifetime     = "7 days"
  archivable_targets = [":lint", "#ci:test"]
  walk_strategy      = "glob"
  ignore_patterns    = ["**/node_modules/**"]
  ci                 = true
  workers            = 3
}

remote {
  host          = "grpcs://cache.example.com:443"
  instance_name = "main"
  compression   = "zstd"
  headers = {
    Authorization = "Bearer ${env.REMOTE_TOKEN}"
  }
  tls {
    ca_cert = "/etc/ca.pem"
  }
}

artifact_store {
  host       = "https://artifacts.example.com"
  repository = "acme/monorepo"
  secret_key = env.ARTIFACT_KEY
  timeout    = "45s"
}

toolchain "node" {
  version = "20.11.0"
  files   = ["package-lock.json"]
}
`

const projectsHCL = `
project "lib" {
  root      = "packages/lib"
  tags      = ["shared"]
  toolchain = "node"

  task "build" {
    command = "tsc"
    inputs  = ["src/**/*", "tsconfig.json"]
    outputs = ["dist"]
  }
  task "lint" {
    command = "eslint"
    args    = ["."]
  }
}

project "app" {
  root          = "apps/app"
  toolchain     = "node"
  isolated_deps = true
  depends_on    = ["lib"]
  tags          = ["ci"]

  task "build" {
    command        = "vite build"
    deps           = ["^:build", "~:codegen"]
    outputs        = ["dist/**/*.js"]
    cache_lifetime = "1h"
    retry_count    = 2
    mutex          = "bundler"
  }
  task "codegen" {
    command = "gen"
    env     = { MODE = "fast" }
  }
  task "test" {
    command      = "vitest"
    deps         = [":lint"]
    output_style = "hash"
  }
  task "lint" {
    command = "eslint"
  }
  task "dev" {
    command = "vite"
    local   = true
  }
}
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func load(t *testing.T, files map[string]string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		writeFile(t, dir, name, content)
	}
	l := &Loader{Environ: []string{"REMOTE_TOKEN=tok", "ARTIFACT_KEY=k3y"}}
	return l.Load(ctxlog.Discard(context.Background()), "/repo", dir)
}

func TestLoad_FullWorkspace(t *testing.T) {
	// --- Arrange & Act ---
	cfg, err := load(t, map[string]string{"workspace.hcl": workspaceHCL, "projects.hcl": projectsHCL, "README.md": "ignored"})

	// --- Assert ---
	require.NoError(t, err)
	assert.Len(t, cfg.Files, 2)

	assert.Equal(t, cache.ModeRead, cfg.Runner.CacheMode)
	assert.Equal(t, 7*24*time.Hour, cfg.Runner.CacheLifetime)
	assert.Equal(t, []target.Target{target.MustParse(":lint"), target.MustParse("#ci:test")}, cfg.Runner.ArchivableTargets)
	assert.Equal(t, hasher.Config{
		WalkStrategy:        hasher.WalkGlob,
		IgnorePatterns:      []string{"**/node_modules/**"},
		WarnOnMissingInputs: true,
		CI:                  true,
	}, cfg.Runner.Hasher)
	assert.Equal(t, 3, cfg.Runner.Workers)
	assert.True(t, cfg.Runner.History)

	wantRemote := &remote.Config{
		Host:         "grpcs://cache.example.com:443",
		InstanceName: "main",
		Compression:  "zstd",
		Headers:      map[string]string{"Authorization": "Bearer tok"},
		TLS:          &remote.TLSConfig{CACert: "/etc/ca.pem"},
	}
	if diff := cmp.Diff(wantRemote, cfg.Remote); diff != "" {
		t.Errorf("remote config mismatch (-want +got):\n%s", diff)
	}

	require.NotNil(t, cfg.ArtifactStore)
	assert.Equal(t, "k3y", cfg.ArtifactStore.SecretKey)
	assert.Equal(t, "acme/monorepo", cfg.ArtifactStore.Repository)
	assert.Equal(t, 45*time.Second, cfg.ArtifactStore.Timeout)

	assert.Equal(t, []*toolchain.Versioned{{Name: "node", Version: "20.11.0", Files: []string{"package-lock.json"}}}, cfg.Toolchains)
}

func TestLoad_Tasks(t *testing.T) {
	cfg, err := load(t, map[string]string{"workspace.hcl": workspaceHCL, "projects.hcl": projectsHCL})
	require.NoError(t, err)
	ws := cfg.Workspace

	build, err := ws.Task(target.New("app", "build"))
	require.NoError(t, err)
	assert.Equal(t, "apps/app", build.ProjectRoot)
	assert.Equal(t, "node", build.Toolchain)
	assert.Equal(t, []string{"ci"}, build.ProjectTags)
	assert.Equal(t, []target.Target{target.New("lib", "build"), target.New("app", "codegen")}, build.Deps)
	assert.Equal(t, time.Hour, build.Options.CacheLifetime)
	assert.Equal(t, 2, build.Options.RetryCount)
	assert.Equal(t, "bundler", build.Options.Mutex)
	assert.True(t, build.Options.Cache)
	assert.True(t, build.IsBuildType())

	codegen, err := ws.Task(target.New("app", "codegen"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"MODE": "fast"}, codegen.Env)
	assert.Equal(t, 7*24*time.Hour, codegen.Options.CacheLifetime, "runner lifetime is the default")

	test, err := ws.Task(target.New("app", "test"))
	require.NoError(t, err)
	assert.Equal(t, []target.Target{target.New("app", "lint"), target.New("lib", "lint")}, test.Deps)
	assert.Equal(t, "hash", test.Options.OutputStyle)

	dev, err := ws.Task(target.New("app", "dev"))
	require.NoError(t, err)
	assert.False(t, dev.Options.Cache)
	assert.True(t, dev.Options.Local)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"projects.hcl": `project "x" {
  root = "x"
  task "t" {
    command = "true"
  }
}`})
	require.NoError(t, err)

	assert.Equal(t, cache.ModeReadWrite, cfg.Runner.CacheMode)
	assert.Equal(t, hasher.WalkVCS, cfg.Runner.Hasher.WalkStrategy)
	assert.Nil(t, cfg.Remote)
	assert.Nil(t, cfg.ArtifactStore)
	assert.Zero(t, cfg.Runner.Workers)
	assert.Equal(t, "/repo", cfg.Workspace.Root)
}

func TestLoad_MissingPathIsIgnored(t *testing.T) {
	cfg, err := (&Loader{Environ: []string{}}).Load(ctxlog.Discard(context.Background()), "/repo", filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Workspace.Projects)
}

func TestLoad_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "syntax", content: `runner {`, wantErr: "failed to parse HCL file"},
		{name: "unknown attribute", content: `colour = "blue"`, wantErr: `unsupported top-level attribute "colour"`},
		{name: "bad cache mode", content: `runner { cache = "sometimes" }`, wantErr: "invalid cache mode"},
		{name: "bad walk strategy", content: `runner { walk_strategy = "fs" }`, wantErr: `unknown walk_strategy "fs"`},
		{name: "two remotes", content: "remote { host = \"grpc://a:1\" }\nremote { host = \"grpc://b:1\" }", wantErr: "at most one remote block"},
		{name: "duplicate project", content: "project \"a\" { root = \"a\" }\nproject \"a\" { root = \"b\" }", wantErr: `duplicate project "a"`},
		{name: "system toolchain", content: `toolchain "system" { version = "1" }`, wantErr: `duplicate toolchain "system"`},
		{name: "missing command", content: `project "a" {
  root = "a"
  task "t" {}
}`, wantErr: "failed to decode HCL file"},
		{name: "bad output style", content: `project "a" {
  root = "a"
  task "t" {
    command      = "x"
    output_style = "loud"
  }
}`, wantErr: `unknown output_style "loud"`},
		{name: "unknown dep project", content: `project "a" {
  root       = "a"
  depends_on = ["nope"]
  task "t" {
    command = "x"
    deps    = ["^:build"]
  }
}`, wantErr: `depends on unknown project "nope"`},
		{name: "undefined env", content: `artifact_store {
  host       = "https://x"
  repository = "r"
  secret_key = env.NOT_SET
}`, wantErr: "failed to decode HCL file"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(t, map[string]string{"config.hcl": tc.content})
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
