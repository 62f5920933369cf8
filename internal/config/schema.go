package config

import "github.com/hashicorp/hcl/v2"

// fileRoot is used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Runners        []*runnerBlock        `hcl:"runner,block"`
	Remotes        []*remoteBlock        `hcl:"remote,block"`
	ArtifactStores []*artifactStoreBlock `hcl:"artifact_store,block"`
	Toolchains     []*toolchainBlock     `hcl:"toolchain,block"`
	Projects       []*projectBlock       `hcl:"project,block"`
	Remain         hcl.Body              `hcl:",remain"`
}

type runnerBlock struct {
	Cache               *string  `hcl:"cache,optional"`
	CacheLifetime       *string  `hcl:"cache_lifetime,optional"`
	ArchivableTargets   []string `hcl:"archivable_targets,optional"`
	WalkStrategy        *string  `hcl:"walk_strategy,optional"`
	IgnorePatterns      []string `hcl:"ignore_patterns,optional"`
	WarnOnMissingInputs *bool    `hcl:"warn_on_missing_inputs,optional"`
	CI                  *bool    `hcl:"ci,optional"`
	Workers             *int     `hcl:"workers,optional"`
	History             *bool    `hcl:"history,optional"`
}

type remoteBlock struct {
	Host         string            `hcl:"host"`
	InstanceName string            `hcl:"instance_name,optional"`
	Compression  string            `hcl:"compression,optional"`
	Headers      map[string]string `hcl:"headers,optional"`
	TLS          *tlsBlock         `hcl:"tls,block"`
}

type tlsBlock struct {
	CACert      string `hcl:"ca_cert,optional"`
	Cert        string `hcl:"cert,optional"`
	Key         string `hcl:"key,optional"`
	Domain      string `hcl:"domain,optional"`
	AssumeHTTP2 bool   `hcl:"assume_http2,optional"`
}

type artifactStoreBlock struct {
	Host       string  `hcl:"host"`
	Repository string  `hcl:"repository"`
	SecretKey  string  `hcl:"secret_key"`
	Timeout    *string `hcl:"timeout,optional"`
}

type toolchainBlock struct {
	Name    string   `hcl:"name,label"`
	Version string   `hcl:"version"`
	Files   []string `hcl:"files,optional"`
}

type projectBlock struct {
	ID           string       `hcl:"id,label"`
	Root         string       `hcl:"root"`
	Tags         []string     `hcl:"tags,optional"`
	Toolchain    string       `hcl:"toolchain,optional"`
	IsolatedDeps bool         `hcl:"isolated_deps,optional"`
	DependsOn    []string     `hcl:"depends_on,optional"`
	Tasks        []*taskBlock `hcl:"task,block"`
}

type taskBlock struct {
	ID        string            `hcl:"id,label"`
	Command   string            `hcl:"command"`
	Args      []string          `hcl:"args,optional"`
	Env       map[string]string `hcl:"env,optional"`
	Toolchain string            `hcl:"toolchain,optional"`
	Deps      []string          `hcl:"deps,optional"`
	Inputs    []string          `hcl:"inputs,optional"`
	Outputs   []string          `hcl:"outputs,optional"`

	Cache               *bool   `hcl:"cache,optional"`
	CacheLifetime       *string `hcl:"cache_lifetime,optional"`
	Mutex               string  `hcl:"mutex,optional"`
	RetryCount          int     `hcl:"retry_count,optional"`
	HashPassthroughArgs bool    `hcl:"hash_passthrough_args,optional"`
	Local               bool    `hcl:"local,optional"`
	OutputStyle         string  `hcl:"output_style,optional"`
}
