package config

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/specialistvlad/taskgrid/internal/artifactstore"
	"github.com/specialistvlad/taskgrid/internal/cache"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/hasher"
	"github.com/specialistvlad/taskgrid/internal/remote"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/task"
	"github.com/specialistvlad/taskgrid/internal/toolchain"
)

func translate(ctx context.Context, root string, fr *fileRoot) (*Config, error) {
	cfg := Default(root)

	for _, r := range fr.Runners {
		if err := translateRunner(r, &cfg.Runner); err != nil {
			return nil, fmt.Errorf("in runner block: %w", err)
		}
	}

	switch len(fr.Remotes) {
	case 0:
	case 1:
		cfg.Remote = translateRemote(fr.Remotes[0])
	default:
		return nil, fmt.Errorf("at most one remote block is allowed, found %d", len(fr.Remotes))
	}

	switch len(fr.ArtifactStores) {
	case 0:
	case 1:
		store, err := translateArtifactStore(fr.ArtifactStores[0])
		if err != nil {
			return nil, fmt.Errorf("in artifact_store block: %w", err)
		}
		cfg.ArtifactStore = store
	default:
		return nil, fmt.Errorf("at most one artifact_store block is allowed, found %d", len(fr.ArtifactStores))
	}

	seenToolchains := make(map[string]bool)
	for _, tc := range fr.Toolchains {
		if tc.Name == toolchain.SystemID || seenToolchains[tc.Name] {
			return nil, fmt.Errorf("duplicate toolchain %q", tc.Name)
		}
		seenToolchains[tc.Name] = true
		cfg.Toolchains = append(cfg.Toolchains, &toolchain.Versioned{Name: tc.Name, Version: tc.Version, Files: tc.Files})
	}

	dependsOn := make(map[string][]string)
	for _, p := range fr.Projects {
		if _, exists := cfg.Workspace.Projects[p.ID]; exists {
			return nil, fmt.Errorf("duplicate project %q", p.ID)
		}
		project, err := translateProject(ctx, p, cfg.Runner.CacheLifetime)
		if err != nil {
			return nil, fmt.Errorf("in project %q: %w", p.ID, err)
		}
		cfg.Workspace.AddProject(project)
		dependsOn[p.ID] = p.DependsOn
	}

	if err := resolveDeps(fr.Projects, cfg.Workspace, dependsOn); err != nil {
		return nil, err
	}
	return cfg, nil
}

func translateRunner(r *runnerBlock, out *Runner) error {
	if r.Cache != nil {
		mode, err := cache.ParseMode(*r.Cache)
		if err != nil {
			return err
		}
		out.CacheMode = mode
	}
	if r.CacheLifetime != nil {
		lifetime, err := cache.ParseLifetime(*r.CacheLifetime)
		if err != nil {
			return err
		}
		out.CacheLifetime = lifetime
	}
	for _, raw := range r.ArchivableTargets {
		t, err := target.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid archivable target: %w", err)
		}
		out.ArchivableTargets = append(out.ArchivableTargets, t)
	}
	if r.WalkStrategy != nil {
		switch s := hasher.WalkStrategy(*r.WalkStrategy); s {
		case hasher.WalkVCS, hasher.WalkGlob:
			out.Hasher.WalkStrategy = s
		default:
			return fmt.Errorf("unknown walk_strategy %q", *r.WalkStrategy)
		}
	}
	out.Hasher.IgnorePatterns = append(out.Hasher.IgnorePatterns, r.IgnorePatterns...)
	if r.WarnOnMissingInputs != nil {
		out.Hasher.WarnOnMissingInputs = *r.WarnOnMissingInputs
	}
	if r.CI != nil {
		out.Hasher.CI = *r.CI
	}
	if r.Workers != nil {
		if *r.Workers < 0 {
			return fmt.Errorf("workers must not be negative")
		}
		out.Workers = *r.Workers
	}
	if r.History != nil {
		out.History = *r.History
	}
	return nil
}

func translateRemote(r *remoteBlock) *remote.Config {
	cfg := &remote.Config{
		Host:         r.Host,
		InstanceName: r.InstanceName,
		Compression:  r.Compression,
		Headers:      r.Headers,
	}
	if r.TLS != nil {
		cfg.TLS = &remote.TLSConfig{
			CACert:      r.TLS.CACert,
			Cert:        r.TLS.Cert,
			Key:         r.TLS.Key,
			Domain:      r.TLS.Domain,
			AssumeHTTP2: r.TLS.AssumeHTTP2,
		}
	}
	return cfg
}

func translateArtifactStore(a *artifactStoreBlock) (*artifactstore.Config, error) {
	cfg := &artifactstore.Config{Host: a.Host, Repository: a.Repository, SecretKey: a.SecretKey}
	if a.Timeout != nil {
		timeout, err := time.ParseDuration(*a.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout: %w", err)
		}
		cfg.Timeout = timeout
	}
	return cfg, nil
}

func translateProject(ctx context.Context, p *projectBlock, defaultLifetime time.Duration) (*task.Project, error) {
	logger := ctxlog.FromContext(ctx).With("project", p.ID)
	logger.Debug("Translating project.", "tasks", len(p.Tasks))

	project := &task.Project{
		ID:           p.ID,
		Root:         p.Root,
		Tags:         p.Tags,
		Toolchain:    p.Toolchain,
		IsolatedDeps: p.IsolatedDeps,
		Tasks:        make(map[string]*task.Task, len(p.Tasks)),
	}
	for _, tb := range p.Tasks {
		if _, exists := project.Tasks[tb.ID]; exists {
			return nil, fmt.Errorf("duplicate task %q", tb.ID)
		}
		t, err := translateTask(tb, defaultLifetime)
		if err != nil {
			return nil, fmt.Errorf("in task %q: %w", tb.ID, err)
		}
		project.Tasks[tb.ID] = t
	}
	return project, nil
}

func translateTask(tb *taskBlock, defaultLifetime time.Duration) (*task.Task, error) {
	opts := task.DefaultOptions()
	opts.CacheLifetime = defaultLifetime
	if tb.Cache != nil {
		opts.Cache = *tb.Cache
	}
	if tb.CacheLifetime != nil {
		lifetime, err := cache.ParseLifetime(*tb.CacheLifetime)
		if err != nil {
			return nil, err
		}
		opts.CacheLifetime = lifetime
	}
	if tb.RetryCount < 0 {
		return nil, fmt.Errorf("retry_count must not be negative")
	}
	opts.Mutex = tb.Mutex
	opts.RetryCount = tb.RetryCount
	opts.HashPassthroughArgs = tb.HashPassthroughArgs
	opts.Local = tb.Local
	if tb.Local {
		opts.Cache = false
		opts.OutputStyle = "stream"
	}
	switch tb.OutputStyle {
	case "":
	case "buffer", "stream", "hash", "none":
		opts.OutputStyle = tb.OutputStyle
	default:
		return nil, fmt.Errorf("unknown output_style %q", tb.OutputStyle)
	}

	return &task.Task{
		Toolchain: tb.Toolchain,
		Command:   tb.Command,
		Args:      tb.Args,
		Env:       tb.Env,
		Inputs:    tb.Inputs,
		Outputs:   tb.Outputs,
		Options:   opts,
	}, nil
}

// resolveDeps turns the declared dependency patterns of every task into
// concrete targets.
func resolveDeps(projects []*projectBlock, ws *task.Workspace, dependsOn map[string][]string) error {
	for _, p := range projects {
		for _, tb := range p.Tasks {
			owner := target.New(p.ID, tb.ID)
			t := ws.Projects[p.ID].Tasks[tb.ID]

			for _, raw := range tb.Deps {
				pattern, err := target.Parse(raw)
				if err != nil {
					return fmt.Errorf("in task %s: %w", owner, err)
				}

				var resolved []target.Target
				switch pattern.Scope {
				case target.ScopeOwn:
					resolved = []target.Target{pattern.Resolve(p.ID)}
				case target.ScopeDeps:
					for _, dep := range dependsOn[p.ID] {
						if _, ok := ws.Projects[dep]; !ok {
							return fmt.Errorf("project %q depends on unknown project %q", p.ID, dep)
						}
						if _, ok := ws.Projects[dep].Tasks[pattern.Task]; ok {
							resolved = append(resolved, target.New(dep, pattern.Task))
						}
					}
				case target.ScopeProject:
					resolved = []target.Target{pattern}
				default:
					matches, err := ws.Expand(pattern)
					if err != nil {
						return fmt.Errorf("in task %s: %w", owner, err)
					}
					resolved = slices.DeleteFunc(matches, func(m target.Target) bool { return m == owner })
				}

				for _, dep := range resolved {
					if !slices.Contains(t.Deps, dep) {
						t.Deps = append(t.Deps, dep)
					}
				}
			}
		}
	}
	return nil
}
