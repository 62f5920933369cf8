package hasher

// Version is bumped whenever the task hash layout changes, invalidating
// every previously cached result.
const Version = "1"

// PassthroughSentinel replaces the digest of a dependency that ran without caching.
const PassthroughSentinel = "passthrough"

// TaskHash is the content contributed by a task definition.
type TaskHash struct {
	Command         string            `json:"command"`
	Args            []string          `json:"args"`
	PassthroughArgs []string          `json:"passthroughArgs,omitempty"`
	Deps            map[string]string `json:"deps"`
	Env             map[string]string `json:"env"`
	PassthroughEnv  map[string]string `json:"passthroughEnv,omitempty"`
	InputEnv        map[string]string `json:"inputEnv"`
	Inputs          map[string]string `json:"inputs"`
	Outputs         []string          `json:"outputs"`
	Target          string            `json:"target"`
	Toolchain       string            `json:"toolchain"`
	Version         string            `json:"version"`
}
