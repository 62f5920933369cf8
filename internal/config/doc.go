// Package config loads the workspace definition and engine settings from HCL
// files and translates them into the typed values the engine packages use:
// a task.Workspace, runner settings, remote cache and artifact store
// settings, and versioned toolchains.
//
// Attribute expressions are evaluated with an `env` object exposing the
// process environment, so secrets can be written as `env.REMOTE_TOKEN`.
package config
