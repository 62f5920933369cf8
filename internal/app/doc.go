// Package app contains the core application logic. It wires the engine
// packages together from the loaded configuration and exposes the run,
// graph and clean lifecycles, decoupled from any specific entrypoint like a
// CLI.
package app
