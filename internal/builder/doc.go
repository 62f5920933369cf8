/*
Package builder constructs the action graph of a run. It bridges the workspace
model (projects and tasks, see the 'task' package) and the executor.

The primary artifact produced by this package is a validated, ready-to-run *Graph.

The graph construction is a multi-phase process:

 1. Primary Nodes: every requested target pattern is expanded into concrete
    targets and a RunTask node is inserted for each, carrying the
    pass-through arguments of the run.

 2. Dependency Expansion: for every RunTask node the builder inserts the
    nodes the task needs before it can run: the toolchain setup, the
    dependency installation (workspace-wide, or per project for projects with
    isolated dependencies) and the project sync. Task dependencies are
    expanded recursively into RunTask nodes of their own. All edges are
    delegated to the 'dag' package.

 3. Validation: the graph is ordered into topological batches, which also
    detects cycles.

Upon successful completion, the builder hands off the *Graph to the executor,
which runs it batch by batch.
*/
package builder
