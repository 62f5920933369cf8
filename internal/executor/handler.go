package executor

import (
	"context"

	"github.com/specialistvlad/taskgrid/internal/action"
)

// ActionHandler processes the nodes that are not task runs: toolchain setup,
// dependency installation and syncing.
type ActionHandler interface {
	Handle(ctx context.Context, actx *action.Context, node action.Node) (*action.Operation, error)
}

// HandlerFunc adapts a function to the ActionHandler interface.
type HandlerFunc func(ctx context.Context, actx *action.Context, node action.Node) (*action.Operation, error)

// Handle implements ActionHandler.
func (f HandlerFunc) Handle(ctx context.Context, actx *action.Context, node action.Node) (*action.Operation, error) {
	return f(ctx, actx, node)
}

// NopHandler records every action as done without doing anything.
type NopHandler struct{}

// Handle implements ActionHandler.
func (NopHandler) Handle(_ context.Context, _ *action.Context, node action.Node) (*action.Operation, error) {
	kind := action.OpSyncOperation
	if node.Kind == action.KindSetupToolchain || node.Kind == action.KindInstallWorkspaceDeps || node.Kind == action.KindInstallProjectDeps {
		kind = action.OpNoOperation
	}
	return action.Finished(kind, action.StatusPassed), nil
}
