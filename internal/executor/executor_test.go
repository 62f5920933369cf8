package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/builder"
	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/remote"
	"github.com/specialistvlad/taskgrid/internal/report"
	"github.com/specialistvlad/taskgrid/internal/target"
	"github.com/specialistvlad/taskgrid/internal/task"
	"github.com/specialistvlad/taskgrid/internal/toolchain"
)

var errFatal = errors.New("fatal")

// stubRunner completes tasks according to a script and records the order
// they ran in.
type stubRunner struct {
	mu      sync.Mutex
	order   []string
	fail    map[string]error
	uploads *remote.Ledger
	delay   time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func newStubRunner() *stubRunner {
	return &stubRunner{fail: map[string]error{}, uploads: remote.NewLedger()}
}

func (s *stubRunner) Uploads() *remote.Ledger { return s.uploads }

func (s *stubRunner) Run(ctx context.Context, actx *action.Context, node action.Node, t *task.Task) (*report.TaskReport, error) {
	n := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		current := s.maxActive.Load()
		if n <= current || s.maxActive.CompareAndSwap(current, n) {
			break
		}
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	s.order = append(s.order, t.Target.String())
	s.mu.Unlock()

	for _, dep := range t.Deps {
		if state, _ := actx.TargetState(dep); !state.IsComplete() {
			actx.SetTargetState(t.Target, action.Skipped())
			return &report.TaskReport{Target: t.Target, Status: action.StatusSkipped}, nil
		}
	}
	if err := s.fail[t.Target.String()]; err != nil {
		actx.SetTargetState(t.Target, action.Failed())
		return &report.TaskReport{Target: t.Target, Status: action.StatusFailed, Err: err}, err
	}

	s.uploads.Go(ctx, "upload "+t.Target.String(), func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	actx.SetTargetState(t.Target, action.Passed("h-"+t.Target.Task))
	return &report.TaskReport{Target: t.Target, Status: action.StatusPassed}, nil
}

type mockHandler struct{ mock.Mock }

func (m *mockHandler) Handle(ctx context.Context, actx *action.Context, node action.Node) (*action.Operation, error) {
	args := m.Called(node.Kind)
	op, _ := args.Get(0).(*action.Operation)
	return op, args.Error(1)
}

type recordingReporter struct {
	report.Nop
	summary *report.RunSummary
}

func (r *recordingReporter) RunFinished(_ context.Context, s *report.RunSummary) error {
	r.summary = s
	return nil
}

// chain builds app:a -> app:b -> app:c plus an independent app:d, all on
// the system toolchain.
func chain(t *testing.T, requests ...string) *builder.Graph {
	t.Helper()
	ws := task.NewWorkspace("/repo")
	ws.AddProject(&task.Project{
		ID:   "app",
		Root: "app",
		Tasks: map[string]*task.Task{
			"a": {Deps: []target.Target{target.New("app", "b")}},
			"b": {Deps: []target.Target{target.New("app", "c")}},
			"c": {},
			"d": {},
		},
	})

	var reqs []builder.Request
	for _, r := range requests {
		reqs = append(reqs, builder.Request{Target: target.MustParse(r)})
	}
	g, err := builder.New(ws, toolchain.NewRegistry()).Build(testContext(), reqs)
	require.NoError(t, err)
	return g
}

func testContext() context.Context {
	return ctxlog.Discard(context.Background())
}

func TestExecute_RunsBatchesInOrder(t *testing.T) {
	// --- Arrange ---
	g := chain(t, "app:a")
	runner := newStubRunner()
	reporter := &recordingReporter{}
	e := New(Options{Workers: 2, Runner: runner, Reporter: reporter})

	// --- Act ---
	summary, err := e.Execute(testContext(), g, action.NewContext())

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, []string{"app:c", "app:b", "app:a"}, runner.order)
	assert.Equal(t, 3, summary.Passed)
	assert.Equal(t, 3, summary.Total())
	assert.Zero(t, runner.uploads.Pending(), "uploads are drained before returning")
	assert.Same(t, summary, reporter.summary)
	assert.Positive(t, summary.Duration)
}

func TestExecute_FailureSkipsDependents(t *testing.T) {
	g := chain(t, "app:a", "app:d")
	runner := newStubRunner()
	runner.fail["app:c"] = errors.New("exit 1")
	reporter := &recordingReporter{}
	actx := action.NewContext()

	summary, err := New(Options{Runner: runner, Reporter: reporter}).Execute(testContext(), g, actx)

	require.ErrorIs(t, err, ErrTasksFailed)
	assert.ErrorContains(t, err, "exit 1")
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Passed, "independent tasks still run")
	assert.Equal(t, err, reporter.summary.Err)

	state, ok := actx.TargetState(target.New("app", "a"))
	require.True(t, ok)
	assert.Equal(t, action.TargetSkipped, state.Kind)
}

func TestExecute_FatalErrorAborts(t *testing.T) {
	g := chain(t, "app:a")
	runner := newStubRunner()
	runner.fail["app:c"] = errFatal

	summary, err := New(Options{
		Runner:  runner,
		IsFatal: func(err error) bool { return errors.Is(err, errFatal) },
	}).Execute(testContext(), g, action.NewContext())

	require.ErrorIs(t, err, errFatal)
	assert.Equal(t, []string{"app:c"}, runner.order, "later batches never run")
	assert.Equal(t, 1, summary.Failed)
}

func TestExecute_ActionHandler(t *testing.T) {
	// --- Arrange ---
	ws := task.NewWorkspace("/repo")
	ws.AddProject(&task.Project{ID: "web", Root: "web", Toolchain: "node", Tasks: map[string]*task.Task{"build": {}}})
	registry := toolchain.NewRegistry()
	registry.Register(&toolchain.Versioned{Name: "node", Version: "20"})
	g, err := builder.New(ws, registry).Build(testContext(), []builder.Request{{Target: target.MustParse("web:build")}})
	require.NoError(t, err)

	handler := &mockHandler{}
	handler.On("Handle", action.KindSetupToolchain).Return(action.Finished(action.OpNoOperation, action.StatusPassed), nil).Once()
	handler.On("Handle", action.KindInstallWorkspaceDeps).Return(action.Finished(action.OpNoOperation, action.StatusPassed), nil).Once()
	handler.On("Handle", action.KindSyncProject).Return(nil, nil).Once()
	runner := newStubRunner()

	// --- Act ---
	_, err = New(Options{Runner: runner, Handler: handler}).Execute(testContext(), g, action.NewContext())

	// --- Assert ---
	require.NoError(t, err)
	handler.AssertExpectations(t)
	assert.Equal(t, []string{"web:build"}, runner.order)
}

func TestExecute_ActionHandlerFailureAborts(t *testing.T) {
	ws := task.NewWorkspace("/repo")
	ws.AddProject(&task.Project{ID: "web", Root: "web", Tasks: map[string]*task.Task{"build": {}}})
	g, err := builder.New(ws, nil).Build(testContext(), []builder.Request{{Target: target.MustParse("web:build")}})
	require.NoError(t, err)

	handler := HandlerFunc(func(context.Context, *action.Context, action.Node) (*action.Operation, error) {
		return nil, errors.New("sync failed")
	})
	runner := newStubRunner()

	_, err = New(Options{Runner: runner, Handler: handler}).Execute(testContext(), g, action.NewContext())

	assert.ErrorContains(t, err, "action SyncProject(system, web) failed: sync failed")
	assert.Empty(t, runner.order)
}

func TestExecute_BoundsConcurrency(t *testing.T) {
	ws := task.NewWorkspace("/repo")
	tasks := map[string]*task.Task{}
	for _, name := range []string{"t1", "t2", "t3", "t4", "t5", "t6"} {
		tasks[name] = &task.Task{}
	}
	ws.AddProject(&task.Project{ID: "p", Root: "p", Tasks: tasks})
	g, err := builder.New(ws, nil).Build(testContext(), []builder.Request{{Target: target.MustParse(":t1")}, {Target: target.MustParse("p:t2")},
		{Target: target.MustParse("p:t3")}, {Target: target.MustParse("p:t4")}, {Target: target.MustParse("p:t5")}, {Target: target.MustParse("p:t6")}})
	require.NoError(t, err)

	runner := newStubRunner()
	runner.delay = 20 * time.Millisecond

	summary, err := New(Options{Workers: 2, Runner: runner}).Execute(testContext(), g, action.NewContext())

	require.NoError(t, err)
	assert.Equal(t, 6, summary.Passed)
	assert.LessOrEqual(t, runner.maxActive.Load(), int32(2))
	assert.Equal(t, int32(2), runner.maxActive.Load())
}

func TestNopHandler(t *testing.T) {
	op, err := NopHandler{}.Handle(testContext(), action.NewContext(), action.SyncWorkspace())
	require.NoError(t, err)
	assert.Equal(t, action.OpSyncOperation, op.Kind)
	assert.Equal(t, action.StatusPassed, op.Status)

	op, err = NopHandler{}.Handle(testContext(), action.NewContext(), action.SetupToolchain(action.Runtime{Toolchain: "node"}))
	require.NoError(t, err)
	assert.Equal(t, action.OpNoOperation, op.Kind)
}
