package app_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/app"
	"github.com/specialistvlad/taskgrid/internal/executor"
	"github.com/specialistvlad/taskgrid/internal/report"
	"github.com/specialistvlad/taskgrid/internal/testutil"
)

const pipelineHCL = `
	runner {
	  archivable_targets = ["app:test"]
	}

	project "lib" {
	  root = "lib"

	  task "build" {
	    command = "mkdir -p dist && cat src/input.txt > dist/out.txt && echo built"
	    inputs  = ["src/**/*"]
	    outputs = ["dist"]
	  }
	}

	project "app" {
	  root = "app"

	  task "test" {
	    command = "cat ../lib/dist/out.txt"
	    deps    = ["lib:build"]
	    inputs  = ["*.txt"]
	  }
	}
`

func newPipeline(t *testing.T) *testutil.Workspace {
	return testutil.NewWorkspace(t, map[string]string{
		".taskgrid/workspace.hcl": pipelineHCL,
		"lib/src/input.txt":       "v1",
		"app/notes.txt":           "notes",
	})
}

func TestRun_ColdThenWarm(t *testing.T) {
	// --- Arrange ---
	ws := newPipeline(t)

	// --- Act ---
	cold := ws.Run("app:test")
	warm := ws.Run("app:test")

	// --- Assert ---
	require.NoError(t, cold.Err)
	testutil.AssertSummary(t, cold, 2, 0, 0, 0)
	testutil.AssertTaskReplayed(t, cold, "lib:build", "built")
	testutil.AssertTaskReplayed(t, cold, "app:test", "v1")
	assert.Equal(t, "v1\n", ws.Read("lib/dist/out.txt"))

	require.NoError(t, warm.Err)
	testutil.AssertSummary(t, warm, 0, 2, 0, 0)
}

func TestRun_RestoresDeletedOutputsFromArchive(t *testing.T) {
	ws := newPipeline(t)
	require.NoError(t, ws.Run("app:test").Err)

	ws.Remove("lib/dist")
	result := ws.Run("lib:build")

	require.NoError(t, result.Err)
	testutil.AssertSummary(t, result, 0, 1, 0, 0)
	assert.Equal(t, "v1\n", ws.Read("lib/dist/out.txt"))
}

func TestRun_InputChangeInvalidatesDependents(t *testing.T) {
	ws := newPipeline(t)
	require.NoError(t, ws.Run("app:test").Err)

	ws.Write("lib/src/input.txt", "v2")
	result := ws.Run("app:test")

	require.NoError(t, result.Err)
	testutil.AssertSummary(t, result, 2, 0, 0, 0)
	testutil.AssertTaskReplayed(t, result, "app:test", "v2")
}

func TestRun_FailureSkipsDependents(t *testing.T) {
	ws := testutil.NewWorkspace(t, map[string]string{
		".taskgrid/workspace.hcl": `
			project "web" {
			  root = "web"

			  task "build" {
			    command = "echo broken >&2; exit 3"
			  }
			  task "deploy" {
			    command = "echo deploying"
			    deps    = ["~:build"]
			  }
			}
		`,
		"web/index.html": "<html></html>",
	})

	result := ws.Run("web:deploy")

	require.ErrorIs(t, result.Err, executor.ErrTasksFailed)
	testutil.AssertSummary(t, result, 0, 0, 1, 1)
	testutil.AssertTaskReplayed(t, result, "web:build", "broken")
	assert.NotContains(t, result.LogOutput, "deploying")
}

func TestRun_PassthroughArgs(t *testing.T) {
	ws := testutil.NewWorkspace(t, map[string]string{
		".taskgrid/workspace.hcl": `
			project "tools" {
			  root = "tools"

			  task "greet" {
			    command = "echo"
			    args    = ["hello"]
			    cache   = false
			  }
			}
		`,
		"tools/README": "tools",
	})
	ctx := context.Background()
	a, logs := ws.NewApp(ctx)

	summary, err := a.Run(ctx, app.RunOptions{Targets: []string{"tools:greet"}, Args: []string{"world"}})

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.Contains(t, logs.String(), "tools:greet | hello world")
}

func TestRun_EnvReachesPrimaryTaskAndHash(t *testing.T) {
	// --- Arrange ---
	ws := testutil.NewWorkspace(t, map[string]string{
		".taskgrid/workspace.hcl": `
			project "tools" {
			  root = "tools"

			  task "greet" {
			    command = "echo greeting=$GREETING"
			  }
			}
		`,
		"tools/README": "tools",
	})
	ctx := context.Background()
	runWith := func(env ...string) (*report.RunSummary, string) {
		a, logs := ws.NewApp(ctx)
		summary, err := a.Run(ctx, app.RunOptions{Targets: []string{"tools:greet"}, Env: env})
		require.NoError(t, err)
		return summary, logs.String()
	}

	// --- Act ---
	first, firstLogs := runWith("GREETING=hi")
	again, _ := runWith("GREETING=hi")
	changed, changedLogs := runWith("GREETING=bye")

	// --- Assert ---
	assert.Equal(t, 1, first.Passed)
	assert.Contains(t, firstLogs, "tools:greet | greeting=hi")
	assert.Equal(t, 1, again.Cached, "same env reuses the result")
	assert.Equal(t, 1, changed.Passed, "a different env misses the cache")
	assert.Contains(t, changedLogs, "tools:greet | greeting=bye")
}

func TestRun_Errors(t *testing.T) {
	ws := newPipeline(t)
	ctx := context.Background()
	a, _ := ws.NewApp(ctx)

	testCases := []struct {
		name    string
		targets []string
		env     []string
		wantErr string
	}{
		{name: "no targets", wantErr: "no targets requested"},
		{name: "malformed", targets: []string{"nocolon"}, wantErr: "nocolon"},
		{name: "unknown project", targets: []string{"ghost:build"}, wantErr: "failed to build action graph"},
		{name: "malformed env", targets: []string{"app:test"}, env: []string{"NOVALUE"}, wantErr: "expected KEY=VALUE"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.Run(ctx, app.RunOptions{Targets: tc.targets, Env: tc.env})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRun_RecordsHistory(t *testing.T) {
	ws := newPipeline(t)
	require.NoError(t, ws.Run("app:test").Err)

	ctx := context.Background()
	a, _ := ws.NewApp(ctx)
	history, err := report.OpenHistory(a.Cache().Root())
	require.NoError(t, err)
	defer history.Close()

	runs, err := history.Runs(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)

	var finished *report.RunRecord
	for i := range runs {
		if runs[i].Passed == 2 {
			finished = &runs[i]
		}
	}
	require.NotNil(t, finished, "no run with two passed tasks in %+v", runs)

	tasks, err := history.Tasks(ctx, finished.ID)
	require.NoError(t, err)
	var targets []string
	for _, rec := range tasks {
		targets = append(targets, rec.Target)
	}
	assert.ElementsMatch(t, []string{"lib:build", "app:test"}, targets)
}

func TestClean(t *testing.T) {
	ws := newPipeline(t)
	require.NoError(t, ws.Run("app:test").Err)

	ctx := context.Background()
	a, _ := ws.NewApp(ctx)
	stats, err := a.Clean(ctx, 0)

	require.NoError(t, err)
	assert.Positive(t, stats.Files)
	assert.Positive(t, stats.Bytes)

	// Outputs on disk still satisfy the warm run once archives are gone.
	ws.Remove("lib/dist")
	result := ws.Run("lib:build")
	require.NoError(t, result.Err)
	testutil.AssertSummary(t, result, 1, 0, 0, 0)
}

func TestWriteGraph(t *testing.T) {
	ws := newPipeline(t)
	ctx := context.Background()
	a, _ := ws.NewApp(ctx)

	var out strings.Builder
	require.NoError(t, a.WriteGraph(ctx, app.RunOptions{Targets: []string{"app:test"}}, &out))

	dot := out.String()
	assert.True(t, strings.HasPrefix(dot, "digraph taskgrid {"))
	assert.Contains(t, dot, `label="RunTask(app:test)"`)
	assert.Contains(t, dot, `label="RunTask(lib:build)"`)
	assert.Contains(t, dot, `label="SyncProject(system, lib)"`)
	assert.Contains(t, dot, "rank = same;")
	assert.Contains(t, dot, " -> ")
}
