package task

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/target"
)

func TestTaskPaths(t *testing.T) {
	tk := &Task{
		ProjectRoot: "packages/app",
		Inputs:      []string{"src/**/*.ts", "package.json", "/tsconfig.base.json", "$NODE_ENV", "$API_URL"},
		Outputs:     []string{"dist", "/build/*.js"},
	}

	assert.Equal(t, []string{"packages/app/package.json", "tsconfig.base.json"}, tk.InputFiles())
	assert.Equal(t, []string{"packages/app/src/**/*.ts"}, tk.InputGlobs())
	assert.Equal(t, []string{"API_URL", "NODE_ENV"}, tk.InputEnv())
	assert.Equal(t, []string{"packages/app/dist"}, tk.OutputPaths())
	assert.Equal(t, []string{"build/*.js"}, tk.OutputGlobs())
}

func TestTaskType(t *testing.T) {
	assert.Equal(t, TypeBuild, (&Task{Outputs: []string{"dist"}}).Type())
	assert.Equal(t, TypeRun, (&Task{Options: Options{Local: true}}).Type())
	assert.Equal(t, TypeTest, (&Task{}).Type())
	assert.True(t, (&Task{Outputs: []string{"dist"}}).IsBuildType())
}

func TestWorkspace(t *testing.T) {
	ws := NewWorkspace("/repo")
	ws.AddProject(&Project{
		ID: "app", Root: "apps/app", Tags: []string{"frontend"}, Toolchain: "node",
		Tasks: map[string]*Task{"build": {Command: "vite"}, "test": {Command: "vitest"}},
	})
	ws.AddProject(&Project{
		ID: "api", Root: "apps/api",
		Tasks: map[string]*Task{"build": {Command: "go", Toolchain: "go"}},
	})

	t.Run("lookup fills back references", func(t *testing.T) {
		tk, err := ws.Task(target.New("app", "build"))
		require.NoError(t, err)
		assert.Equal(t, "app:build", tk.Target.String())
		assert.Equal(t, "apps/app", tk.ProjectRoot)
		assert.Equal(t, "node", tk.Toolchain)
	})

	t.Run("unknown targets fail", func(t *testing.T) {
		_, err := ws.Task(target.New("web", "build"))
		assert.ErrorContains(t, err, "unknown project")
		_, err = ws.Task(target.New("app", "lint"))
		assert.ErrorContains(t, err, "unknown task")
	})

	t.Run("expand patterns", func(t *testing.T) {
		got, err := ws.Expand(target.MustParse(":build"))
		require.NoError(t, err)
		want := []target.Target{target.New("api", "build"), target.New("app", "build")}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Expand mismatch (-want +got):\n%s", diff)
		}

		got, err = ws.Expand(target.MustParse("#frontend:test"))
		require.NoError(t, err)
		assert.Equal(t, []target.Target{target.New("app", "test")}, got)

		_, err = ws.Expand(target.MustParse(":deploy"))
		assert.Error(t, err)
	})
}
