package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected Target
	}{
		{name: "project scope", input: "app:build", expected: Target{Scope: ScopeProject, ScopeID: "app", Task: "build"}},
		{name: "all projects", input: ":lint", expected: Target{Scope: ScopeAll, Task: "lint"}},
		{name: "tag scope", input: "#frontend:test", expected: Target{Scope: ScopeTag, ScopeID: "frontend", Task: "test"}},
		{name: "own project", input: "~:codegen", expected: Target{Scope: ScopeOwn, Task: "codegen"}},
		{name: "dependencies", input: "^:build", expected: Target{Scope: ScopeDeps, Task: "build"}},
		{name: "scoped package name", input: "@acme/ui:build", expected: Target{Scope: ScopeProject, ScopeID: "@acme/ui", Task: "build"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
			assert.Equal(t, tc.input, got.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	for _, input := range []string{"", "app", "app:", "app:bad task", "#:build", "a b:build"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			assert.Error(t, err)
		})
	}
}

func TestMatches(t *testing.T) {
	concrete := New("app", "build")

	assert.True(t, MustParse(":build").Matches(concrete, nil))
	assert.True(t, MustParse("app:build").Matches(concrete, nil))
	assert.False(t, MustParse("web:build").Matches(concrete, nil))
	assert.False(t, MustParse(":test").Matches(concrete, nil))
	assert.True(t, MustParse("#frontend:build").Matches(concrete, []string{"frontend"}))
	assert.False(t, MustParse("#backend:build").Matches(concrete, []string{"frontend"}))
	assert.False(t, MustParse("~:build").Matches(concrete, nil))
}

func TestResolve(t *testing.T) {
	assert.Equal(t, New("app", "codegen"), MustParse("~:codegen").Resolve("app"))
	assert.Equal(t, New("lib", "build"), MustParse("lib:build").Resolve("app"))
}
