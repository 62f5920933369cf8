package dag

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/action"
	"github.com/specialistvlad/taskgrid/internal/target"
)

func run(project, task string) action.Node {
	return action.RunTask(target.New(project, task), nil, nil)
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Zero(t, g.Len())
	assert.NotNil(t, g.index)
}

func TestInsert(t *testing.T) {
	g := New()

	a := g.Insert(run("p", "a"))
	assert.Equal(t, Index(0), a)
	assert.Equal(t, 1, g.Len())

	again := g.Insert(run("p", "a")) // idempotent
	assert.Equal(t, a, again)
	assert.Equal(t, 1, g.Len())

	b := g.Insert(run("p", "b"))
	assert.Equal(t, Index(1), b)
	assert.Equal(t, "RunTask(p:b)", g.Node(b).Label())

	idx, ok := g.Lookup(run("p", "b"))
	assert.True(t, ok)
	assert.Equal(t, b, idx)
	_, ok = g.Lookup(run("p", "c"))
	assert.False(t, ok)
}

func TestInsert_Concurrent(t *testing.T) {
	g := New()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Insert(run("p", fmt.Sprintf("t%d", i%10)))
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, g.Len())
}

func TestAddDependency(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := New()
		a := g.Insert(run("p", "a"))
		b := g.Insert(run("p", "b"))

		require.NoError(t, g.AddDependency(a, b)) // a depends on b
		require.NoError(t, g.AddDependency(a, b)) // duplicate edges are ignored

		assert.Equal(t, []Index{b}, g.Dependencies(a))
		assert.Equal(t, []Index{a}, g.Dependents(b))
		assert.Empty(t, g.Dependencies(b))
	})

	t.Run("error cases", func(t *testing.T) {
		g := New()
		a := g.Insert(run("p", "a"))

		assert.ErrorContains(t, g.AddDependency(Index(7), a), "source node not found")
		assert.ErrorContains(t, g.AddDependency(a, Index(7)), "destination node not found")
		assert.ErrorContains(t, g.AddDependency(a, a), "self-referential edge")
	})
}

func TestTopologicalOrder(t *testing.T) {
	t.Run("empty graph", func(t *testing.T) {
		order, err := New().TopologicalOrder()
		require.NoError(t, err)
		assert.Empty(t, order)
	})

	t.Run("dependencies come first", func(t *testing.T) {
		g := New()
		a := g.Insert(run("p", "a"))
		b := g.Insert(run("p", "b"))
		c := g.Insert(run("p", "c"))
		d := g.Insert(run("p", "d"))
		require.NoError(t, g.AddDependency(a, b))
		require.NoError(t, g.AddDependency(b, c))
		require.NoError(t, g.AddDependency(a, c)) // transitive edge
		require.NoError(t, g.AddDependency(d, a))

		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, []Index{c, b, a, d}, order)
	})

	t.Run("every edge respects the order", func(t *testing.T) {
		g := New()
		nodes := make([]Index, 12)
		for i := range nodes {
			nodes[i] = g.Insert(run("p", fmt.Sprintf("n%d", i)))
		}
		for i := range nodes {
			for j := i + 1; j < len(nodes); j += 3 {
				require.NoError(t, g.AddDependency(nodes[i], nodes[j]))
			}
		}

		order, err := g.TopologicalOrder()
		require.NoError(t, err)
		require.Len(t, order, len(nodes))

		position := make(map[Index]int)
		for i, idx := range order {
			position[idx] = i
		}
		for _, from := range nodes {
			for _, to := range g.Dependencies(from) {
				assert.Less(t, position[to], position[from], "dependency %d must precede %d", to, from)
			}
		}
	})
}

func TestBatchedTopologicalOrder(t *testing.T) {
	t.Run("linear chain yields one node per batch", func(t *testing.T) {
		g := New()
		a := g.Insert(run("p", "a"))
		b := g.Insert(run("p", "b"))
		c := g.Insert(run("p", "c"))
		require.NoError(t, g.AddDependency(a, b))
		require.NoError(t, g.AddDependency(b, c))

		batches, err := g.BatchedTopologicalOrder()
		require.NoError(t, err)
		want := [][]Index{{c}, {b}, {a}}
		if diff := cmp.Diff(want, batches); diff != "" {
			t.Errorf("batch mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("independent nodes share a batch", func(t *testing.T) {
		g := New()
		app := g.Insert(run("app", "build"))
		lib1 := g.Insert(run("lib1", "build"))
		lib2 := g.Insert(run("lib2", "build"))
		setup := g.Insert(action.SetupToolchain(action.Runtime{Toolchain: "node", Version: "20"}))
		require.NoError(t, g.AddDependency(app, lib1))
		require.NoError(t, g.AddDependency(app, lib2))
		require.NoError(t, g.AddDependency(lib1, setup))
		require.NoError(t, g.AddDependency(lib2, setup))

		batches, err := g.BatchedTopologicalOrder()
		require.NoError(t, err)
		assert.Equal(t, [][]Index{{setup}, {lib1, lib2}, {app}}, batches)
	})
}

func TestCycleDetection(t *testing.T) {
	t.Run("simple direct cycle is detected", func(t *testing.T) {
		g := New()
		a := g.Insert(run("p", "a"))
		b := g.Insert(run("p", "b"))
		require.NoError(t, g.AddDependency(a, b))
		require.NoError(t, g.AddDependency(b, a))

		_, err := g.TopologicalOrder()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCycleDetected))

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"RunTask(p:a)", "RunTask(p:b)"}, cycleErr.Nodes)
	})

	t.Run("cycle in a disjoint component names only its members", func(t *testing.T) {
		g := New()
		a := g.Insert(run("p", "a"))
		b := g.Insert(run("p", "b"))
		require.NoError(t, g.AddDependency(a, b))

		x := g.Insert(run("q", "x"))
		y := g.Insert(run("q", "y"))
		z := g.Insert(run("q", "z"))
		require.NoError(t, g.AddDependency(x, y))
		require.NoError(t, g.AddDependency(y, z))
		require.NoError(t, g.AddDependency(z, y))

		_, err := g.BatchedTopologicalOrder()
		require.Error(t, err)
		assert.ErrorContains(t, err, "cycle detected")

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"RunTask(q:y)", "RunTask(q:z)"}, cycleErr.Nodes)
	})

	t.Run("longer cycle is detected by both orders", func(t *testing.T) {
		g := New()
		nodes := []Index{g.Insert(run("p", "a")), g.Insert(run("p", "b")), g.Insert(run("p", "c")), g.Insert(run("p", "d"))}
		for i := range nodes {
			require.NoError(t, g.AddDependency(nodes[i], nodes[(i+1)%len(nodes)]))
		}

		_, err := g.TopologicalOrder()
		assert.ErrorIs(t, err, ErrCycleDetected)
		_, err = g.BatchedTopologicalOrder()
		assert.ErrorIs(t, err, ErrCycleDetected)
		assert.ErrorContains(t, err, "RunTask(p:a), RunTask(p:b), RunTask(p:c), RunTask(p:d)")
	})
}
