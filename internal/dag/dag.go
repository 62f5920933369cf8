package dag

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/specialistvlad/taskgrid/internal/action"
)

// ErrCycleDetected is matched by every error that reports a dependency cycle.
var ErrCycleDetected = errors.New("cycle detected")

// CycleError names the nodes of every strongly-connected component that
// prevents a topological order.
type CycleError struct {
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s between actions: %s", ErrCycleDetected, strings.Join(e.Nodes, ", "))
}

// Is lets errors.Is match the ErrCycleDetected sentinel.
func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// Index is the dense identifier of a node inside one Graph.
type Index int

// Graph is a collection of action nodes and their dependencies.
// All operations on the graph are concurrency-safe.
type Graph struct {
	mutex sync.RWMutex
	nodes []action.Node
	index map[action.Key]Index
	// deps[i] holds the nodes that i depends on.
	deps []map[Index]struct{}
	// dependents[i] holds the nodes that depend on i.
	dependents []map[Index]struct{}
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{index: make(map[action.Key]Index)}
}

// Insert adds a node and returns its index. Inserting a node equal to one
// already present returns the existing index and leaves the graph unchanged.
func (g *Graph) Insert(n action.Node) Index {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	key := n.Key()
	if idx, ok := g.index[key]; ok {
		return idx
	}

	idx := Index(len(g.nodes))
	g.nodes = append(g.nodes, n)
	g.index[key] = idx
	g.deps = append(g.deps, make(map[Index]struct{}))
	g.dependents = append(g.dependents, make(map[Index]struct{}))
	return idx
}

// Lookup returns the index of a node equal to n, if present.
func (g *Graph) Lookup(n action.Node) (Index, bool) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	idx, ok := g.index[n.Key()]
	return idx, ok
}

// AddDependency records that `from` depends on `to`. Adding an existing edge
// is a no-op.
func (g *Graph) AddDependency(from, to Index) error {
	if from == to {
		return fmt.Errorf("self-referential edge not allowed: %d -> %d", from, from)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	if !g.valid(from) {
		return fmt.Errorf("source node not found: %d", from)
	}
	if !g.valid(to) {
		return fmt.Errorf("destination node not found: %d", to)
	}

	g.deps[from][to] = struct{}{}
	g.dependents[to][from] = struct{}{}
	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Node returns the node stored at idx.
func (g *Graph) Node(idx Index) action.Node {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.nodes[idx]
}

// Dependencies returns the sorted indices that idx depends on.
func (g *Graph) Dependencies(idx Index) []Index {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedKeys(g.deps[idx])
}

// Dependents returns the sorted indices that depend on idx.
func (g *Graph) Dependents(idx Index) []Index {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return sortedKeys(g.dependents[idx])
}

// TopologicalOrder returns every node so that dependencies precede their
// dependents. Ties are broken by insertion order.
func (g *Graph) TopologicalOrder() ([]Index, error) {
	batches, err := g.BatchedTopologicalOrder()
	if err != nil {
		return nil, err
	}

	order := make([]Index, 0, g.Len())
	for _, batch := range batches {
		order = append(order, batch...)
	}
	return order, nil
}

// BatchedTopologicalOrder partitions the graph into batches. Every node's
// dependencies appear in strictly earlier batches, so the members of one batch
// can run concurrently. Nodes left over once no progress is possible form a
// cycle, which is reported as a *CycleError.
func (g *Graph) BatchedTopologicalOrder() ([][]Index, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	remaining := make([]int, len(g.nodes))
	var ready []Index
	for i := range g.nodes {
		remaining[i] = len(g.deps[i])
		if remaining[i] == 0 {
			ready = append(ready, Index(i))
		}
	}

	var batches [][]Index
	placed := 0
	for len(ready) > 0 {
		batch := ready
		slices.Sort(batch)
		batches = append(batches, batch)
		placed += len(batch)

		ready = nil
		for _, idx := range batch {
			for dependent := range g.dependents[idx] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					ready = append(ready, dependent)
				}
			}
		}
	}

	if placed != len(g.nodes) {
		return nil, g.cycleError()
	}
	return batches, nil
}

// cycleError runs Tarjan's strongly-connected-components algorithm and
// reports every component that forms a cycle. The read lock must be held.
func (g *Graph) cycleError() error {
	var (
		counter  int
		indexOf  = make([]int, len(g.nodes))
		lowlink  = make([]int, len(g.nodes))
		onStack  = make([]bool, len(g.nodes))
		visited  = make([]bool, len(g.nodes))
		stack    []Index
		labels   []string
		strongly func(v Index)
	)

	strongly = func(v Index) {
		visited[v] = true
		indexOf[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range sortedKeys(g.deps[v]) {
			if !visited[w] {
				strongly(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indexOf[w])
			}
		}

		if lowlink[v] != indexOf[v] {
			return
		}

		var component []Index
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 {
			for _, idx := range component {
				labels = append(labels, g.nodes[idx].Label())
			}
		}
	}

	for i := range g.nodes {
		if !visited[i] {
			strongly(Index(i))
		}
	}

	sort.Strings(labels)
	return &CycleError{Nodes: labels}
}

func (g *Graph) valid(idx Index) bool {
	return idx >= 0 && int(idx) < len(g.nodes)
}

func sortedKeys(set map[Index]struct{}) []Index {
	keys := make([]Index, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
