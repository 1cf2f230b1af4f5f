// SPDX-License-Identifier: MPL-2.0

// Package dag provides directed graph operations for topological sorting
// and cycle detection. The addon resolver uses it to order module starts
// along required dependency edges and to name the members of dependency
// cycles.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing topological ordering.
	CycleError struct {
		// Cycle contains the nodes left unordered: every cycle member plus the
		// nodes that depend on one.
		Cycle []string
	}

	// Graph is a directed graph for topological sorting.
	// Nodes are identified by string keys. Edges represent "must run before" relationships:
	// an edge from A to B means A must complete before B starts.
	Graph struct {
		// adjacency maps each node to its outgoing neighbors (nodes that depend on it).
		adjacency map[string][]string
		// nodes tracks all nodes in insertion order.
		nodes []string
		// nodeSet provides O(1) lookup for node existence.
		nodeSet map[string]bool
		// compare orders nodes that become ready at the same time; nil keeps
		// insertion order.
		compare func(a, b string) int
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph that breaks ties by insertion order.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		nodeSet:   make(map[string]bool),
	}
}

// NewOrdered creates an empty Graph that breaks ties with compare, making the
// sort independent of insertion order.
func NewOrdered(compare func(a, b string) int) *Graph {
	g := New()
	g.compare = compare
	return g
}

// AddNode adds a node to the graph. If the node already exists, this is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodeSet[name] {
		return
	}
	g.nodeSet[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge adds a directed edge from -> to, meaning "from" must run before "to".
// Both nodes are implicitly added if they don't exist.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.adjacency[from] = append(g.adjacency[from], to)
}

// Has reports whether name is a node of the graph.
func (g *Graph) Has(name string) bool {
	return g.nodeSet[name]
}

// Successors returns the nodes that depend on name, without duplicates.
func (g *Graph) Successors(name string) []string {
	out := slices.Clone(g.adjacency[name])
	slices.Sort(out)
	return slices.Compact(out)
}

// TopologicalSort returns a valid execution order using Kahn's algorithm.
// Returns CycleError if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	order, blocked := g.PartialSort()
	if len(blocked) > 0 {
		return nil, &CycleError{Cycle: blocked}
	}
	return order, nil
}

// PartialSort orders every node that is not part of, or downstream of, a
// cycle. Nodes that could not be ordered are returned in insertion order.
func (g *Graph) PartialSort() (order, blocked []string) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = 0
	}
	for _, neighbors := range g.adjacency {
		for _, neighbor := range neighbors {
			inDegree[neighbor]++
		}
	}

	ready := make([]string, 0)
	for _, node := range g.nodes {
		if inDegree[node] == 0 {
			ready = append(ready, node)
		}
	}

	for len(ready) > 0 {
		if g.compare != nil {
			slices.SortStableFunc(ready, g.compare)
		}
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)

		for _, neighbor := range g.adjacency[node] {
			inDegree[neighbor]--
			if inDegree[neighbor] == 0 {
				ready = append(ready, neighbor)
			}
		}
	}

	for _, node := range g.nodes {
		if inDegree[node] > 0 {
			blocked = append(blocked, node)
		}
	}
	return order, blocked
}

// Cycles returns the strongly connected components that form cycles: every
// component with more than one node, plus single nodes with a self edge.
// Members of each cycle are sorted, and cycles are ordered by first member.
func (g *Graph) Cycles() [][]string {
	var (
		index   int
		stack   []string
		onStack = make(map[string]bool)
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		cycles  [][]string
	)

	// Tarjan's algorithm.
	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.adjacency[v] {
			if _, seen := indices[w]; !seen {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] != indices[v] {
			return
		}
		var component []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			component = append(component, w)
			if w == v {
				break
			}
		}
		if len(component) > 1 || slices.Contains(g.adjacency[v], v) {
			slices.Sort(component)
			cycles = append(cycles, component)
		}
	}

	for _, node := range g.nodes {
		if _, seen := indices[node]; !seen {
			connect(node)
		}
	}

	slices.SortFunc(cycles, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	return cycles
}
