// SPDX-License-Identifier: MPL-2.0

package dag

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestTopologicalSort_EmptyGraph(t *testing.T) {
	t.Parallel()
	g := New()
	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil, got %v", order)
	}
}

func TestTopologicalSort_DependencyChain(t *testing.T) {
	t.Parallel()
	g := New()
	// edges point from dependency to dependent: c before b before a
	g.AddEdge("c", "b")
	g.AddEdge("b", "a")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"c", "b", "a"}; !slices.Equal(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestTopologicalSort_Diamond(t *testing.T) {
	t.Parallel()
	g := NewOrdered(strings.Compare)
	g.AddEdge("base", "right")
	g.AddEdge("base", "left")
	g.AddEdge("left", "top")
	g.AddEdge("right", "top")

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"base", "left", "right", "top"}; !slices.Equal(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestTopologicalSort_TiesFollowComparator(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		compare func(a, b string) int
		want    []string
	}{
		{name: "insertion order", compare: nil, want: []string{"zeta", "alpha", "mid"}},
		{name: "lexical order", compare: strings.Compare, want: []string{"alpha", "mid", "zeta"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			g := NewOrdered(tt.compare)
			for _, n := range []string{"zeta", "alpha", "mid"} {
				g.AddNode(n)
			}
			order, err := g.TopologicalSort()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(order, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, order)
			}
		})
	}
}

func TestTopologicalSort_Cycle(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")

	_, err := g.TopologicalSort()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Cycle) != 3 {
		t.Errorf("expected 3 nodes in cycle, got %v", cycleErr.Cycle)
	}
}

func TestPartialSort_OrdersAroundCycle(t *testing.T) {
	t.Parallel()
	g := NewOrdered(strings.Compare)
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")
	g.AddEdge("b", "downstream")
	g.AddEdge("free", "leaf")

	order, blocked := g.PartialSort()
	if want := []string{"free", "leaf"}; !slices.Equal(order, want) {
		t.Errorf("order: expected %v, got %v", want, order)
	}
	if want := []string{"a", "b", "downstream"}; !slices.Equal(blocked, want) {
		t.Errorf("blocked: expected %v, got %v", want, blocked)
	}
}

func TestCycles(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("x", "y")
	g.AddEdge("y", "x")
	g.AddEdge("y", "z") // z depends on the cycle but is not part of it
	g.AddEdge("self", "self")
	g.AddEdge("p", "q")

	cycles := g.Cycles()
	if len(cycles) != 2 {
		t.Fatalf("expected 2 cycles, got %v", cycles)
	}
	if !slices.Equal(cycles[0], []string{"self"}) {
		t.Errorf("expected self loop first, got %v", cycles[0])
	}
	if !slices.Equal(cycles[1], []string{"x", "y"}) {
		t.Errorf("expected [x y], got %v", cycles[1])
	}
}

func TestSuccessors_Deduplicated(t *testing.T) {
	t.Parallel()
	g := New()
	g.AddEdge("a", "c")
	g.AddEdge("a", "b")
	g.AddEdge("a", "c")

	if got := g.Successors("a"); !slices.Equal(got, []string{"b", "c"}) {
		t.Errorf("expected [b c], got %v", got)
	}
	if !g.Has("b") || g.Has("missing") {
		t.Error("Has reported wrong membership")
	}
}

func TestCycleError_Message(t *testing.T) {
	t.Parallel()
	err := &CycleError{Cycle: []string{"a", "b", "c"}}
	expected := "dependency cycle detected: a -> b -> c"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}
