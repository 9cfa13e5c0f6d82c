package mission

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopologicalOrderSimpleChain(t *testing.T) {
	tasks := []AtomicTask{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"A", "B"}},
	}
	g, err := BuildGraph(tasks)
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	tasks := []AtomicTask{
		{ID: "root"},
		{ID: "left", Dependencies: []string{"root"}},
		{ID: "right", Dependencies: []string{"root"}},
		{ID: "sink", Dependencies: []string{"left", "right"}},
	}
	g, err := BuildGraph(tasks)
	require.NoError(t, err)

	first, err := g.TopologicalOrder()
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := g.TopologicalOrder()
		require.NoError(t, err)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("order not deterministic (-first +again):\n%s", diff)
		}
	}
	// Insertion-order tie break: left before right.
	assert.Equal(t, []string{"root", "left", "right", "sink"}, first)
}

func TestTopologicalOrderValidity(t *testing.T) {
	tasks := []AtomicTask{
		{ID: "d", Dependencies: []string{"b", "c"}},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"a"}},
		{ID: "a"},
	}
	g, err := BuildGraph(tasks)
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			assert.Less(t, pos[dep], pos[task.ID], "%s must precede %s", dep, task.ID)
		}
	}
}

func TestCycleDetectionReportsMembers(t *testing.T) {
	tasks := []AtomicTask{
		{ID: "setup"},
		{ID: "x", Dependencies: []string{"z", "setup"}},
		{ID: "y", Dependencies: []string{"x"}},
		{ID: "z", Dependencies: []string{"y"}},
		{ID: "downstream", Dependencies: []string{"z"}},
	}
	g, err := BuildGraph(tasks)
	require.NoError(t, err)

	_, err = g.TopologicalOrder()
	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr), "expected CycleError, got %v", err)
	assert.ElementsMatch(t, []string{"x", "y", "z"}, cycleErr.Members)
}

func TestSelfLoopIsACycle(t *testing.T) {
	g := NewDependencyGraph()
	g.AddTask("solo")
	require.NoError(t, g.AddDependency("solo", "solo"))

	_, err := g.TopologicalOrder()
	var cycleErr *CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"solo"}, cycleErr.Members)
}

func TestUnknownDependencyRejected(t *testing.T) {
	_, err := BuildGraph([]AtomicTask{{ID: "a", Dependencies: []string{"ghost"}}})
	assert.Error(t, err)
}

func TestTopologyRoundTrip(t *testing.T) {
	tasks := []AtomicTask{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"B"}},
	}
	g, err := BuildGraph(tasks)
	require.NoError(t, err)

	rebuilt, err := GraphFromTopology(g.Topology())
	require.NoError(t, err)

	orig, err := g.TopologicalOrder()
	require.NoError(t, err)
	again, err := rebuilt.TopologicalOrder()
	require.NoError(t, err)
	assert.Equal(t, orig, again)
}
