package mission

import (
	"fmt"
	"sort"
	"strings"
)

// GraphTopology is the serialized form of a dependency graph: plain node and
// edge lists, no embedded behavior.
type GraphTopology struct {
	Nodes []string `json:"nodes"`
	Edges []Edge   `json:"edges"`
}

// Edge records that To depends on From (From must complete first).
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CycleError reports the task ids forming a dependency cycle. A cycle is a
// construction-time error; the mission never starts.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among tasks: %s", strings.Join(e.Members, " -> "))
}

// DependencyGraph is a directed acyclic graph over task ids. Insertion order
// is preserved so scheduling stays deterministic for the same DAG.
type DependencyGraph struct {
	order []string
	deps  map[string][]string // task -> its dependencies
}

// NewDependencyGraph returns an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{deps: make(map[string][]string)}
}

// BuildGraph constructs a graph from a task list, registering every task and
// its declared dependencies. Unknown dependency ids are an error.
func BuildGraph(tasks []AtomicTask) (*DependencyGraph, error) {
	g := NewDependencyGraph()
	for _, t := range tasks {
		g.AddTask(t.ID)
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if err := g.AddDependency(t.ID, dep); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

// AddTask registers a task id. Adding an existing id is a no-op.
func (g *DependencyGraph) AddTask(id string) {
	if _, ok := g.deps[id]; ok {
		return
	}
	g.deps[id] = nil
	g.order = append(g.order, id)
}

// AddDependency records that task depends on dep.
func (g *DependencyGraph) AddDependency(task, dep string) error {
	if _, ok := g.deps[task]; !ok {
		return fmt.Errorf("unknown task %q", task)
	}
	if _, ok := g.deps[dep]; !ok {
		return fmt.Errorf("task %q depends on unknown task %q", task, dep)
	}
	for _, existing := range g.deps[task] {
		if existing == dep {
			return nil
		}
	}
	g.deps[task] = append(g.deps[task], dep)
	return nil
}

// Dependencies returns the dependency list of a task.
func (g *DependencyGraph) Dependencies(task string) []string {
	return g.deps[task]
}

// Len returns the number of registered tasks.
func (g *DependencyGraph) Len() int {
	return len(g.order)
}

// TopologicalOrder returns a valid execution order, dependencies first.
// Ties are broken by insertion order, so the same graph always yields the
// same order. A cycle returns a *CycleError naming its members.
func (g *DependencyGraph) TopologicalOrder() ([]string, error) {
	indegree := make(map[string]int, len(g.order))
	dependents := make(map[string][]string, len(g.order))
	for _, id := range g.order {
		indegree[id] = len(g.deps[id])
		for _, dep := range g.deps[id] {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	// Kahn's algorithm with an insertion-ordered ready queue.
	var ready []string
	for _, id := range g.order {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	result := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = insertByGraphOrder(ready, dependent, g.order)
			}
		}
	}

	if len(result) != len(g.order) {
		return nil, &CycleError{Members: g.cycleMembers(indegree)}
	}
	return result, nil
}

// insertByGraphOrder keeps the ready queue sorted by original insertion order.
func insertByGraphOrder(queue []string, id string, order []string) []string {
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	queue = append(queue, id)
	sort.SliceStable(queue, func(i, j int) bool {
		return pos[queue[i]] < pos[queue[j]]
	})
	return queue
}

// cycleMembers isolates the tasks participating in a cycle: nodes whose
// indegree never reached zero, trimmed to those still reachable from another
// remaining node.
func (g *DependencyGraph) cycleMembers(indegree map[string]int) []string {
	remaining := make(map[string]bool)
	for _, id := range g.order {
		if indegree[id] > 0 {
			remaining[id] = true
		}
	}

	// Iteratively trim nodes that cannot sit on a cycle: those with no
	// remaining dependency, or that no remaining node depends on.
	changed := true
	for changed {
		changed = false
		for _, id := range g.order {
			if !remaining[id] {
				continue
			}
			hasRemainingDep := false
			for _, dep := range g.deps[id] {
				if remaining[dep] {
					hasRemainingDep = true
					break
				}
			}
			hasRemainingDependent := false
			for _, other := range g.order {
				if !remaining[other] {
					continue
				}
				for _, dep := range g.deps[other] {
					if dep == id {
						hasRemainingDependent = true
						break
					}
				}
				if hasRemainingDependent {
					break
				}
			}
			if !hasRemainingDep || !hasRemainingDependent {
				delete(remaining, id)
				changed = true
			}
		}
	}

	var members []string
	for _, id := range g.order {
		if remaining[id] {
			members = append(members, id)
		}
	}
	return members
}

// Topology serializes the graph as node/edge lists for persistence.
func (g *DependencyGraph) Topology() GraphTopology {
	topo := GraphTopology{Nodes: append([]string(nil), g.order...)}
	for _, id := range g.order {
		for _, dep := range g.deps[id] {
			topo.Edges = append(topo.Edges, Edge{From: dep, To: id})
		}
	}
	return topo
}

// GraphFromTopology rebuilds a graph from its serialized form.
func GraphFromTopology(topo GraphTopology) (*DependencyGraph, error) {
	g := NewDependencyGraph()
	for _, n := range topo.Nodes {
		g.AddTask(n)
	}
	for _, e := range topo.Edges {
		if err := g.AddDependency(e.To, e.From); err != nil {
			return nil, fmt.Errorf("invalid topology: %w", err)
		}
	}
	return g, nil
}
