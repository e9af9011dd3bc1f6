package graph

import (
	"fmt"
	"sort"

	"github.com/alexisbeaulieu97/sqlflow/internal/planner"
	sqlflowerrors "github.com/alexisbeaulieu97/sqlflow/pkg/errors"
)

// Node represents a vertex in the execution DAG.
type Node struct {
	ID         string
	Operation  *planner.Operation
	DependsOn  []*Node
	Dependents []*Node
}

// Graph is the frozen dependency graph of a compiled plan. Once built it
// is never mutated; schedulers only read from it.
type Graph struct {
	nodes  map[string]*Node
	order  []string
	levels [][]string
}

// Build constructs the execution graph from a compiled plan and verifies
// it is acyclic.
func Build(plan *planner.Plan) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node, len(plan.Operations))}

	for _, op := range plan.Operations {
		if _, exists := g.nodes[op.ID]; exists {
			return nil, sqlflowerrors.NewCompilationError(plan.PipelineName,
				fmt.Sprintf("duplicate operation id %q", op.ID), nil)
		}
		g.nodes[op.ID] = &Node{ID: op.ID, Operation: op}
		g.order = append(g.order, op.ID)
	}

	var missing []string
	for _, op := range plan.Operations {
		node := g.nodes[op.ID]
		for _, dep := range op.DependsOn {
			source, ok := g.nodes[dep]
			if !ok {
				missing = append(missing, fmt.Sprintf("%s -> %s", op.ID, dep))
				continue
			}
			node.DependsOn = append(node.DependsOn, source)
			source.Dependents = append(source.Dependents, node)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, sqlflowerrors.NewMissingDependencyError(missing)
	}

	if err := g.computeLevels(); err != nil {
		return nil, err
	}
	return g, nil
}

// Size returns the number of operations in the graph.
func (g *Graph) Size() int {
	return len(g.nodes)
}

// Node returns the node with the given operation id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Operations returns the operations in plan order.
func (g *Graph) Operations() []*planner.Operation {
	ops := make([]*planner.Operation, 0, len(g.order))
	for _, id := range g.order {
		ops = append(ops, g.nodes[id].Operation)
	}
	return ops
}

// TopologicalLevels returns the Kahn levels of the graph: every operation
// in level N depends only on operations in levels < N. Operations within a
// level are sorted by id so scheduling is deterministic.
func (g *Graph) TopologicalLevels() [][]string {
	out := make([][]string, len(g.levels))
	for i, level := range g.levels {
		out[i] = append([]string(nil), level...)
	}
	return out
}

// computeLevels runs Kahn's algorithm. A remainder after the sort means a
// cycle, which is extracted and reported with its member path.
func (g *Graph) computeLevels() error {
	indegree := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		indegree[id] = len(node.DependsOn)
	}

	var queue []string
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	processed := 0
	var levels [][]string

	for len(queue) > 0 {
		currentLevel := append([]string(nil), queue...)
		levels = append(levels, currentLevel)

		var nextLevel []string
		for _, id := range currentLevel {
			processed++
			for _, dependent := range g.nodes[id].Dependents {
				indegree[dependent.ID]--
				if indegree[dependent.ID] == 0 {
					nextLevel = append(nextLevel, dependent.ID)
				}
			}
		}

		sort.Strings(nextLevel)
		queue = nextLevel
	}

	if processed != len(g.nodes) {
		cycle := g.extractCycle(indegree)
		return sqlflowerrors.NewCycleError([][]string{cycle})
	}

	g.levels = levels
	return nil
}

// extractCycle walks the unprocessed remainder following dependency edges
// until a node repeats, returning the closed cycle path.
func (g *Graph) extractCycle(indegree map[string]int) []string {
	var remaining []string
	for id, degree := range indegree {
		if degree > 0 {
			remaining = append(remaining, id)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	sort.Strings(remaining)
	inRemainder := make(map[string]bool, len(remaining))
	for _, id := range remaining {
		inRemainder[id] = true
	}

	visited := make(map[string]int)
	var path []string
	current := remaining[0]
	for {
		if at, seen := visited[current]; seen {
			cycle := append([]string(nil), path[at:]...)
			return append(cycle, current)
		}
		visited[current] = len(path)
		path = append(path, current)

		next := ""
		for _, dep := range g.nodes[current].DependsOn {
			if inRemainder[dep.ID] {
				next = dep.ID
				break
			}
		}
		if next == "" {
			return path
		}
		current = next
	}
}

// ExecutableSteps returns the ids whose dependencies are all in the
// completed set, excluding already-completed ids, sorted for determinism.
func (g *Graph) ExecutableSteps(completed map[string]bool) []string {
	var ready []string
	for _, id := range g.order {
		if completed[id] {
			continue
		}
		node := g.nodes[id]
		ok := true
		for _, dep := range node.DependsOn {
			if !completed[dep.ID] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}

// ReverseDependencies maps each operation id to the ids that depend on it
// directly.
func (g *Graph) ReverseDependencies() map[string][]string {
	out := make(map[string][]string, len(g.nodes))
	for _, id := range g.order {
		node := g.nodes[id]
		deps := make([]string, 0, len(node.Dependents))
		for _, d := range node.Dependents {
			deps = append(deps, d.ID)
		}
		sort.Strings(deps)
		out[id] = deps
	}
	return out
}

// Descendants returns every operation id transitively downstream of the
// given id, sorted.
func (g *Graph) Descendants(id string) []string {
	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	stack := append([]*Node(nil), node.Dependents...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		stack = append(stack, n.Dependents...)
	}

	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// CriticalPath returns the longest dependency chain in the graph, as an
// ordered id list from root to leaf. Ties break toward the lexically
// smaller path.
func (g *Graph) CriticalPath() []string {
	depth := make(map[string]int, len(g.nodes))
	next := make(map[string]string, len(g.nodes))

	var walk func(id string) int
	walk = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		best := 0
		bestNext := ""
		node := g.nodes[id]
		deps := make([]*Node, len(node.Dependents))
		copy(deps, node.Dependents)
		sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
		for _, d := range deps {
			if l := walk(d.ID); l+1 > best {
				best = l + 1
				bestNext = d.ID
			}
		}
		depth[id] = best
		next[id] = bestNext
		return best
	}

	start := ""
	best := -1
	starts := append([]string(nil), g.order...)
	sort.Strings(starts)
	for _, id := range starts {
		if len(g.nodes[id].DependsOn) > 0 {
			continue
		}
		if l := walk(id); l > best {
			best = l
			start = id
		}
	}
	if start == "" && len(starts) > 0 {
		start = starts[0]
		walk(start)
	}
	if start == "" {
		return nil
	}

	var path []string
	for id := start; id != ""; id = next[id] {
		path = append(path, id)
	}
	return path
}
