package collector

import "github.com/noworkflow/provenance/store"

// depGraph is an adjacency-list view over committed Dependency edges,
// adapted from ReactiveGraph (graph.go): same downstream/upstream map
// shape and iterative stack-based traversal, re-keyed on evaluation
// ids instead of executors. It is a diagnostic structure, not part of
// the hot hook path, and the Engine does not build one. It answers
// transitive-dependent queries only; it does not check that a
// Dependency's endpoints exist. activationTreeRootedAt below checks the
// activation tree shape separately.
type depGraph struct {
	downstream map[int64][]int64 // dependency evaluation id -> dependent evaluation ids
	upstream   map[int64][]int64 // dependent evaluation id -> dependency evaluation ids
}

func newDepGraph(deps []store.Dependency) *depGraph {
	g := &depGraph{
		downstream: make(map[int64][]int64),
		upstream:   make(map[int64][]int64),
	}
	for _, d := range deps {
		g.downstream[d.DependencyEvaluationID] = appendUniqueInt64(g.downstream[d.DependencyEvaluationID], d.DependentEvaluationID)
		g.upstream[d.DependentEvaluationID] = appendUniqueInt64(g.upstream[d.DependentEvaluationID], d.DependencyEvaluationID)
	}
	return g
}

// dependents performs iterative traversal (no recursion, so arbitrarily
// deep provenance chains cannot overflow the stack) to find every
// evaluation transitively depending on start.
func (g *depGraph) dependents(start int64) []int64 {
	stack := []int64{start}
	visited := make(map[int64]bool, 32)
	out := make([]int64, 0, 32)

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			continue
		}
		visited[current] = true

		if current != start {
			out = append(out, current)
		}
		for _, next := range g.downstream[current] {
			if !visited[next] {
				stack = append(stack, next)
			}
		}
	}
	return out
}

func appendUniqueInt64(slice []int64, item int64) []int64 {
	for _, existing := range slice {
		if existing == item {
			return slice
		}
	}
	return append(slice, item)
}

// activationTreeRootedAt reports whether every activation in acts
// reaches root by following Caller (or Closure, when Caller is absent)
// pointers.
func activationTreeRootedAt(acts []store.Activation, root int64) bool {
	byID := make(map[int64]store.Activation, len(acts))
	for _, a := range acts {
		byID[a.ID] = a
	}
	for _, a := range acts {
		seen := make(map[int64]bool)
		cur := a
		for {
			if cur.ID == root {
				break
			}
			if seen[cur.ID] {
				return false
			}
			seen[cur.ID] = true
			var parentID int64
			switch {
			case cur.CallerID != nil:
				parentID = *cur.CallerID
			case cur.ClosureID != nil:
				parentID = *cur.ClosureID
			default:
				return false
			}
			parent, ok := byID[parentID]
			if !ok {
				if parentID == root {
					break
				}
				return false
			}
			cur = parent
		}
	}
	return true
}
