package validation

import (
	"fmt"

	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/internal/nodes"
	"github.com/rendis/deskflow/pkg/schema"
)

// Warning codes reported by Lint.
const (
	WarnUnreachable   = "UNREACHABLE_NODE"
	WarnCycle         = "CYCLE_DETECTED"
	WarnMissingBranch = "MISSING_BRANCH"
	WarnDeadEnd       = "DEAD_END"
	WarnCondition     = "CONDITION_REJECTED"
	WarnUnknownKey    = "UNKNOWN_CONTEXT_KEY"
)

// checkTopology walks the graph from its entry: nodes no path reaches
// (agents excluded), cycles, decision-capable nodes lacking a branch, and
// non-output nodes with no way forward.
func checkTopology(g *graph.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// Reachability: BFS from the entry node.
	entry := g.Entry().ID()
	reachable := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.OutgoingEdges(id) {
			if !reachable[e.Target] {
				reachable[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}

	for _, n := range g.Nodes() {
		id := n.ID()
		at := schema.AtNode(id)
		if n.Kind() == nodes.KindAutomationAgent {
			continue
		}
		if !reachable[id] {
			result.AddWarning(at, WarnUnreachable,
				fmt.Sprintf("%s node %q is unreachable from entry %q", n.Kind(), id, entry))
		}

		if n.Kind().Branching() {
			for _, ok := range []bool{true, false} {
				label := nodes.BranchLabel(ok)
				if !hasLabel(g.OutgoingEdges(id), label) {
					result.AddWarning(at, WarnMissingBranch,
						fmt.Sprintf("%s node %q has no %q edge; runs taking that branch terminate", n.Kind(), id, label))
				}
			}
			continue
		}
		if n.Kind() != nodes.KindOutput && len(g.OutgoingEdges(id)) == 0 {
			result.AddWarning(at, WarnDeadEnd,
				fmt.Sprintf("%s node %q has no outgoing edge; runs reaching it terminate", n.Kind(), id))
		}
	}

	if cycle := findCycle(g, entry); len(cycle) > 0 {
		result.AddWarning(schema.Location{Field: "edges"}, WarnCycle,
			fmt.Sprintf("graph contains a cycle through %v; runs are bounded by the step limit", cycle))
	}
	return result
}

func hasLabel(edges []graph.Edge, label string) bool {
	for _, e := range edges {
		if e.Label == label {
			return true
		}
	}
	return false
}

// findCycle returns the node ids of the first cycle reachable from start,
// using an iterative three-colour DFS. Nil means the reachable graph is acyclic.
func findCycle(g *graph.Graph, start string) []string {
	const (
		white = iota
		grey
		black
	)
	colour := map[string]int{}
	type frame struct {
		id   string
		next int
	}
	stack := []frame{{id: start}}
	colour[start] = grey

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		edges := g.OutgoingEdges(top.id)
		if top.next >= len(edges) {
			colour[top.id] = black
			stack = stack[:len(stack)-1]
			continue
		}
		target := edges[top.next].Target
		top.next++

		switch colour[target] {
		case white:
			colour[target] = grey
			stack = append(stack, frame{id: target})
		case grey:
			var cycle []string
			for i := len(stack) - 1; i >= 0; i-- {
				cycle = append([]string{stack[i].id}, cycle...)
				if stack[i].id == target {
					break
				}
			}
			return cycle
		}
	}
	return nil
}
