package diagram

import (
	"fmt"

	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/internal/nodes"
	"github.com/rendis/deskflow/internal/store"
	"github.com/rendis/deskflow/pkg/schema"
)

// Overlay maps node ids to the runtime state drawn on top of the graph.
type Overlay map[string]*StatusOverlay

// Build constructs a DiagramModel from a built graph. Agent nodes are
// omitted: they are never executed and have no edges. overlay may be nil.
func Build(g *graph.Graph, title string, overlay Overlay) *DiagramModel {
	if title == "" {
		title = "Workflow"
	}
	model := &DiagramModel{Title: title}
	for _, n := range g.Nodes() {
		if n.Kind() == nodes.KindAutomationAgent {
			continue
		}
		model.Nodes = append(model.Nodes, &Node{
			ID:     n.ID(),
			Label:  nodeLabel(n),
			Kind:   n.Kind(),
			Status: overlay[n.ID()],
		})
	}
	for _, e := range g.Edges() {
		model.Edges = append(model.Edges, Edge{From: e.Source, To: e.Target, Label: e.Label})
	}
	model.Levels = buildLevels(g)
	return model
}

// nodeLabel creates a human-readable label: the node's own label when set,
// else its id, followed by its kind on a second line.
func nodeLabel(n nodes.Node) string {
	name := n.Label()
	if name == "" {
		name = n.ID()
	}
	if dp, ok := n.(*nodes.DecisionPoint); ok {
		return fmt.Sprintf("%s\n%s", name, dp.Condition)
	}
	return fmt.Sprintf("%s\n(%s)", name, n.Kind())
}

// buildLevels assigns each node reachable from the entry to the BFS depth at
// which it is first reached. Unreachable executable nodes form a final level.
func buildLevels(g *graph.Graph) [][]string {
	entry := g.Entry().ID()
	depth := map[string]int{entry: 0}
	levels := [][]string{{entry}}
	queue := []string{entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.OutgoingEdges(id) {
			if _, seen := depth[e.Target]; seen {
				continue
			}
			d := depth[id] + 1
			depth[e.Target] = d
			if d == len(levels) {
				levels = append(levels, nil)
			}
			levels[d] = append(levels[d], e.Target)
			queue = append(queue, e.Target)
		}
	}

	var orphans []string
	for _, n := range g.Nodes() {
		if _, ok := depth[n.ID()]; !ok && n.Kind() != nodes.KindAutomationAgent {
			orphans = append(orphans, n.ID())
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}

// PathOverlay marks every node on path as completed, except the last one,
// which takes the run's terminal status. Nodes visited more than once count
// their visits.
func PathOverlay(path []string, status schema.RunStatus) Overlay {
	o := make(Overlay, len(path))
	for _, id := range path {
		if s, ok := o[id]; ok {
			s.Visits++
			continue
		}
		o[id] = &StatusOverlay{Status: StatusCompleted, Visits: 1}
	}
	if len(path) > 0 {
		last := o[path[len(path)-1]]
		switch status {
		case schema.RunStatusFailed:
			last.Status = StatusFailed
		case schema.RunStatusTerminated:
			last.Status = StatusTerminated
		case schema.RunStatusRunning:
			last.Status = StatusRunning
		}
	}
	return o
}

// ReplayOverlay builds an overlay from an event log replay, carrying node
// durations. A node whose last visit never completed is shown as running,
// or failed when the run failed.
func ReplayOverlay(r *store.RunReplay) Overlay {
	o := PathOverlay(r.Path(), r.Status)
	for _, v := range r.Visits {
		s := o[v.NodeID]
		s.DurationMs += v.DurationMs
		if v.CompletedAt == nil {
			s.Status = StatusRunning
			if r.Status == schema.RunStatusFailed {
				s.Status = StatusFailed
			}
		} else if s.Status == StatusRunning || s.Status == StatusFailed {
			s.Status = StatusCompleted
		}
	}
	return o
}
