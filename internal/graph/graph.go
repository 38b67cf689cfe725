// Package graph builds the immutable, indexed form of a workflow: nodes by
// id, outgoing edges by source and the actors resolved for agent nodes.
package graph

import (
	"context"
	"fmt"

	"github.com/rendis/deskflow/internal/nodes"
	"github.com/rendis/deskflow/internal/provider"
	"github.com/rendis/deskflow/pkg/schema"
)

// Edge is a directed connection between two nodes. An empty Label marks an
// unconditional edge; branching nodes select edges by label.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

// Graph is a validated workflow graph. It is never modified after Build and
// may be shared by concurrent runs.
type Graph struct {
	nodes  map[string]nodes.Node
	order  []string
	edges  []Edge
	out    map[string][]Edge
	actors map[string]provider.Actor
	entry  string
}

// Build validates nodes and edges and indexes them. Agent nodes are resolved
// to actors through resolver; a nil resolver uses provider.StaticResolver.
func Build(ctx context.Context, ns []nodes.Node, edges []Edge, resolver provider.ActorResolver) (*Graph, error) {
	if resolver == nil {
		resolver = provider.StaticResolver{}
	}

	g := &Graph{
		nodes:  make(map[string]nodes.Node, len(ns)),
		order:  make([]string, 0, len(ns)),
		edges:  make([]Edge, 0, len(edges)),
		out:    make(map[string][]Edge, len(ns)),
		actors: make(map[string]provider.Actor),
	}

	// First pass: register nodes, reject duplicates, find entry and exits.
	outputs := 0
	for i, n := range ns {
		if n == nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation, "node at index %d is nil", i)
		}
		id := n.ID()
		if _, exists := g.nodes[id]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation, "duplicate node id: %s", id).WithNode(id)
		}
		g.nodes[id] = n
		g.order = append(g.order, id)

		switch n.Kind() {
		case nodes.KindInput:
			if g.entry == "" {
				g.entry = id
			}
		case nodes.KindOutput:
			outputs++
		}
	}
	if g.entry == "" {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "graph has no input node")
	}
	if outputs == 0 {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "graph has no output node")
	}

	// Second pass: validate and index edges.
	for i, e := range edges {
		if err := g.addEdge(i, e); err != nil {
			return nil, err
		}
	}

	// Third pass: resolve actors and check agent references.
	for _, id := range g.order {
		agent, ok := g.nodes[id].(*nodes.AutomationAgent)
		if !ok {
			continue
		}
		actor, err := resolver.ResolveActor(ctx, provider.AgentSpec{
			ID:        agent.ID(),
			Role:      agent.Role,
			Goal:      agent.Goal,
			Backstory: agent.Backstory,
			Tools:     agent.Tools,
		})
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation, "resolve actor %s: %s", id, err.Error()).
				WithNode(id).WithCause(err)
		}
		g.actors[id] = actor
	}
	for _, id := range g.order {
		action, ok := g.nodes[id].(*nodes.ActionBlock)
		if !ok {
			continue
		}
		if _, ok := g.actors[action.AgentID]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation,
				"action %s references unknown agent %q", id, action.AgentID).
				WithNode(id).
				WithDetails(map[string]any{"agent_id": action.AgentID})
		}
	}

	return g, nil
}

func (g *Graph) addEdge(i int, e Edge) error {
	src, ok := g.nodes[e.Source]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeGraphValidation, "edge %d references unknown source node %q", i, e.Source).
			WithDetails(map[string]any{"edge": i, "source": e.Source, "target": e.Target})
	}
	dst, ok := g.nodes[e.Target]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeGraphValidation, "edge %d references unknown target node %q", i, e.Target).
			WithDetails(map[string]any{"edge": i, "source": e.Source, "target": e.Target})
	}
	for _, n := range []nodes.Node{src, dst} {
		if n.Kind() == nodes.KindAutomationAgent {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"agent node %s cannot be connected by edges", n.ID()).WithNode(n.ID())
		}
	}

	existing := g.out[e.Source]
	if src.Kind().Branching() {
		for _, prev := range existing {
			if prev.Label == e.Label {
				return schema.NewErrorf(schema.ErrCodeGraphValidation,
					"node %s has more than one %q edge", e.Source, labelName(e.Label)).
					WithNode(e.Source)
			}
		}
	} else if e.Label == "" {
		for _, prev := range existing {
			if prev.Label == "" {
				return schema.NewErrorf(schema.ErrCodeGraphValidation,
					"node %s has more than one unlabeled outgoing edge; only decision nodes may branch", e.Source).
					WithNode(e.Source).
					WithDetails(map[string]any{"targets": []string{prev.Target, e.Target}})
			}
		}
	}

	g.out[e.Source] = append(existing, e)
	g.edges = append(g.edges, e)
	return nil
}

func labelName(label string) string {
	if label == "" {
		return "unlabeled"
	}
	return label
}

// FromDefinition decodes raw records through the node registry and builds
// the graph. An edge's sourceHandle becomes its label.
func FromDefinition(ctx context.Context, def schema.GraphDefinition, resolver provider.ActorResolver) (*Graph, error) {
	ns := make([]nodes.Node, 0, len(def.Nodes))
	for _, raw := range def.Nodes {
		n, err := nodes.Construct(raw)
		if err != nil {
			return nil, err
		}
		ns = append(ns, n)
	}
	edges := make([]Edge, len(def.Edges))
	for i, e := range def.Edges {
		edges[i] = Edge{Source: e.Source, Target: e.Target, Label: e.SourceHandle}
	}
	return Build(ctx, ns, edges, resolver)
}

// Entry returns the first input node in declaration order.
func (g *Graph) Entry() nodes.Node {
	return g.nodes[g.entry]
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (nodes.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []nodes.Node {
	out := make([]nodes.Node, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Edges returns all edges in declaration order.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// OutgoingEdges returns a copy of the edges leaving id, in insertion order.
func (g *Graph) OutgoingEdges(id string) []Edge {
	return append([]Edge(nil), g.out[id]...)
}

// Actor returns the actor resolved for an agent node.
func (g *Graph) Actor(agentID string) (provider.Actor, bool) {
	a, ok := g.actors[agentID]
	return a, ok
}

// Next resolves the successor of id. With an empty label it follows the
// first unlabeled edge, falling back to the first edge. With a label it
// follows the first edge carrying that label and nothing else.
func (g *Graph) Next(id, label string) (string, bool) {
	out := g.out[id]
	if label == "" {
		for _, e := range out {
			if e.Label == "" {
				return e.Target, true
			}
		}
		if len(out) > 0 {
			return out[0].Target, true
		}
		return "", false
	}
	for _, e := range out {
		if e.Label == label {
			return e.Target, true
		}
	}
	return "", false
}

// String summarizes the graph for logs.
func (g *Graph) String() string {
	return fmt.Sprintf("graph(entry=%s nodes=%d edges=%d)", g.entry, len(g.nodes), len(g.edges))
}
