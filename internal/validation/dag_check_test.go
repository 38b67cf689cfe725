package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/pkg/schema"
)

func build(t *testing.T, ns []schema.RawNode, es []schema.RawEdge) *graph.Graph {
	t.Helper()
	g, err := graph.FromDefinition(context.Background(), schema.GraphDefinition{Nodes: ns, Edges: es}, nil)
	require.NoError(t, err)
	return g
}

func n(id, typ string, data map[string]any) schema.RawNode {
	return schema.RawNode{ID: id, Type: typ, Data: data}
}

func e(src, dst, handle string) schema.RawEdge {
	return schema.RawEdge{Source: src, Target: dst, SourceHandle: handle}
}

func TestLint_Unreachable(t *testing.T) {
	g := build(t,
		[]schema.RawNode{
			n("in", "input", nil),
			n("agent", "automationAgent", map[string]any{"role": "r", "goal": "g", "backstory": "b"}),
			n("out", "output", nil),
			n("orphan", "output", nil),
		},
		[]schema.RawEdge{e("in", "out", "")},
	)

	res := newGV(t).Lint(g)
	assert.True(t, res.Valid())
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnUnreachable, res.Warnings[0].Code)
	assert.Equal(t, "nodes[orphan]", res.Warnings[0].Path())
}

func TestLint_MissingBranchAndDeadEnd(t *testing.T) {
	g := build(t,
		[]schema.RawNode{
			n("in", "input", nil),
			n("dec", "decisionPoint", map[string]any{"condition": "True"}),
			n("room", "roomCreation", map[string]any{"room_name": "r"}),
			n("out", "output", nil),
		},
		[]schema.RawEdge{e("in", "dec", ""), e("dec", "room", "true")},
	)

	res := newGV(t).Lint(g)
	assert.True(t, res.Valid())
	assert.ElementsMatch(t, []string{WarnUnreachable, WarnMissingBranch, WarnDeadEnd}, codes(res.Warnings))
}

func TestLint_Cycle(t *testing.T) {
	g := build(t,
		[]schema.RawNode{
			n("in", "input", nil),
			n("dec", "decisionPoint", map[string]any{"condition": "context['done'] == true"}),
			n("room", "roomCreation", map[string]any{"room_name": "r"}),
			n("out", "output", nil),
		},
		[]schema.RawEdge{
			e("in", "dec", ""),
			e("dec", "out", "true"),
			e("dec", "room", "false"),
			e("room", "dec", ""),
		},
	)

	res := newGV(t).Lint(g)
	require.Equal(t, []string{WarnCycle}, codes(res.Warnings))
	assert.Contains(t, res.Warnings[0].Message, "[dec room]")
}

func TestFindCycle_Acyclic(t *testing.T) {
	g := build(t,
		[]schema.RawNode{
			n("in", "input", nil),
			n("dec", "decisionPoint", map[string]any{"condition": "True"}),
			n("a", "roomCreation", map[string]any{"room_name": "a"}),
			n("out", "output", nil),
		},
		[]schema.RawEdge{e("in", "dec", ""), e("dec", "a", "true"), e("dec", "out", "false"), e("a", "out", "")},
	)
	assert.Nil(t, findCycle(g, "in"))
}
