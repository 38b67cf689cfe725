package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/deskflow/pkg/schema"
)

func rawNode(id, typ string, data map[string]any) schema.RawNode {
	return schema.RawNode{ID: id, Type: typ, Data: data}
}

func TestConstruct_AllKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  schema.RawNode
		kind Kind
	}{
		{"input", rawNode("in", "input", nil), KindInput},
		{"input alias", rawNode("in", "inputNode", nil), KindInput},
		{"output", rawNode("out", "output", map[string]any{
			"outputs": []any{map[string]any{"name": "r", "value": "{x}"}},
		}), KindOutput},
		{"output alias", rawNode("out", "outputNode", nil), KindOutput},
		{"decision", rawNode("d", "decisionPoint", map[string]any{"condition": "a == 'b'"}), KindDecisionPoint},
		{"action", rawNode("a", "actionBlock", map[string]any{
			"description": "do {x}", "expected_output": "json", "agent_id": "ag",
		}), KindActionBlock},
		{"agent", rawNode("ag", "automationAgent", map[string]any{
			"role": "r", "goal": "g", "backstory": "b", "tools": []any{"file_read"},
		}), KindAutomationAgent},
		{"room", rawNode("r", "roomCreation", map[string]any{"room_name": "room-{id}"}), KindRoomCreation},
		{"escalation", rawNode("e", "escalationTrigger", map[string]any{"reason": "stuck"}), KindEscalationTrigger},
		{"verification", rawNode("v", "documentVerification", map[string]any{
			"document_path": "/docs/{id}.pdf", "verification_prompt": "check signature",
		}), KindDocumentVerification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Construct(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, n.Kind())
			assert.Equal(t, tt.raw.ID, n.ID())
		})
	}
}

func TestConstruct_DecodesFields(t *testing.T) {
	n, err := Construct(rawNode("a", "actionBlock", map[string]any{
		"label":           "Analyze",
		"description":     "Analyze {issue}",
		"expected_output": "A JSON report",
		"agent_id":        "analyst",
	}))
	require.NoError(t, err)
	ab, ok := n.(*ActionBlock)
	require.True(t, ok)
	assert.Equal(t, "Analyze", ab.Label())
	assert.Equal(t, "Analyze {issue}", ab.Description)
	assert.Equal(t, "A JSON report", ab.ExpectedOutput)
	assert.Equal(t, "analyst", ab.AgentID)

	n, err = Construct(rawNode("ag", "automationAgent", map[string]any{
		"role": "Analyst", "goal": "Find issues", "backstory": "Veteran", "tools": []any{"serper_dev", "file_read"},
	}))
	require.NoError(t, err)
	agent := n.(*AutomationAgent)
	assert.Equal(t, []string{"serper_dev", "file_read"}, agent.Tools)

	n, err = Construct(rawNode("out", "output", map[string]any{
		"outputs": []any{
			map[string]any{"name": "result", "value": "{output_a}"},
			map[string]any{"name": "", "value": "{x}"},
		},
	}))
	require.NoError(t, err)
	out := n.(*Output)
	require.Len(t, out.Outputs, 2)
	assert.Equal(t, OutputField{Name: "result", Value: "{output_a}"}, out.Outputs[0])

	n, err = Construct(rawNode("in", "input", map[string]any{
		"inputs":       []any{map[string]any{"name": "ticket_id", "type": "string"}},
		"input_schema": map[string]any{"type": "object"},
	}))
	require.NoError(t, err)
	in := n.(*Input)
	assert.Equal(t, []InputField{{Name: "ticket_id", Type: "string"}}, in.Inputs)
	assert.Equal(t, "object", in.Schema["type"])
}

func TestConstruct_TopLevelFields(t *testing.T) {
	raw := schema.RawNode{
		ID:     "d",
		Type:   "decisionPoint",
		Fields: map[string]any{"condition": "top == 'x'"},
	}
	n, err := Construct(raw)
	require.NoError(t, err)
	assert.Equal(t, "top == 'x'", n.(*DecisionPoint).Condition)

	raw.Data = map[string]any{"condition": "data == 'y'"}
	n, err = Construct(raw)
	require.NoError(t, err)
	assert.Equal(t, "data == 'y'", n.(*DecisionPoint).Condition, "data overrides top-level fields")
}

func TestConstruct_UnknownType(t *testing.T) {
	_, err := Construct(rawNode("x", "teleport", nil))
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeUnknownNodeType))
	assert.Contains(t, err.Error(), "teleport")
}

func TestConstruct_InvalidNode(t *testing.T) {
	tests := []struct {
		name  string
		raw   schema.RawNode
		field string
	}{
		{"missing condition", rawNode("d", "decisionPoint", nil), "condition"},
		{"non-string condition", rawNode("d", "decisionPoint", map[string]any{"condition": 3}), "condition"},
		{"blank room name", rawNode("r", "roomCreation", map[string]any{"room_name": "  "}), "room_name"},
		{"action without agent", rawNode("a", "actionBlock", map[string]any{
			"description": "d", "expected_output": "e",
		}), "agent_id"},
		{"bad tools shape", rawNode("ag", "automationAgent", map[string]any{
			"role": "r", "goal": "g", "backstory": "b", "tools": "file_read",
		}), "tools"},
		{"bad outputs shape", rawNode("out", "output", map[string]any{"outputs": map[string]any{"a": 1}}), "outputs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Construct(tt.raw)
			require.Error(t, err)
			var fe *schema.FlowError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, schema.ErrCodeInvalidNode, fe.Code)
			assert.Equal(t, tt.raw.ID, fe.NodeID)
			assert.Equal(t, tt.field, fe.Details["field"])
		})
	}
}

func TestConstruct_EmptyID(t *testing.T) {
	_, err := Construct(rawNode("", "input", nil))
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidNode))
}

func TestLookupAndKinds(t *testing.T) {
	k, ok := Lookup("outputNode")
	assert.True(t, ok)
	assert.Equal(t, KindOutput, k)

	_, ok = Lookup("nope")
	assert.False(t, ok)

	assert.Len(t, Kinds(), 8)
	assert.True(t, KindDecisionPoint.Branching())
	assert.True(t, KindDocumentVerification.Branching())
	assert.False(t, KindActionBlock.Branching())
	assert.Equal(t, "true", BranchLabel(true))
	assert.Equal(t, "false", BranchLabel(false))
}
