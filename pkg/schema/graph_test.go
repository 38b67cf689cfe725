package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawNode_UnmarshalKeepsTopLevelFields(t *testing.T) {
	raw := `{"id":"a1","type":"actionBlock","agent_id":"ag","description":"do {x}","data":{"label":"Act","description":"override"}}`

	var n RawNode
	require.NoError(t, json.Unmarshal([]byte(raw), &n))

	assert.Equal(t, "a1", n.ID)
	assert.Equal(t, "actionBlock", n.Type)
	assert.Equal(t, "ag", n.Fields["agent_id"])
	assert.Equal(t, "Act", n.Data["label"])

	merged := n.Merged()
	assert.Equal(t, "override", merged["description"], "data wins over top-level")
	assert.Equal(t, "ag", merged["agent_id"])
}

func TestRawNode_RejectsNonStringID(t *testing.T) {
	var n RawNode
	err := json.Unmarshal([]byte(`{"id":7,"type":"input"}`), &n)
	require.Error(t, err)
	assert.True(t, IsGraphValidation(err))
}

func TestRawNode_MarshalRoundTripsFields(t *testing.T) {
	n := RawNode{ID: "r", Type: "roomCreation", Fields: map[string]any{"room_name": "room-{ticket_id}"}}

	b, err := json.Marshal(n)
	require.NoError(t, err)

	var back RawNode
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, n.ID, back.ID)
	assert.Equal(t, "room-{ticket_id}", back.Fields["room_name"])
	assert.Nil(t, back.Data)
}

func TestDecodeGraph_YAMLMatchesJSON(t *testing.T) {
	jsonDoc := `{"nodes":[{"id":"in","type":"input"},{"id":"out","type":"output","outputs":[{"name":"s","value":"ok"}]}],
		"edges":[{"source":"in","target":"out"}]}`
	yamlDoc := `
nodes:
  - id: in
    type: input
  - id: out
    type: output
    outputs:
      - name: s
        value: ok
edges:
  - source: in
    target: out
`
	fromJSON, err := DecodeGraph([]byte(jsonDoc), FormatJSON)
	require.NoError(t, err)
	fromYAML, err := DecodeGraph([]byte(yamlDoc), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromYAML)
	require.Len(t, fromYAML.Edges, 1)
	assert.Equal(t, "out", fromYAML.Edges[0].Target)
}

func TestDecodeGraph_Errors(t *testing.T) {
	_, err := DecodeGraph([]byte("nodes: [unclosed"), FormatYAML)
	assert.True(t, IsGraphValidation(err))

	_, err = DecodeGraph([]byte(`{}`), "toml")
	assert.True(t, HasCode(err, ErrCodeValidation))
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("flows/sla.YML"))
	assert.Equal(t, FormatYAML, FormatFromPath("sla.yaml"))
	assert.Equal(t, FormatJSON, FormatFromPath("sla.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("sla"))
}
