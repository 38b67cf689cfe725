package schema

import "encoding/json"

// GraphDefinition is the JSON-serializable workflow graph as produced by the
// designer: an unordered list of node records and a list of edge records.
type GraphDefinition struct {
	Nodes []RawNode `json:"nodes"`
	Edges []RawEdge `json:"edges"`
}

// RawNode is an undecoded node record. Besides id, type and the optional data
// object, a record may carry kind-specific fields at the top level; those are
// kept in Fields so the node registry can see them.
type RawNode struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Data   map[string]any `json:"data,omitempty"`
	Fields map[string]any `json:"-"`
}

// RawEdge is an undecoded edge record. SourceHandle carries the branch label
// ("true"/"false") for edges leaving decision-capable nodes.
type RawEdge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// RunRequest is an ad-hoc execution request: a graph plus initial context.
type RunRequest struct {
	Nodes         []RawNode      `json:"nodes"`
	Edges         []RawEdge      `json:"edges"`
	InitialInputs map[string]any `json:"initial_inputs,omitempty"`
}

// Graph returns the graph portion of the request.
func (r RunRequest) Graph() GraphDefinition {
	return GraphDefinition{Nodes: r.Nodes, Edges: r.Edges}
}

// Merged returns the node's fields with the data object laid over the
// top-level fields. Keys present in both take the data value.
func (n RawNode) Merged() map[string]any {
	out := make(map[string]any, len(n.Fields)+len(n.Data))
	for k, v := range n.Fields {
		out[k] = v
	}
	for k, v := range n.Data {
		out[k] = v
	}
	return out
}

// UnmarshalJSON decodes id, type and data, and keeps every other top-level
// key in Fields.
func (n *RawNode) UnmarshalJSON(b []byte) error {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}

	*n = RawNode{}
	for k, raw := range all {
		switch k {
		case "id":
			if err := json.Unmarshal(raw, &n.ID); err != nil {
				return NewErrorf(ErrCodeGraphValidation, "node id must be a string: %s", err.Error()).WithCause(err)
			}
		case "type":
			if err := json.Unmarshal(raw, &n.Type); err != nil {
				return NewErrorf(ErrCodeGraphValidation, "node type must be a string: %s", err.Error()).WithCause(err)
			}
		case "data":
			if string(raw) == "null" {
				continue
			}
			if err := json.Unmarshal(raw, &n.Data); err != nil {
				return NewErrorf(ErrCodeGraphValidation, "node data must be an object: %s", err.Error()).WithCause(err)
			}
		default:
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			if n.Fields == nil {
				n.Fields = make(map[string]any)
			}
			n.Fields[k] = v
		}
	}
	return nil
}

// MarshalJSON writes Fields back at the top level next to id, type and data.
func (n RawNode) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Fields)+3)
	for k, v := range n.Fields {
		out[k] = v
	}
	out["id"] = n.ID
	out["type"] = n.Type
	if len(n.Data) > 0 {
		out["data"] = n.Data
	}
	return json.Marshal(out)
}
