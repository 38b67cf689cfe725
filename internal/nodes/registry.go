package nodes

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/rendis/deskflow/pkg/schema"
)

// constructor builds a concrete node from the merged raw fields.
type constructor func(f fields) (Node, error)

// registry maps each type tag to its constructor. It is populated by its
// declaration and never written afterwards.
var registry = map[Kind]constructor{
	KindInput:                newInput,
	KindOutput:               newOutput,
	KindDecisionPoint:        newDecisionPoint,
	KindActionBlock:          newActionBlock,
	KindAutomationAgent:      newAutomationAgent,
	KindRoomCreation:         newRoomCreation,
	KindEscalationTrigger:    newEscalationTrigger,
	KindDocumentVerification: newDocumentVerification,
}

// aliases are legacy tags emitted by older designer versions.
var aliases = map[string]Kind{
	"inputNode":  KindInput,
	"outputNode": KindOutput,
}

// Lookup resolves a type tag (or one of its aliases) to a Kind.
func Lookup(tag string) (Kind, bool) {
	if k, ok := aliases[tag]; ok {
		return k, true
	}
	k := Kind(tag)
	_, ok := registry[k]
	return k, ok
}

// Kinds returns all registered kinds, sorted.
func Kinds() []Kind {
	out := make([]Kind, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Construct decodes a raw node record into its concrete kind, validating
// that every field the kind requires is present.
func Construct(raw schema.RawNode) (Node, error) {
	if strings.TrimSpace(raw.ID) == "" {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidNode, "node of type %q has empty id", raw.Type).
			WithDetails(map[string]any{"field": "id"})
	}
	kind, ok := Lookup(raw.Type)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "unknown node type %q", raw.Type).
			WithNode(raw.ID).
			WithDetails(map[string]any{"type": raw.Type, "known_types": Kinds()})
	}

	merged := raw.Merged()
	label, _ := merged["label"].(string)
	return registry[kind](fields{
		base: NewBase(raw.ID, label),
		kind: kind,
		m:    merged,
	})
}

// fields gives constructors typed access to a node's merged raw fields.
type fields struct {
	base Base
	kind Kind
	m    map[string]any
}

func (f fields) invalid(field, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeInvalidNode, format, args...).
		WithNode(f.base.ID()).
		WithDetails(map[string]any{"field": field, "type": string(f.kind)})
}

// str returns a required string field. Missing, non-string and blank values fail.
func (f fields) str(name string) (string, error) {
	v, ok := f.m[name]
	if !ok || v == nil {
		return "", f.invalid(name, "%s node is missing required field %q", f.kind, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", f.invalid(name, "%s node field %q must be a string, got %T", f.kind, name, v)
	}
	if strings.TrimSpace(s) == "" {
		return "", f.invalid(name, "%s node field %q must not be empty", f.kind, name)
	}
	return s, nil
}

// decode converts an optional field into target through its JSON form.
// A missing field leaves target untouched.
func (f fields) decode(name string, target any) error {
	v, ok := f.m[name]
	if !ok || v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return f.invalid(name, "%s node field %q is not serializable: %s", f.kind, name, err.Error())
	}
	if err := json.Unmarshal(b, target); err != nil {
		return f.invalid(name, "%s node field %q has the wrong shape: %s", f.kind, name, err.Error())
	}
	return nil
}

// strs fetches several required string fields at once.
func (f fields) strs(names ...string) ([]string, error) {
	out := make([]string, len(names))
	for i, name := range names {
		s, err := f.str(name)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func newInput(f fields) (Node, error) {
	n := &Input{Base: f.base}
	if err := f.decode("inputs", &n.Inputs); err != nil {
		return nil, err
	}
	if err := f.decode("input_schema", &n.Schema); err != nil {
		return nil, err
	}
	return n, nil
}

func newOutput(f fields) (Node, error) {
	n := &Output{Base: f.base}
	if err := f.decode("outputs", &n.Outputs); err != nil {
		return nil, err
	}
	return n, nil
}

func newDecisionPoint(f fields) (Node, error) {
	cond, err := f.str("condition")
	if err != nil {
		return nil, err
	}
	return &DecisionPoint{Base: f.base, Condition: cond}, nil
}

func newActionBlock(f fields) (Node, error) {
	v, err := f.strs("description", "expected_output", "agent_id")
	if err != nil {
		return nil, err
	}
	return &ActionBlock{Base: f.base, Description: v[0], ExpectedOutput: v[1], AgentID: v[2]}, nil
}

func newAutomationAgent(f fields) (Node, error) {
	v, err := f.strs("role", "goal", "backstory")
	if err != nil {
		return nil, err
	}
	n := &AutomationAgent{Base: f.base, Role: v[0], Goal: v[1], Backstory: v[2]}
	if err := f.decode("tools", &n.Tools); err != nil {
		return nil, err
	}
	return n, nil
}

func newRoomCreation(f fields) (Node, error) {
	name, err := f.str("room_name")
	if err != nil {
		return nil, err
	}
	return &RoomCreation{Base: f.base, RoomName: name}, nil
}

func newEscalationTrigger(f fields) (Node, error) {
	reason, err := f.str("reason")
	if err != nil {
		return nil, err
	}
	return &EscalationTrigger{Base: f.base, Reason: reason}, nil
}

func newDocumentVerification(f fields) (Node, error) {
	v, err := f.strs("document_path", "verification_prompt")
	if err != nil {
		return nil, err
	}
	return &DocumentVerification{Base: f.base, DocumentPath: v[0], VerificationPrompt: v[1]}, nil
}
