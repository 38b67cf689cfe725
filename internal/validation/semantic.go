package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/deskflow/internal/engine"
	"github.com/rendis/deskflow/internal/expressions"
	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/internal/nodes"
	"github.com/rendis/deskflow/pkg/schema"
)

// checkNodes inspects node payloads: conditions the sandbox would reject
// (they always evaluate false at run time) and template placeholders naming
// keys that neither the declared inputs nor any node can provide.
func checkNodes(g *graph.Graph, conditions *expressions.ConditionEvaluator) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	known, open := knownKeys(g)

	for _, n := range g.Nodes() {
		if dp, ok := n.(*nodes.DecisionPoint); ok {
			if err := conditions.Check(dp.Condition); err != nil {
				result.AddWarning(schema.AtField(n.ID(), "condition"), WarnCondition,
					fmt.Sprintf("condition %q always evaluates false: %s", dp.Condition, err.Error()))
			}
		}

		if open {
			continue
		}
		for field, tmpl := range templates(n) {
			for _, key := range expressions.Placeholders(tmpl) {
				if !known[key] {
					result.AddWarning(schema.AtField(n.ID(), field), WarnUnknownKey,
						fmt.Sprintf("placeholder {%s} is not a declared input or node output", key))
				}
			}
		}
	}
	return result
}

// knownKeys lists context keys a run can be expected to hold. When the input
// node declares no inputs, any key may be supplied and open is true.
func knownKeys(g *graph.Graph) (known map[string]bool, open bool) {
	known = map[string]bool{engine.EscalationKey: true}
	input, ok := g.Entry().(*nodes.Input)
	if !ok || (len(input.Inputs) == 0 && len(input.Schema) == 0) {
		return known, true
	}
	for _, f := range input.Inputs {
		known[f.Name] = true
	}
	if props, ok := input.Schema["properties"].(map[string]any); ok {
		for name := range props {
			known[name] = true
		}
	}
	for _, n := range g.Nodes() {
		switch n.(type) {
		case *nodes.ActionBlock, *nodes.DocumentVerification, *nodes.RoomCreation:
			known["output_"+n.ID()] = true
		}
	}
	return known, false
}

// templates returns the templated fields of n keyed by field name.
func templates(n nodes.Node) map[string]string {
	switch node := n.(type) {
	case *nodes.ActionBlock:
		return map[string]string{"description": node.Description, "expected_output": node.ExpectedOutput}
	case *nodes.DocumentVerification:
		return map[string]string{"document_path": node.DocumentPath}
	case *nodes.RoomCreation:
		return map[string]string{"room_name": node.RoomName}
	case *nodes.EscalationTrigger:
		return map[string]string{"reason": node.Reason}
	case *nodes.Output:
		out := make(map[string]string, len(node.Outputs))
		for _, pair := range node.Outputs {
			if strings.TrimSpace(pair.Name) != "" {
				out["outputs."+pair.Name] = pair.Value
			}
		}
		return out
	default:
		return nil
	}
}
