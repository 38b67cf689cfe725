// Package validation checks workflow graph documents before they are run:
// document shape via JSON Schema, graph construction, and lint warnings for
// suspicious but executable graphs.
package validation

// InputValidator checks initial inputs against an input node's JSON Schema.
// It is satisfied by *DocumentValidator and consumed by the interpreter.
type InputValidator interface {
	ValidateInputs(inputs map[string]any, inputSchema map[string]any) error
}

var _ InputValidator = (*DocumentValidator)(nil)
