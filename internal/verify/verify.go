// Package verify decides whether a document passes a verification prompt.
package verify

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/rendis/deskflow/pkg/schema"
)

// Verifier judges a document against a verification prompt.
type Verifier interface {
	Verify(ctx context.Context, document, prompt string) (bool, error)
}

// DefaultKeyword is the term KeywordVerifier looks for when none is set.
const DefaultKeyword = "signature"

// KeywordVerifier passes when the prompt mentions Keyword, ignoring case.
type KeywordVerifier struct {
	Keyword string
}

// Verify implements Verifier.
func (v KeywordVerifier) Verify(_ context.Context, _ string, prompt string) (bool, error) {
	kw := v.Keyword
	if kw == "" {
		kw = DefaultKeyword
	}
	return strings.Contains(strings.ToLower(prompt), strings.ToLower(kw)), nil
}

// CELVerifier evaluates a boolean CEL policy with the string variables
// document and prompt in scope, e.g.
//
//	document.endsWith(".pdf") && prompt.contains("signature")
//
// Thread-safe: the policy is compiled once at construction.
type CELVerifier struct {
	policy string
	prg    cel.Program
}

// NewCELVerifier compiles policy. It fails if the policy does not type-check
// to a boolean.
func NewCELVerifier(policy string) (*CELVerifier, error) {
	if strings.TrimSpace(policy) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL verification policy")
	}
	env, err := cel.NewEnv(
		cel.Variable("document", cel.StringType),
		cel.Variable("prompt", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	ast, issues := env.Compile(policy)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", policy, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": policy})
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL policy %q must return bool, got %s", policy, ast.OutputType().String())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", policy, err.Error()).
			WithCause(err)
	}
	return &CELVerifier{policy: policy, prg: prg}, nil
}

// Verify implements Verifier.
func (v *CELVerifier) Verify(ctx context.Context, document, prompt string) (bool, error) {
	out, _, err := v.prg.ContextEval(ctx, map[string]any{
		"document": document,
		"prompt":   prompt,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate verification policy %q: %w", v.policy, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("verification policy %q returned %T", v.policy, out.Value())
	}
	return ok, nil
}

// Policy returns the source of the compiled policy.
func (v *CELVerifier) Policy() string { return v.policy }

// FromPolicy builds a verifier from a configuration string. An empty string
// or "keyword" selects KeywordVerifier with the default keyword,
// "keyword:<term>" sets the term, and "cel:<expr>" compiles a CEL policy.
func FromPolicy(policy string) (Verifier, error) {
	switch {
	case policy == "" || policy == "keyword":
		return KeywordVerifier{}, nil
	case strings.HasPrefix(policy, "keyword:"):
		return KeywordVerifier{Keyword: strings.TrimPrefix(policy, "keyword:")}, nil
	case strings.HasPrefix(policy, "cel:"):
		return NewCELVerifier(strings.TrimPrefix(policy, "cel:"))
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown verification policy %q; use keyword, keyword:<term> or cel:<expr>", policy)
	}
}
