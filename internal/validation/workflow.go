package validation

import (
	"context"
	"log/slog"

	"github.com/rendis/deskflow/internal/expressions"
	"github.com/rendis/deskflow/internal/graph"
	"github.com/rendis/deskflow/internal/provider"
	"github.com/rendis/deskflow/pkg/schema"
)

// GraphValidator orchestrates the validation pipeline:
//  1. Structural (JSON Schema over the document)
//  2. Construction (node registry and graph index)
//  3. Lint (topology and node payload warnings)
type GraphValidator struct {
	documents  *DocumentValidator
	conditions *expressions.ConditionEvaluator
	resolver   provider.ActorResolver
}

// NewGraphValidator creates a GraphValidator. resolver may be nil.
func NewGraphValidator(resolver provider.ActorResolver, logger *slog.Logger) (*GraphValidator, error) {
	dv, err := NewDocumentValidator()
	if err != nil {
		return nil, err
	}
	return &GraphValidator{
		documents:  dv,
		conditions: expressions.NewConditionEvaluator(logger),
		resolver:   resolver,
	}, nil
}

// Documents exposes the underlying DocumentValidator, e.g. as the
// interpreter's input validator.
func (gv *GraphValidator) Documents() *DocumentValidator {
	return gv.documents
}

// Validate runs the pipeline over a JSON or YAML document. The graph is
// returned when construction succeeded, even if lint produced warnings.
// Structural errors short-circuit the later stages.
func (gv *GraphValidator) Validate(ctx context.Context, data []byte, format string) (*graph.Graph, *schema.ValidationResult) {
	result := &schema.ValidationResult{}

	raw, err := schema.NormalizeDocument(data, format)
	if err != nil {
		result.AddFlowError(schema.Location{}, err)
		return nil, result
	}
	if err := gv.documents.ValidateDocument(raw); err != nil {
		result.AddFlowError(schema.Location{}, err)
		return nil, result
	}

	def, err := schema.DecodeGraph(raw, schema.FormatJSON)
	if err != nil {
		result.AddFlowError(schema.Location{}, err)
		return nil, result
	}
	return gv.ValidateDefinition(ctx, *def, result)
}

// ValidateDefinition runs construction and lint over an already decoded
// definition, merging into prior when it is non-nil.
func (gv *GraphValidator) ValidateDefinition(ctx context.Context, def schema.GraphDefinition, prior *schema.ValidationResult) (*graph.Graph, *schema.ValidationResult) {
	result := prior
	if result == nil {
		result = &schema.ValidationResult{}
	}

	g, err := graph.FromDefinition(ctx, def, gv.resolver)
	if err != nil {
		result.AddFlowError(schema.Location{}, err)
		return nil, result
	}
	result.Merge(gv.Lint(g))
	return g, result
}

// Lint returns warnings for a built graph. It never reports errors.
func (gv *GraphValidator) Lint(g *graph.Graph) *schema.ValidationResult {
	result := checkTopology(g)
	result.Merge(checkNodes(g, gv.conditions))
	return result
}
