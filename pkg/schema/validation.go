package schema

import (
	"errors"
	"fmt"
)

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// Location pins an issue to a node, a node field or an edge of a graph
// document. The zero Location is the document as a whole.
type Location struct {
	NodeID string `json:"node_id,omitempty"`
	Field  string `json:"field,omitempty"`
	Edge   *int   `json:"edge,omitempty"`
}

// AtNode locates an issue on a node.
func AtNode(id string) Location { return Location{NodeID: id} }

// AtField locates an issue on one field of a node.
func AtField(id, field string) Location { return Location{NodeID: id, Field: field} }

// AtEdge locates an issue on the edge at index in declaration order.
func AtEdge(index int) Location { return Location{Edge: &index} }

// Path renders the location as nodes[id].field, edges[i], a bare section
// name, or "/" for the document.
func (l Location) Path() string {
	switch {
	case l.NodeID != "" && l.Field != "":
		return fmt.Sprintf("nodes[%s].%s", l.NodeID, l.Field)
	case l.NodeID != "":
		return fmt.Sprintf("nodes[%s]", l.NodeID)
	case l.Edge != nil:
		return fmt.Sprintf("edges[%d]", *l.Edge)
	case l.Field != "":
		return l.Field
	}
	return "/"
}

// ValidationIssue is a single problem found in a graph document.
type ValidationIssue struct {
	Location
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates all issues found while checking a graph document.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether the graph can be run. Warnings do not count.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(at Location, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Location: at, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(at Location, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Location: at, Code: code, Message: message, Severity: SeverityWarning})
}

// AddFlowError records err as one or more errors. A FlowError naming a node,
// optionally with a "field" detail, or carrying an "edge" detail is located
// there instead of at. Schema violations listed under "violations" become
// one issue each.
func (r *ValidationResult) AddFlowError(at Location, err error) {
	var fe *FlowError
	if !errors.As(err, &fe) {
		r.AddError(at, ErrCodeGraphValidation, err.Error())
		return
	}
	if fe.NodeID != "" {
		at = AtNode(fe.NodeID)
		if field, ok := fe.Details["field"].(string); ok {
			at.Field = field
		}
	} else if i, ok := fe.Details["edge"].(int); ok {
		at = AtEdge(i)
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			r.AddError(at, fe.Code, v)
		}
		return
	}
	r.AddError(at, fe.Code, fe.Message)
}

func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts an invalid result to a FlowError carrying the first
// error's code, or nil when valid. When every error sits on the same node
// the FlowError names it.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := first.Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("graph has %d errors, first at %s: %s", len(r.Errors), first.Path(), first.Message)
	}

	fe := NewError(first.Code, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
	if node := r.commonNode(); node != "" {
		fe = fe.WithNode(node)
	}
	return fe
}

func (r *ValidationResult) commonNode() string {
	node := r.Errors[0].NodeID
	for _, issue := range r.Errors[1:] {
		if issue.NodeID != node {
			return ""
		}
	}
	return node
}
