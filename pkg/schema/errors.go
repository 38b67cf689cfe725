package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeGraphValidation    = "GRAPH_VALIDATION"
	ErrCodeUnknownNodeType    = "UNKNOWN_NODE_TYPE"
	ErrCodeInvalidNode        = "INVALID_NODE"
	ErrCodeTemplateResolution = "TEMPLATE_RESOLUTION"
	ErrCodeCondition          = "CONDITION_ERROR"
	ErrCodeProvider           = "PROVIDER_ERROR"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeCancelled          = "CANCELLED"
	ErrCodeStepLimit          = "STEP_LIMIT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeValidation         = "VALIDATION_ERROR"
)

// FlowError is the structured error type for all deskflow operations.
type FlowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *FlowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *FlowError) WithNode(nodeID string) *FlowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// HasCode reports whether err is (or wraps) a FlowError with the given code.
func HasCode(err error, code string) bool {
	var fe *FlowError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Code == code
}

// IsGraphValidation reports whether err was raised while constructing a graph:
// an unknown node type, a node missing a required field, or a structural defect.
// Such errors are never retried; the graph definition has to be fixed.
func IsGraphValidation(err error) bool {
	return HasCode(err, ErrCodeGraphValidation) ||
		HasCode(err, ErrCodeUnknownNodeType) ||
		HasCode(err, ErrCodeInvalidNode)
}
