package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowError_Error(t *testing.T) {
	assert.Equal(t, "[INVALID_NODE] node a1: missing field", NewError(ErrCodeInvalidNode, "missing field").WithNode("a1").Error())
	assert.Equal(t, "[GRAPH_VALIDATION] no input", NewError(ErrCodeGraphValidation, "no input").Error())
}

func TestFlowError_UnwrapAndCodes(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewError(ErrCodeProvider, "call failed").WithCause(cause))

	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, ErrCodeProvider))
	assert.False(t, HasCode(err, ErrCodeStore))
	assert.False(t, IsGraphValidation(err))
	assert.False(t, HasCode(cause, ErrCodeProvider))
}

func TestIsGraphValidation(t *testing.T) {
	for _, code := range []string{ErrCodeGraphValidation, ErrCodeUnknownNodeType, ErrCodeInvalidNode} {
		assert.True(t, IsGraphValidation(NewError(code, "x")), code)
	}
	assert.False(t, IsGraphValidation(NewError(ErrCodeTemplateResolution, "x")))
}
