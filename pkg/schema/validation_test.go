package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocation_Path(t *testing.T) {
	tests := []struct {
		at   Location
		want string
	}{
		{Location{}, "/"},
		{AtNode("dec"), "nodes[dec]"},
		{AtField("dec", "condition"), "nodes[dec].condition"},
		{AtEdge(2), "edges[2]"},
		{Location{Field: "edges"}, "edges"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.at.Path())
		})
	}
}

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())
}

func TestValidationResult_AddError(t *testing.T) {
	r := &ValidationResult{}
	r.AddError(AtEdge(0), ErrCodeGraphValidation, "unknown node")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "edges[0]", r.Errors[0].Path())
	assert.Equal(t, ErrCodeGraphValidation, r.Errors[0].Code)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_WarningsStayValid(t *testing.T) {
	r := &ValidationResult{}
	r.AddWarning(AtNode("orphan"), "UNREACHABLE_NODE", "unreachable")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
	assert.Equal(t, "orphan", r.Warnings[0].NodeID)
}

func TestValidationIssue_JSON(t *testing.T) {
	r := &ValidationResult{}
	r.AddError(AtField("room", "room_name"), ErrCodeInvalidNode, "missing")
	r.AddError(AtEdge(3), ErrCodeGraphValidation, "dangling")

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"errors":[
		{"node_id":"room","field":"room_name","code":"INVALID_NODE","message":"missing","severity":"error"},
		{"edge":3,"code":"GRAPH_VALIDATION","message":"dangling","severity":"error"}
	]}`, string(b))
}

func TestValidationResult_AddFlowError(t *testing.T) {
	t.Run("node error located on node", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddFlowError(Location{}, NewError(ErrCodeInvalidNode, "condition is required").WithNode("d"))
		require.Len(t, r.Errors, 1)
		assert.Equal(t, "nodes[d]", r.Errors[0].Path())
		assert.Equal(t, ErrCodeInvalidNode, r.Errors[0].Code)
	})

	t.Run("field detail narrows node", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddFlowError(Location{}, NewError(ErrCodeInvalidNode, "room_name is required").
			WithNode("room").
			WithDetails(map[string]any{"field": "room_name"}))
		assert.Equal(t, "nodes[room].room_name", r.Errors[0].Path())
	})

	t.Run("edge detail located on edge", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddFlowError(Location{}, NewError(ErrCodeGraphValidation, "dangling").
			WithDetails(map[string]any{"edge": 4, "target": "ghost"}))
		require.Len(t, r.Errors, 1)
		assert.Equal(t, "edges[4]", r.Errors[0].Path())
	})

	t.Run("violations split", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddFlowError(Location{}, NewError(ErrCodeValidation, "2 violations").
			WithDetails(map[string]any{"violations": []string{"a", "b"}}))
		require.Len(t, r.Errors, 2)
		assert.Equal(t, "a", r.Errors[0].Message)
		assert.Equal(t, "/", r.Errors[1].Path())
	})

	t.Run("wrapped flow error", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddFlowError(Location{}, fmt.Errorf("build: %w", NewError(ErrCodeUnknownNodeType, "bad type").WithNode("x")))
		require.Len(t, r.Errors, 1)
		assert.Equal(t, ErrCodeUnknownNodeType, r.Errors[0].Code)
		assert.Equal(t, "x", r.Errors[0].NodeID)
	})

	t.Run("plain error", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddFlowError(AtField("", "document"), errors.New("unexpected EOF"))
		require.Len(t, r.Errors, 1)
		assert.Equal(t, ErrCodeGraphValidation, r.Errors[0].Code)
		assert.Equal(t, "document", r.Errors[0].Path())
	})
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError(Location{}, ErrCodeGraphValidation, "err1")
	r2 := &ValidationResult{}
	r2.AddError(AtNode("a"), ErrCodeInvalidNode, "err2")
	r2.AddWarning(AtNode("b"), ErrCodeGraphValidation, "warn")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
}

func TestValidationResult_ToError(t *testing.T) {
	t.Run("single error keeps message and node", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddError(AtField("room", "room_name"), ErrCodeInvalidNode, "room_name is required")

		err := r.ToError()
		require.Error(t, err)
		var fe *FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, ErrCodeInvalidNode, fe.Code)
		assert.Equal(t, "room_name is required", fe.Message)
		assert.Equal(t, "room", fe.NodeID)
		assert.True(t, IsGraphValidation(err))
	})

	t.Run("errors on one node name it", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddError(AtNode("dec"), ErrCodeInvalidNode, "a")
		r.AddError(AtField("dec", "condition"), ErrCodeInvalidNode, "b")

		var fe *FlowError
		require.ErrorAs(t, r.ToError(), &fe)
		assert.Equal(t, "dec", fe.NodeID)
		assert.Contains(t, fe.Message, "2 errors, first at nodes[dec]: a")
	})

	t.Run("errors across nodes stay unattributed", func(t *testing.T) {
		r := &ValidationResult{}
		r.AddError(Location{}, ErrCodeGraphValidation, "graph has no output node")
		r.AddError(AtEdge(1), ErrCodeGraphValidation, "dangling")
		r.AddWarning(AtNode("x"), "DEAD_END", "w")

		var fe *FlowError
		require.ErrorAs(t, r.ToError(), &fe)
		assert.Empty(t, fe.NodeID)
		assert.Equal(t, ErrCodeGraphValidation, fe.Code)
		assert.Equal(t, 2, fe.Details["error_count"])
		assert.Equal(t, 1, fe.Details["warning_count"])
	})
}
