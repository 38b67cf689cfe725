package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/deskflow/pkg/schema"
)

func TestQueryEngine_Query(t *testing.T) {
	q := NewQueryEngine()
	data := map[string]any{
		"status": "completed",
		"output": map[string]any{"result": "accepted", "tags": []any{"a", "b"}},
	}

	got, err := q.Query(context.Background(), ".output.result", data)
	require.NoError(t, err)
	assert.Equal(t, "accepted", got)

	got, err = q.Query(context.Background(), ".output.tags[]", data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	got, err = q.Query(context.Background(), "empty", data)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueryEngine_NormalizesTypedValues(t *testing.T) {
	type record struct {
		Name  string   `json:"name"`
		Tools []string `json:"tools"`
	}
	q := NewQueryEngine()
	got, err := q.Query(context.Background(), ".agent.tools | length", map[string]any{
		"agent": record{Name: "n", Tools: []string{"file_read", "serper_dev"}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, got)
}

func TestQueryEngine_Errors(t *testing.T) {
	q := NewQueryEngine()

	_, err := q.Query(context.Background(), "", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	_, err = q.Query(context.Background(), ".[", nil)
	assert.Contains(t, err.Error(), "jq parse error")

	_, err = q.Query(context.Background(), "error(\"boom\")", map[string]any{})
	assert.Contains(t, err.Error(), "boom")

	got, err := q.Query(context.Background(), "$ENV | length", map[string]any{})
	require.NoError(t, err)
	assert.EqualValues(t, 0, got, "environment is not exposed")
}

func TestQueryEngine_QueryAll(t *testing.T) {
	q := NewQueryEngine()
	got, err := q.QueryAll(context.Background(), ".a", map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, []any{1}, got)
}
