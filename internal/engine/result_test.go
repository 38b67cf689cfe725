package engine

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/deskflow/pkg/schema"
)

func TestParseResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"object", `{"result":"hi"}`, map[string]any{"result": "hi"}},
		{"array", `[1,"a"]`, []any{float64(1), "a"}},
		{"number", `42`, float64(42)},
		{"surrounding whitespace", "  {\"a\":true}\n", map[string]any{"a": true}},
		{"fenced json kept verbatim", "```json\n{\"result\":\"hi\"}\n```", "```json\n{\"result\":\"hi\"}\n```"},
		{"prose", "The customer was refunded.", "The customer was refunded."},
		{"empty", "", ""},
		{"fence around prose", "```\nhello\n```", "```\nhello\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseResult(tt.raw))
		})
	}
}

func TestParseFencedResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"plain json", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"fence without tag", "```\n{\"a\":1}\n```", map[string]any{"a": float64(1)}},
		{"fence with tag", "```json\n[true]\n```", []any{true}},
		{"fence around prose", "```\nhello\n```", "```\nhello\n```"},
		{"prose", "done", "done"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseFencedResult(tt.raw))
		})
	}
}

func TestStripCodeFence(t *testing.T) {
	assert.Equal(t, "plain", stripCodeFence("plain"))
	assert.Equal(t, "```", stripCodeFence("```"))
	assert.Equal(t, "{\"a\":1}\n", stripCodeFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, "{\"a\":1}", stripCodeFence("```{\"a\":1}```"))
}

func TestResult_JSON(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	res := &Result{
		RunID:       "r1",
		Status:      schema.RunStatusTerminated,
		Context:     map[string]any{"k": "v"},
		Path:        []string{"in", "dec"},
		Steps:       2,
		StartedAt:   start,
		CompletedAt: start.Add(1500 * time.Millisecond),
	}
	assert.Equal(t, 1500*time.Millisecond, res.Duration())

	b, err := json.Marshal(res)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "terminated", m["status"])
	assert.Equal(t, map[string]any{"k": "v"}, m["final_context"])
	assert.NotContains(t, m, "output")
	assert.NotContains(t, m, "error")
}
