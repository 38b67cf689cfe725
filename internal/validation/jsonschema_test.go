package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/deskflow/pkg/schema"
)

func newDV(t *testing.T) *DocumentValidator {
	t.Helper()
	dv, err := NewDocumentValidator()
	require.NoError(t, err)
	return dv
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"valid", `{"nodes":[{"id":"in","type":"input"}],"edges":[]}`, ""},
		{"extra node fields allowed", `{"nodes":[{"id":"in","type":"input","position":{"x":1},"label":"Start"}],"edges":[]}`, ""},
		{"null handle", `{"nodes":[{"id":"a","type":"input"}],"edges":[{"source":"a","target":"b","sourceHandle":null}]}`, ""},
		{"missing edges", `{"nodes":[{"id":"in","type":"input"}]}`, "edges"},
		{"empty nodes", `{"nodes":[],"edges":[]}`, "/nodes"},
		{"node without type", `{"nodes":[{"id":"in"}],"edges":[]}`, "/nodes/0"},
		{"empty id", `{"nodes":[{"id":"","type":"input"}],"edges":[]}`, "/nodes/0/id"},
		{"edge without target", `{"nodes":[{"id":"in","type":"input"}],"edges":[{"source":"in"}]}`, "/edges/0"},
		{"data not object", `{"nodes":[{"id":"in","type":"input","data":"x"}],"edges":[]}`, "/nodes/0/data"},
		{"not json", `{nodes:`, "not valid JSON"},
	}
	dv := newDV(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := dv.ValidateDocument([]byte(tt.doc))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, schema.ErrCodeGraphValidation))
			fe := err.(*schema.FlowError)
			assert.Contains(t, fe.Message+" "+joinViolations(fe), tt.wantErr)
		})
	}
}

func joinViolations(fe *schema.FlowError) string {
	v, _ := fe.Details["violations"].([]string)
	out := ""
	for _, s := range v {
		out += s + " "
	}
	return out
}

func TestValidateInputs(t *testing.T) {
	dv := newDV(t)
	ticketSchema := map[string]any{
		"type":     "object",
		"required": []any{"ticket_id"},
		"properties": map[string]any{
			"ticket_id": map[string]any{"type": "integer"},
			"email":     map[string]any{"type": "string", "format": "email"},
		},
	}

	assert.NoError(t, dv.ValidateInputs(map[string]any{"ticket_id": 42}, ticketSchema))
	assert.NoError(t, dv.ValidateInputs(map[string]any{"anything": true}, nil))

	err := dv.ValidateInputs(map[string]any{}, ticketSchema)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = dv.ValidateInputs(nil, ticketSchema)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))

	err = dv.ValidateInputs(map[string]any{"ticket_id": "x", "email": "nope"}, ticketSchema)
	require.Error(t, err)
	fe := err.(*schema.FlowError)
	assert.Contains(t, fe.Message, "2 errors")
}

func TestValidateInputs_BadSchema(t *testing.T) {
	err := newDV(t).ValidateInputs(map[string]any{}, map[string]any{"type": 12})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input schema")
}

func TestValidateInputs_CacheConcurrent(t *testing.T) {
	dv := newDV(t)
	s := map[string]any{"type": "object", "required": []any{"k"}}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, dv.ValidateInputs(map[string]any{"k": 1}, s))
		}()
	}
	wg.Wait()
	assert.Len(t, dv.cache, 1)
}
