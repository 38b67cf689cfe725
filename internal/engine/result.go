package engine

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rendis/deskflow/pkg/schema"
)

// Result is the outcome of a run. Completed runs carry Output; terminated
// runs carry the full Context for diagnosis; failed runs carry Error.
type Result struct {
	RunID       string            `json:"run_id"`
	Status      schema.RunStatus  `json:"status"`
	Output      map[string]any    `json:"output,omitempty"`
	Context     map[string]any    `json:"final_context,omitempty"`
	Path        []string          `json:"path"`
	Steps       int               `json:"steps"`
	Error       *schema.FlowError `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}

// Duration returns the wall time of the run.
func (r *Result) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// ParseResult interprets provider text. Valid JSON is decoded into a
// structured value; anything else, fenced JSON included, is returned as the
// original string.
func ParseResult(raw string) any {
	if v, ok := decodeJSON(raw); ok {
		return v
	}
	return raw
}

// ParseFencedResult is ParseResult that also accepts JSON wrapped in a
// Markdown code fence.
func ParseFencedResult(raw string) any {
	if v, ok := decodeJSON(raw); ok {
		return v
	}
	if v, ok := decodeJSON(stripCodeFence(raw)); ok {
		return v
	}
	return raw
}

func decodeJSON(text string) (any, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	return v, true
}

// stripCodeFence removes a surrounding ``` fence and its language tag.
func stripCodeFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return s
	}
	t = strings.TrimSuffix(strings.TrimPrefix(t, "```"), "```")
	if nl := strings.IndexByte(t, '\n'); nl != -1 {
		tag := strings.TrimSpace(t[:nl])
		if !strings.ContainsAny(tag, "{[\"") {
			t = t[nl+1:]
		}
	}
	return t
}

func marshalPayload(payload map[string]any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}
