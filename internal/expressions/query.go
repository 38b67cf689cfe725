package expressions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/itchyny/gojq"

	"github.com/rendis/deskflow/pkg/schema"
)

// QueryEngine evaluates jq expressions against run results, for callers
// that only want part of an output or context snapshot.
// Thread-safe: compiled *Code objects are cached and reused across goroutines.
type QueryEngine struct {
	mu    sync.RWMutex
	cache map[string]*gojq.Code
}

// NewQueryEngine creates a new jq query engine.
func NewQueryEngine() *QueryEngine {
	return &QueryEngine{
		cache: make(map[string]*gojq.Code),
	}
}

// Query runs expression over data. A single output is returned directly,
// several are collected into a slice and none yields nil.
func (e *QueryEngine) Query(ctx context.Context, expression string, data any) (any, error) {
	results, err := e.QueryAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// QueryAll is like Query but always returns every output.
func (e *QueryEngine) QueryAll(ctx context.Context, expression string, data any) ([]any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	input, err := normalizeForJQ(data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "query input is not JSON-compatible: %s", err.Error()).
			WithCause(err)
	}

	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}
	return results, nil
}

// getOrCompile returns a cached compiled code or compiles and caches a new one.
func (e *QueryEngine) getOrCompile(expression string) (*gojq.Code, error) {
	e.mu.RLock()
	if code, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return code, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if code, ok := e.cache[expression]; ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: return empty env to block $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = code
	return code, nil
}

// normalizeForJQ converts data to the plain JSON types gojq accepts. Values
// already in that shape skip the JSON round trip.
func normalizeForJQ(v any) (any, error) {
	if plainJSON(v) {
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func plainJSON(v any) bool {
	switch val := v.(type) {
	case nil, bool, string, float64, int:
		return true
	case map[string]any:
		for _, item := range val {
			if !plainJSON(item) {
				return false
			}
		}
		return true
	case []any:
		for _, item := range val {
			if !plainJSON(item) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
