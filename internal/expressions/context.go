package expressions

import "encoding/json"

// Context is the flat key-value store threaded through a single run. Keys
// are only ever added or overwritten. A Context belongs to one run and is
// not safe for concurrent use.
type Context struct {
	vars map[string]any
}

// NewContext seeds a context with a shallow copy of inputs. The caller's map
// is never modified.
func NewContext(inputs map[string]any) *Context {
	vars := make(map[string]any, len(inputs)+4)
	for k, v := range inputs {
		vars[k] = v
	}
	return &Context{vars: vars}
}

// Set stores v under key, replacing any previous value.
func (c *Context) Set(key string, v any) {
	c.vars[key] = v
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.vars[key]
	return v, ok
}

// Len returns the number of keys.
func (c *Context) Len() int {
	return len(c.vars)
}

// Vars exposes the live map for read-only evaluation. Callers must not
// modify it.
func (c *Context) Vars() map[string]any {
	return c.vars
}

// Snapshot returns a deep copy suitable for handing out of the run.
func (c *Context) Snapshot() map[string]any {
	return deepCopyMap(c.vars)
}

// deepCopyMap creates a deep copy of a map[string]any.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively deep-copies maps and slices. Other values are
// returned as is.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
