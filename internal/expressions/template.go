package expressions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rendis/deskflow/pkg/schema"
)

// ResolveTemplate substitutes {key} and {key[subkey]...} placeholders with
// values from vars. "{{" and "}}" render as literal braces. A missing key, a
// lookup into a non-container or an unbalanced brace fails with
// TEMPLATE_RESOLUTION. Strings without braces are returned unchanged.
func ResolveTemplate(tmpl string, vars map[string]any) (string, error) {
	return resolve(tmpl, vars, true)
}

// ResolveTemplateLenient renders what it can. Unresolvable placeholders
// become empty strings and an unbalanced brace leaves the remaining text as
// is. The first problem encountered is returned alongside the rendering so
// callers can log it.
func ResolveTemplateLenient(tmpl string, vars map[string]any) (string, error) {
	return resolve(tmpl, vars, false)
}

// HasPlaceholders reports whether s contains any brace that would be
// interpreted by ResolveTemplate.
func HasPlaceholders(s string) bool {
	return strings.ContainsAny(s, "{}")
}

// Placeholders lists the root keys referenced by tmpl, in order of
// appearance and without duplicates. Malformed fields are skipped.
func Placeholders(tmpl string) []string {
	var out []string
	seen := map[string]bool{}
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] != '{' {
			continue
		}
		if i+1 < len(tmpl) && tmpl[i+1] == '{' {
			i++
			continue
		}
		end := strings.IndexByte(tmpl[i+1:], '}')
		if end == -1 {
			break
		}
		root, _, err := parseField(tmpl[i+1 : i+1+end])
		if err == nil && !seen[root] {
			seen[root] = true
			out = append(out, root)
		}
		i += end + 1
	}
	return out
}

func resolve(tmpl string, vars map[string]any, strict bool) (string, error) {
	if !HasPlaceholders(tmpl) {
		return tmpl, nil
	}

	var (
		b        strings.Builder
		firstErr error
	)
	b.Grow(len(tmpl))

	fail := func(err error) bool {
		if firstErr == nil {
			firstErr = err
		}
		return strict
	}

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			if fail(templateErr(tmpl, "single '}' encountered at offset %d", i)) {
				return "", firstErr
			}
			b.WriteByte('}')
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end == -1 {
				if fail(templateErr(tmpl, "unclosed '{' at offset %d", i)) {
					return "", firstErr
				}
				b.WriteString(tmpl[i:])
				return b.String(), firstErr
			}
			field := tmpl[i+1 : i+1+end]
			i += end + 1

			val, err := lookupField(field, vars, tmpl)
			if err != nil {
				if fail(err) {
					return "", firstErr
				}
				continue
			}
			b.WriteString(render(val))
		default:
			b.WriteByte(c)
		}
	}

	return b.String(), firstErr
}

// parseField splits "key[a][b]" into its root key and subkeys.
func parseField(field string) (string, []string, error) {
	open := strings.IndexByte(field, '[')
	root := field
	rest := ""
	if open != -1 {
		root, rest = field[:open], field[open:]
	}
	if root == "" {
		return "", nil, fmt.Errorf("empty key in {%s}", field)
	}
	if strings.ContainsAny(root, "{]") {
		return "", nil, fmt.Errorf("invalid key in {%s}", field)
	}

	var subkeys []string
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, fmt.Errorf("expected '[' in {%s}", field)
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return "", nil, fmt.Errorf("missing ']' in {%s}", field)
		}
		sub := rest[1:end]
		if sub == "" || strings.ContainsAny(sub, "[{") {
			return "", nil, fmt.Errorf("invalid subkey in {%s}", field)
		}
		subkeys = append(subkeys, sub)
		rest = rest[end+1:]
	}
	return root, subkeys, nil
}

func lookupField(field string, vars map[string]any, tmpl string) (any, error) {
	root, subkeys, err := parseField(field)
	if err != nil {
		return nil, templateErr(tmpl, "%s", err.Error())
	}

	current, ok := vars[root]
	if !ok {
		available := mapKeys(vars)
		return nil, templateErr(tmpl, "key %q not found; available: [%s]", root, strings.Join(available, ", ")).
			WithDetails(map[string]any{"template": tmpl, "key": root, "available_keys": available})
	}

	path := root
	for _, sub := range subkeys {
		path += "[" + sub + "]"
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[sub]
			if !ok {
				available := mapKeys(v)
				return nil, templateErr(tmpl, "key %q not found in %s; available: [%s]", sub, path, strings.Join(available, ", ")).
					WithDetails(map[string]any{"template": tmpl, "key": sub, "available_keys": available})
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(sub)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, templateErr(tmpl, "index %q out of range in %s (len %d)", sub, path, len(v))
			}
			current = v[idx]
		default:
			return nil, templateErr(tmpl, "cannot look up %q in non-container %s (type: %T)", sub, path, current)
		}
	}
	return current, nil
}

func templateErr(tmpl, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeTemplateResolution, format, args...).
		WithDetails(map[string]any{"template": tmpl})
}

// render converts a resolved value to its text form. Maps and slices are
// JSON encoded.
func render(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case json.Number:
		return v.String()
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// mapKeys returns sorted keys from a map[string]any.
func mapKeys(m map[string]any) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
