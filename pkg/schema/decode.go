package schema

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Supported graph document formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// FormatFromPath infers the document format from a file extension.
// Anything that is not .yaml/.yml is treated as JSON.
func FormatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// DecodeGraph decodes a graph document. YAML documents are normalized through
// JSON so both formats yield identical definitions.
func DecodeGraph(data []byte, format string) (*GraphDefinition, error) {
	raw, err := NormalizeDocument(data, format)
	if err != nil {
		return nil, err
	}
	var def GraphDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, NewErrorf(ErrCodeGraphValidation, "decode graph: %s", err.Error()).WithCause(err)
	}
	return &def, nil
}

// NormalizeDocument returns the document as JSON bytes.
func NormalizeDocument(data []byte, format string) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return data, nil
	case FormatYAML, "yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, NewErrorf(ErrCodeGraphValidation, "parse yaml: %s", err.Error()).WithCause(err)
		}
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, NewErrorf(ErrCodeGraphValidation, "normalize yaml: %s", err.Error()).WithCause(err)
		}
		return out, nil
	default:
		return nil, NewErrorf(ErrCodeValidation, "unsupported graph format %q", format)
	}
}
