// ABOUTME: Derives a representative test input from a tool's input schema.
// ABOUTME: Used by health sweeps when no fixture input is recorded for the tool.

package schema

import (
	"encoding/json"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schemas come from untrusted packages, so every size they declare is capped.
const (
	maxPlaceholderDepth  = 4
	maxPlaceholderString = 256
	maxPlaceholderItems  = 3
)

// formatPlaceholders are string values that satisfy common formats.
var formatPlaceholders = map[string]string{
	"date":      "2024-01-01",
	"date-time": "2024-01-01T00:00:00Z",
	"time":      "00:00:00",
	"email":     "test@example.com",
	"uri":       "https://example.com",
	"url":       "https://example.com",
	"uuid":      "00000000-0000-0000-0000-000000000000",
}

// PlaceholderInput builds arguments for a smoke-test execution. Required
// properties and properties with defaults are filled; defaults win, then the
// first enum value, then a placeholder for the declared type.
func PlaceholderInput(raw json.RawMessage) (map[string]any, error) {
	s, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return map[string]any{}, nil
	}
	return objectPlaceholder(s, 0), nil
}

func objectPlaceholder(s *jsonschema.Schema, depth int) map[string]any {
	out := map[string]any{}
	if depth >= maxPlaceholderDepth {
		return out
	}
	required := make(map[string]bool, len(s.Required))
	for _, name := range s.Required {
		required[name] = true
	}
	for _, name := range PropertyNames(s) {
		prop := s.Properties[name]
		if prop == nil {
			continue
		}
		if !required[name] && len(prop.Default) == 0 {
			continue
		}
		out[name] = valuePlaceholder(prop, depth+1)
	}
	return out
}

func valuePlaceholder(s *jsonschema.Schema, depth int) any {
	if len(s.Default) > 0 {
		var v any
		if json.Unmarshal(s.Default, &v) == nil {
			return v
		}
	}
	if len(s.Enum) > 0 {
		return s.Enum[0]
	}
	if s.Const != nil {
		return *s.Const
	}

	typ := s.Type
	if typ == "" {
		for _, t := range s.Types {
			if t != "null" {
				typ = t
				break
			}
		}
	}
	if typ == "" {
		for _, branch := range append(append([]*jsonschema.Schema{}, s.AnyOf...), s.OneOf...) {
			if branch != nil && isSpecific(branch) {
				return valuePlaceholder(branch, depth)
			}
		}
	}

	switch typ {
	case "string":
		if v, ok := formatPlaceholders[s.Format]; ok {
			return v
		}
		if s.MinLength != nil && *s.MinLength > len("test") {
			return strings.Repeat("a", min(*s.MinLength, maxPlaceholderString))
		}
		return "test"
	case "integer":
		if s.Minimum != nil {
			return int64(*s.Minimum)
		}
		return 1
	case "number":
		if s.Minimum != nil {
			return *s.Minimum
		}
		return 1
	case "boolean":
		return false
	case "array":
		if depth >= maxPlaceholderDepth {
			return []any{}
		}
		if s.MinItems != nil && *s.MinItems > 0 && s.Items != nil {
			items := make([]any, min(*s.MinItems, maxPlaceholderItems))
			for i := range items {
				items[i] = valuePlaceholder(s.Items, depth+1)
			}
			return items
		}
		return []any{}
	case "object":
		return objectPlaceholder(s, depth)
	case "null":
		return nil
	}
	return "test"
}
