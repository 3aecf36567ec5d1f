// ABOUTME: JSON Schema helpers for tool inputs built on google/jsonschema-go.
// ABOUTME: Converts author parameters, summarizes completeness and validates arguments.

package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

var (
	// ErrNoParameters indicates the author supplied no parameter list at all.
	ErrNoParameters = errors.New("no author parameters")

	// ErrInvalidParameter indicates an author parameter cannot be expressed as a property.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidSchema indicates a stored schema is not a JSON object schema.
	ErrInvalidSchema = errors.New("invalid input schema")

	// ErrInvalidArguments indicates arguments do not satisfy a tool's schema.
	ErrInvalidArguments = errors.New("invalid arguments")
)

// Param is one author-declared parameter from package metadata.
type Param struct {
	Name        string          `json:"name"`
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Default     json.RawMessage `json:"default,omitempty"`
	Enum        []any           `json:"enum,omitempty"`
}

// typeAliases maps loose author type names onto JSON Schema types.
var typeAliases = map[string]string{
	"string":  "string",
	"str":     "string",
	"text":    "string",
	"date":    "string",
	"number":  "number",
	"float":   "number",
	"double":  "number",
	"integer": "integer",
	"int":     "integer",
	"boolean": "boolean",
	"bool":    "boolean",
	"object":  "object",
	"array":   "array",
	"list":    "array",
	"null":    "null",
}

// FromParameters builds {type:object, properties, required, additionalProperties:false}
// from author parameters. A nil slice means the author declared nothing and
// yields ErrNoParameters; an empty slice is a valid zero-argument tool.
func FromParameters(params []Param) (json.RawMessage, error) {
	if params == nil {
		return nil, ErrNoParameters
	}

	root := &jsonschema.Schema{
		Type:                 "object",
		Properties:           make(map[string]*jsonschema.Schema, len(params)),
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
	required := []string{}
	for _, p := range params {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: parameter name is required", ErrInvalidParameter)
		}
		if _, dup := root.Properties[name]; dup {
			return nil, fmt.Errorf("%w: duplicate parameter %q", ErrInvalidParameter, name)
		}

		prop := &jsonschema.Schema{
			Type:        typeAliases[strings.ToLower(strings.TrimSpace(p.Type))],
			Description: strings.TrimSpace(p.Description),
			Enum:        p.Enum,
		}
		if strings.EqualFold(p.Type, "date") {
			prop.Format = "date"
		}
		if len(p.Default) > 0 {
			if !json.Valid(p.Default) {
				return nil, fmt.Errorf("%w: default for %q is not valid JSON", ErrInvalidParameter, name)
			}
			prop.Default = p.Default
		}
		root.Properties[name] = prop
		if p.Required {
			required = append(required, name)
		}
	}
	root.Required = required

	raw, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	return withRequired(raw, required)
}

// withRequired keeps "required" present even when empty, since the
// schema library omits empty slices.
func withRequired(raw json.RawMessage, required []string) (json.RawMessage, error) {
	if len(required) > 0 {
		return raw, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encoding schema: %w", err)
	}
	m["required"] = json.RawMessage(`[]`)
	if _, ok := m["properties"]; !ok {
		m["properties"] = json.RawMessage(`{}`)
	}
	return json.Marshal(m)
}

// Parse decodes a stored input schema. Empty input returns (nil, nil).
func Parse(raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	if s.Type != "" && s.Type != "object" {
		return nil, fmt.Errorf("%w: root type is %q, want object", ErrInvalidSchema, s.Type)
	}
	return &s, nil
}

// Summary counts the properties of an input schema that carry documentation.
type Summary struct {
	Present   bool // a parseable schema exists
	Params    int
	Described int // params with a non-empty description
	Typed     int // params with a specific type, enum or const
}

// Summarize inspects raw. An unparseable schema is reported as absent.
func Summarize(raw json.RawMessage) Summary {
	s, err := Parse(raw)
	if err != nil || s == nil {
		return Summary{}
	}
	sum := Summary{Present: true, Params: len(s.Properties)}
	for _, prop := range s.Properties {
		if prop == nil {
			continue
		}
		if strings.TrimSpace(prop.Description) != "" {
			sum.Described++
		}
		if isSpecific(prop) {
			sum.Typed++
		}
	}
	return sum
}

func isSpecific(s *jsonschema.Schema) bool {
	if s.Type != "" || len(s.Enum) > 0 || s.Const != nil || s.Ref != "" {
		return true
	}
	for _, t := range s.Types {
		if t != "null" {
			return true
		}
	}
	for _, branch := range append(append([]*jsonschema.Schema{}, s.AnyOf...), s.OneOf...) {
		if branch != nil && isSpecific(branch) {
			return true
		}
	}
	return false
}

// Validate checks args against raw. A missing schema accepts anything, and a
// schema the validator cannot resolve is skipped rather than blocking calls.
func Validate(raw json.RawMessage, args map[string]any) error {
	s, err := Parse(raw)
	if err != nil || s == nil {
		return nil
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := resolved.Validate(args); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// PropertyNames returns the schema's property names in sorted order.
func PropertyNames(s *jsonschema.Schema) []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
