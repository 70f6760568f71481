package llm

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Schema is a named structured-output contract. It is sent to the model as
// the response format and checked again against whatever comes back.
type Schema struct {
	Name       string
	Definition *jsonschema.Schema
	resolved   *jsonschema.Resolved
}

// NewSchema resolves def so responses can be validated against it.
func NewSchema(name string, def *jsonschema.Schema) (*Schema, error) {
	resolved, err := def.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %s: %w", name, err)
	}
	return &Schema{Name: name, Definition: def, resolved: resolved}, nil
}

// MustSchema is NewSchema for package-level schemas.
func MustSchema(name string, def *jsonschema.Schema) *Schema {
	s, err := NewSchema(name, def)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Definition)
}

// Decode validates raw against the schema, then unmarshals it into dst.
func (s *Schema) Decode(raw string, dst any) error {
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return fmt.Errorf("parse %s response: %w", s.Name, err)
	}
	if err := s.resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSchemaViolation, s.Name, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode %s response: %w", s.Name, err)
	}
	return nil
}

// Closed is an object schema with every property required and no others
// allowed, the shape strict structured output expects.
func Closed(properties map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           properties,
		Required:             required,
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

// NullableString is a string property that may be null.
func NullableString(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Types: []string{"string", "null"}, Description: description}
}

// String is a required string property.
func String(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}
