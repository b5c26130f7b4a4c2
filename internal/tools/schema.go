package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator compiles one tool's input_schema once and validates call
// inputs against it on every execution, mirroring the teacher's
// StructuredValidator but scoped to a single tool's schema rather than a
// whole response.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles a tool's InputSchema() document.
func NewSchemaValidator(schema map[string]any) (*SchemaValidator, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal input schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal input schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("input.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("input.json")
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	return &SchemaValidator{schema: compiled}, nil
}

// Validate checks raw tool-call input against the compiled schema.
func (v *SchemaValidator) Validate(input json.RawMessage) error {
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(input)))
	if err != nil {
		return fmt.Errorf("invalid JSON input: %w", err)
	}
	if err := v.schema.Validate(parsed); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
