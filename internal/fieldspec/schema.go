package fieldspec

import (
	"bytes"
	"encoding/json"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sells-group/cao-extract/internal/model"
)

// valueTypes are the JSON types a mapped field value may take. Arrays carry
// several candidates; objects are rejected.
var valueTypes = []any{"string", "number", "boolean", "null", "array"}

// JSONSchema builds the JSON Schema of a mapping response for fields: an
// object whose keys are field names with scalar, null or array values.
// Extra keys are allowed and dropped later.
func JSONSchema(fields []model.FieldSpec) map[string]any {
	props := make(map[string]any, len(fields))
	for _, f := range fields {
		p := map[string]any{
			"type":  valueTypes,
			"items": map[string]any{"type": []any{"string", "number", "boolean", "null"}},
		}
		if f.Description != "" {
			p["description"] = f.Description
		}
		props[f.Name] = p
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

// Validator checks decoded model output against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile compiles the mapping schema for fields.
func Compile(fields []model.FieldSpec) (*Validator, error) {
	b, err := json.Marshal(JSONSchema(fields))
	if err != nil {
		return nil, eris.Wrap(err, "fieldspec: marshal schema")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("mapping.json", bytes.NewReader(b)); err != nil {
		return nil, eris.Wrap(err, "fieldspec: add schema")
	}
	schema, err := compiler.Compile("mapping.json")
	if err != nil {
		return nil, eris.Wrap(err, "fieldspec: compile schema")
	}
	return &Validator{schema: schema}, nil
}

// Validate checks v, a value decoded from JSON into any.
func (v *Validator) Validate(doc any) error {
	if err := v.schema.Validate(doc); err != nil {
		return eris.Wrap(err, "fieldspec: response does not match schema")
	}
	return nil
}
