package schema

import (
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// programSchemaJSON is the JSON Schema for the program document format.
// Embedded as a constant to avoid filesystem dependencies.
const programSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowvm.dev/schemas/program.json",
  "type": "object",
  "required": ["body"],
  "properties": {
    "name": { "type": "string" },
    "body": {
      "type": "array",
      "items": { "$ref": "#/$defs/node" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {
          "type": "string",
          "enum": ["let", "if", "loop", "call", "create", "run", "status", "waiting", "memory_get", "memory_set", "append_edge", "return", "expr"]
        },
        "pos": { "$ref": "#/$defs/position" },
        "name": { "type": "string" },
        "value": { "type": "string" },
        "child": { "$ref": "#/$defs/node" },
        "condition": { "type": "string" },
        "then": { "type": "array", "items": { "$ref": "#/$defs/node" } },
        "else_if": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["condition", "body"],
            "properties": {
              "condition": { "type": "string" },
              "body": { "type": "array", "items": { "$ref": "#/$defs/node" } }
            },
            "additionalProperties": false
          }
        },
        "else": { "type": "array", "items": { "$ref": "#/$defs/node" } },
        "items": { "type": "string" },
        "item_var": { "type": "string" },
        "index_var": { "type": "string" },
        "body": { "type": "array", "items": { "$ref": "#/$defs/node" } },
        "callable": { "type": "string", "minLength": 1 },
        "args": { "type": "object", "additionalProperties": { "type": "string" } },
        "result": { "type": "string" },
        "type": { "type": "string" },
        "instance": { "type": "string" },
        "data": { "$ref": "#/$defs/data_block" },
        "idempotent": { "type": "boolean" },
        "ref": { "type": "string" },
        "message": { "type": "string" },
        "prompt": { "type": "string" },
        "timeout_ms": { "type": "integer", "minimum": 0 },
        "key": { "type": "string" },
        "edge_type": { "type": "string" },
        "target": { "type": "string" },
        "source": { "type": "string" }
      },
      "additionalProperties": false
    },
    "data_block": {
      "type": "object",
      "properties": {
        "expr": { "type": "string" },
        "fields": { "type": "object", "additionalProperties": { "type": "string" } }
      },
      "additionalProperties": false
    },
    "position": {
      "type": "object",
      "properties": {
        "file": { "type": "string" },
        "line": { "type": "integer", "minimum": 0 },
        "column": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    }
  }
}`

// DocumentValidator validates program documents against the embedded JSON
// Schema before decoding. Safe for concurrent use.
type DocumentValidator struct {
	programSchema *jsonschema.Schema
}

// NewDocumentValidator compiles the embedded program schema.
func NewDocumentValidator() (*DocumentValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(programSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal program schema: %w", err)
	}
	if err := c.AddResource("https://flowvm.dev/schemas/program.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add program schema resource: %w", err)
	}

	compiled, err := c.Compile("https://flowvm.dev/schemas/program.json")
	if err != nil {
		return nil, fmt.Errorf("compile program schema: %w", err)
	}

	return &DocumentValidator{programSchema: compiled}, nil
}

// Validate checks a raw program document against the schema.
func (v *DocumentValidator) Validate(doc []byte) error {
	if len(doc) == 0 {
		return NewError(ErrCodeValidation, "program document is empty")
	}

	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(doc)))
	if err != nil {
		return NewError(ErrCodeValidation, "program document is not valid JSON").WithCause(err)
	}

	if err := v.programSchema.Validate(inst); err != nil {
		return NewError(ErrCodeValidation, validationMessage(err)).WithCause(err)
	}
	return nil
}

// ValidateAndDecode validates the document and decodes it into a Program.
func (v *DocumentValidator) ValidateAndDecode(doc []byte) (*Program, error) {
	if err := v.Validate(doc); err != nil {
		return nil, err
	}
	return DecodeProgram(doc)
}

// validationMessage flattens a jsonschema validation error into one line.
func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return err.Error()
}
