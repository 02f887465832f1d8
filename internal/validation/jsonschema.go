package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/strandlabs/strand/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://strandlabs.dev/schemas/workflow.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "id": { "type": "string" },
    "tenant_id": { "type": "string" },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "version": {
      "type": "integer",
      "minimum": 0
    },
    "status": {
      "type": "string",
      "enum": ["draft", "active", "archived"]
    },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "timeout_seconds": {
      "type": "integer",
      "minimum": 0
    },
    "max_retries": {
      "type": "integer",
      "minimum": 0
    },
    "retry_strategy": {
      "type": "string",
      "enum": ["none", "linear", "exponential"]
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["agent", "tool", "mcp_tool", "http", "parallel", "conditional"]
        },
        "max_retries": {
          "type": "integer",
          "minimum": 0
        },
        "agent_id": { "type": "string" },
        "input": { "type": "object" },
        "output_mapping": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        },
        "server_id": { "type": "string" },
        "tool_name": { "type": "string" },
        "method": { "type": "string" },
        "url": { "type": "string" },
        "headers": {
          "type": "object",
          "additionalProperties": { "type": "string" }
        },
        "body": {},
        "steps": {
          "type": "array",
          "items": { "$ref": "#/$defs/step" }
        },
        "wait_for": {
          "type": "string",
          "pattern": "^(all|any|count:[0-9]+)$"
        },
        "condition": { "type": "string" },
        "if_true": { "$ref": "#/$defs/step" },
        "if_false": { "$ref": "#/$defs/step" }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator implements Validator using JSON Schema Draft 2020-12
// for the structural pass plus per-kind semantic checks that JSON Schema
// cannot express. Safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the workflow schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://strandlabs.dev/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://strandlabs.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{workflowSchema: wfSchema}, nil
}

// ValidateDefinition runs the structural schema pass and then the semantic
// pass over the step tree.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "serialize workflow definition").WithCause(err)
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}

	return validateSemantic(def)
}

// toJSONValue round-trips a Go value through JSON encoding so numeric values
// become json.Number, which the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// with one message per leaf violation.
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
