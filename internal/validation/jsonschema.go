package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/planit/pkg/schema"
)

const planSchemaURL = "https://planit.dev/schemas/plan.json"

// planSchemaJSON is the JSON Schema for plan definition files.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://planit.dev/schemas/plan.json",
  "type": "object",
  "required": ["name", "root"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "vars": {"type": "object"},
    "resources": {
      "type": "object",
      "additionalProperties": {"$ref": "#/$defs/slurm"}
    },
    "root": {"$ref": "#/$defs/node"},
    "metadata": {"type": "object"}
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "properties": {
        "step": {"$ref": "#/$defs/step"},
        "chain": {"type": "array", "items": {"$ref": "#/$defs/node"}},
        "parallel": {"type": "array", "items": {"$ref": "#/$defs/node"}}
      },
      "additionalProperties": false,
      "minProperties": 1,
      "maxProperties": 1
    },
    "step": {
      "type": "object",
      "required": ["name", "action"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "action": {"type": "string", "minLength": 1},
        "resources": {"type": "string", "minLength": 1},
        "slurm": {"$ref": "#/$defs/slurm"},
        "raw": {"type": "object", "required": ["slurm_time"]},
        "args": {"type": "array"},
        "kwargs": {"type": "object"}
      },
      "additionalProperties": false,
      "oneOf": [
        {"required": ["resources"]},
        {"required": ["slurm"]},
        {"required": ["raw"]}
      ]
    },
    "slurm": {
      "type": "object",
      "required": ["time"],
      "properties": {
        "time": {"type": "string", "minLength": 1},
        "partition": {"type": "string"},
        "gpus_per_node": {"type": "integer", "minimum": 0},
        "nodes": {"type": "integer", "minimum": 0},
        "cpus_per_task": {"type": "integer", "minimum": 0},
        "cpus_per_gpu": {"type": "integer", "minimum": 0},
        "mem_gb": {"type": "integer", "minimum": 0},
        "account": {"type": "string"},
        "cluster": {"type": "string"},
        "mail_type": {
          "type": "array",
          "items": {"enum": ["NONE", "BEGIN", "END", "FAIL", "REQUEUE", "ALL"]}
        },
        "mail_user": {"type": "string"},
        "additional_params": {"type": "object"}
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates plan documents against the embedded plan
// schema and action inputs against their declared schemas. It is safe for
// concurrent use.
type JSONSchemaValidator struct {
	planSchema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator compiles the plan schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource(planSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}
	compiled, err := c.Compile(planSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &JSONSchemaValidator{
		planSchema: compiled,
		cache:      make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDocument validates a decoded plan document. doc must come from
// jsonschema.UnmarshalJSON (or ToDocument) so numbers are json.Number.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if err := v.planSchema.Validate(doc); err != nil {
		return toPlanitError(err)
	}
	return nil
}

// ValidateDefinition validates an in-memory definition, e.g. one decoded
// from HCL.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.PlanDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "plan definition is nil")
	}
	doc, err := ToDocument(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize plan definition").WithCause(err)
	}
	return v.ValidateDocument(doc)
}

// ValidateInput validates data against a JSON Schema given as raw bytes.
// Compiled schemas are cached.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if len(inputSchema) == 0 {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}

	compiled, err := v.compileInput(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}
	doc, err := ToDocument(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}
	if err := compiled.Validate(doc); err != nil {
		return toPlanitError(err)
	}
	return nil
}

func (v *JSONSchemaValidator) compileInput(raw []byte) (*jsonschema.Schema, error) {
	key := string(raw)

	v.mu.RLock()
	cached, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// A fresh compiler per schema keeps resource URLs from colliding.
	url := fmt.Sprintf("planit://input-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// ToDocument round-trips v through JSON so numbers become json.Number, the
// representation the jsonschema library expects.
func ToDocument(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toPlanitError flattens a jsonschema.ValidationError into one message per
// failing location.
func toPlanitError(err error) *schema.PlanitError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
			WithDetails(map[string]any{"violations": violations})
	}
}

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
