package validation

import (
	"encoding/json"
	"fmt"

	"github.com/rendis/planit/pkg/schema"
)

// InputSchemaLookup returns the input schema an action declares. When the
// action lookup also implements it, step kwargs are checked against it.
type InputSchemaLookup interface {
	InputSchema(action string) (json.RawMessage, bool)
}

// DefinitionValidator runs the validation pipeline for plan definitions:
//  1. Structural (JSON Schema)
//  2. Semantic (node shape, resources, time budgets, actions)
//  3. Action inputs (kwargs against the action's input schema)
type DefinitionValidator struct {
	jsonSchema *JSONSchemaValidator
	actions    ActionLookup
}

// NewDefinitionValidator creates a DefinitionValidator. lookup may be nil
// to skip action checks.
func NewDefinitionValidator(lookup ActionLookup) (*DefinitionValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &DefinitionValidator{jsonSchema: jsv, actions: lookup}, nil
}

// Schema returns the underlying JSON Schema validator.
func (dv *DefinitionValidator) Schema() *JSONSchemaValidator {
	return dv.jsonSchema
}

// Validate runs the whole pipeline. Structural errors short-circuit.
func (dv *DefinitionValidator) Validate(def *schema.PlanDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "plan definition is nil")
		return r
	}

	result := resultFromError(dv.jsonSchema.ValidateDefinition(def))
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, dv.actions))
	if result.Valid() {
		result.Merge(dv.validateInputs(def))
	}
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (dv *DefinitionValidator) ValidateDefinition(def *schema.PlanDefinition) error {
	return dv.Validate(def).ToError()
}

// ValidateInput delegates to the JSON Schema validator.
func (dv *DefinitionValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return dv.jsonSchema.ValidateInput(input, inputSchema)
}

func (dv *DefinitionValidator) validateInputs(def *schema.PlanDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	schemas, ok := dv.actions.(InputSchemaLookup)
	if !ok {
		return result
	}

	walkStepDefinitions(&def.Root, "root", func(s *schema.StepDefinition, path string) {
		raw, ok := schemas.InputSchema(s.Action)
		if !ok || len(raw) == 0 {
			return
		}
		if err := dv.jsonSchema.ValidateInput(s.Kwargs, raw); err != nil {
			result.AddError(path+".kwargs", schema.ErrCodeValidation,
				fmt.Sprintf("kwargs for action %q: %s", s.Action, messageOf(err)))
		}
	})
	return result
}

// resultFromError turns a structural error into one issue per violation.
func resultFromError(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	pe, ok := err.(*schema.PlanitError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := pe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, pe.Message)
	return result
}

// walkStepDefinitions calls fn for every step in tree order.
func walkStepDefinitions(n *schema.NodeDefinition, path string, fn func(*schema.StepDefinition, string)) {
	if n.Step != nil {
		fn(n.Step, path+".step")
	}
	for i := range n.Chain {
		walkStepDefinitions(&n.Chain[i], fmt.Sprintf("%s.chain[%d]", path, i), fn)
	}
	for i := range n.Parallel {
		walkStepDefinitions(&n.Parallel[i], fmt.Sprintf("%s.parallel[%d]", path, i), fn)
	}
}
