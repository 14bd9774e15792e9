// Package validation checks plan definitions before they are built and
// plans before they are submitted. Structural checks use JSON Schema,
// semantic checks walk the definition tree and resource policies are CEL
// rules evaluated per step.
package validation

import (
	"github.com/rendis/planit/pkg/schema"
)

// Validator checks plan definitions for correctness before they are built.
type Validator interface {
	ValidateDefinition(def *schema.PlanDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ActionLookup reports whether an action name is registered. It is
// satisfied by *actions.Registry.
type ActionLookup interface {
	Has(name string) bool
}
