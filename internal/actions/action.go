// Package actions holds the named callables that file-defined plans refer
// to. A job running on a compute node looks its action up by name, so the
// same registry must be available to the submitting CLI and to
// `planit exec`.
package actions

import (
	"encoding/json"

	"github.com/rendis/planit/pkg/plan"
)

// Action is a registered callable.
type Action interface {
	plan.Callable
	Schema() ActionSchema
}

// ActionSchema describes what an action expects and returns.
type ActionSchema struct {
	Description  string          `json:"description,omitempty"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}
