// Package expressions wraps the expression languages planit evaluates:
// expr for ${{ }} interpolation in plan files, CEL for resource policies
// and jq for the jq action.
package expressions

import "context"

// Engine evaluates an expression against a data map.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
