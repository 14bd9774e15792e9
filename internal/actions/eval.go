package actions

import (
	"context"

	"github.com/rendis/planit/internal/expressions"
	"github.com/rendis/planit/pkg/schema"
)

// EvalActions returns the jq and expr.eval actions.
func EvalActions() []Action {
	return []Action{
		&jqAction{engine: expressions.NewGoJQEngine()},
		&exprEvalAction{engine: expressions.NewExprEngine()},
	}
}

// jqAction applies a jq filter to the "input" keyword, or to the first
// positional argument.
type jqAction struct {
	engine *expressions.GoJQEngine
}

func (a *jqAction) Name() string { return "jq" }

func (a *jqAction) Schema() ActionSchema {
	return ActionSchema{Description: "Apply the jq `filter` to `input`. Returns a single value, or a list when the filter yields several."}
}

func (a *jqAction) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	filter, _ := kwargs["filter"].(string)
	if filter == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "jq: missing 'filter'")
	}
	input, ok := kwargs["input"]
	if !ok && len(args) > 0 {
		input = args[0]
	}

	results, err := a.engine.Run(ctx, filter, input)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// exprEvalAction evaluates an expr expression with the keyword arguments
// under "data" and the positional ones under "args".
type exprEvalAction struct {
	engine *expressions.ExprEngine
}

func (a *exprEvalAction) Name() string { return "expr.eval" }

func (a *exprEvalAction) Schema() ActionSchema {
	return ActionSchema{Description: "Evaluate an Expr `expression` against `data` and the positional args."}
}

func (a *exprEvalAction) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	expression, _ := kwargs["expression"].(string)
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expr.eval requires non-empty 'expression' string parameter")
	}
	if args == nil {
		args = []any{}
	}
	data := kwargs["data"]
	if data == nil {
		data = map[string]any{}
	}
	scope := map[string]any{
		"data": data,
		"args": args,
	}
	return a.engine.Evaluate(ctx, expression, scope)
}
