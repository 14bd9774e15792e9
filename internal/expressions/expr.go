package expressions

import (
	"context"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/planit/pkg/schema"
)

// ExprEngine evaluates expr-lang expressions. Every key of the data map is
// a top-level variable.
//
// Programs are compiled without a typed environment so one cached program
// serves any data shape; plan variables and step outputs differ per run.
type ExprEngine struct {
	programs sync.Map // expression -> *vm.Program
}

// NewExprEngine creates a new Expr expression engine.
func NewExprEngine() *ExprEngine {
	return &ExprEngine{}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression against data.
func (e *ExprEngine) Evaluate(_ context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}
	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	out, err := vm.Run(prg, data)
	if err != nil {
		return nil, exprError(schema.ErrCodeExecution, "evaluation failed", expression, err)
	}
	return out, nil
}

func (e *ExprEngine) program(expression string) (*vm.Program, error) {
	if p, ok := e.programs.Load(expression); ok {
		return p.(*vm.Program), nil
	}
	prg, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, exprError(schema.ErrCodeValidation, "compile error", expression, err)
	}
	// Concurrent misses compile twice; the first stored program wins.
	p, _ := e.programs.LoadOrStore(expression, prg)
	return p.(*vm.Program), nil
}

func exprError(code, what, expression string, err error) *schema.PlanitError {
	return schema.NewErrorf(code, "expr %s in %q: %s", what, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression})
}

var _ Engine = (*ExprEngine)(nil)
