package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rendis/planit/pkg/schema"
)

// Policy variables exposed to CEL rules.
const (
	VarStep            = "step"
	VarParams          = "params"
	VarDurationSeconds = "duration_seconds"
)

// CELEngine evaluates Common Expression Language rules. Programs are
// compiled once per expression and cached.
type CELEngine struct {
	env  *cel.Env
	vars []string

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates an engine for resource policies. It declares:
//   - step:             string, the step name
//   - params:           map(string, dyn), the scheduler payload
//   - duration_seconds: int, the parsed time budget
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable(VarStep, cel.StringType),
		cel.Variable(VarParams, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(VarDurationSeconds, cel.IntType),
		// Payloads decoded from JSON carry float64 numbers.
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		vars:  []string{VarStep, VarParams, VarDurationSeconds},
		cache: make(map[string]cel.Program),
	}, nil
}

// Name returns the engine identifier.
func (e *CELEngine) Name() string {
	return "cel"
}

// Compile checks a rule without evaluating it.
func (e *CELEngine) Compile(expression string) error {
	_, err := e.program(expression)
	return err
}

// Evaluate runs a rule against data. Missing variables get zero values.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.program(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.ContextEval(ctx, e.activation(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

func (e *CELEngine) program(expression string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

func (e *CELEngine) activation(data map[string]any) map[string]any {
	act := make(map[string]any, len(e.vars))
	for k, v := range data {
		act[k] = v
	}
	if _, ok := act[VarStep]; !ok {
		act[VarStep] = ""
	}
	if v, ok := act[VarParams]; !ok || v == nil {
		act[VarParams] = map[string]any{}
	}
	if _, ok := act[VarDurationSeconds]; !ok {
		act[VarDurationSeconds] = int64(0)
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
