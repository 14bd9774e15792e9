package actions

import (
	"context"
	"time"

	"github.com/rendis/planit/pkg/schema"
)

// BasicActions returns noop, sleep and echo.
func BasicActions() []Action {
	return []Action{
		&noopAction{},
		&sleepAction{},
		&echoAction{},
	}
}

type noopAction struct{}

func (a *noopAction) Name() string { return "noop" }

func (a *noopAction) Schema() ActionSchema {
	return ActionSchema{Description: "Do nothing and succeed. Useful as a barrier between stages."}
}

func (a *noopAction) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return nil, ctx.Err()
}

type sleepAction struct{}

func (a *sleepAction) Name() string { return "sleep" }

func (a *sleepAction) Schema() ActionSchema {
	return ActionSchema{Description: "Sleep for `seconds` (keyword or first argument)."}
}

func (a *sleepAction) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	raw, ok := kwargs["seconds"]
	if !ok && len(args) > 0 {
		raw = args[0]
	}
	secs, ok := floatValue(raw)
	if !ok || secs < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "sleep: seconds must be a non-negative number, got %v", raw)
	}

	timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"slept_seconds": secs}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type echoAction struct{}

func (a *echoAction) Name() string { return "echo" }

func (a *echoAction) Schema() ActionSchema {
	return ActionSchema{Description: "Return the arguments it was called with."}
}

func (a *echoAction) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return map[string]any{"args": args, "kwargs": kwargs}, nil
}
