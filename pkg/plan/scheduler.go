package plan

import "context"

// Callable is the unit of work a Step asks the scheduler to run.
type Callable interface {
	Name() string
	Call(ctx context.Context, args []any, kwargs map[string]any) (any, error)
}

// Scheduler queues callables as batch jobs. params is the scheduler
// payload built from the step's resources plus dependency information;
// implementations own it after the call.
type Scheduler interface {
	Submit(ctx context.Context, fn Callable, args []any, kwargs map[string]any, params map[string]any) (Job, error)
}

// Job is a handle to a queued job.
type Job interface {
	// ID is the scheduler-assigned identifier used in afterok dependencies.
	ID() string
	// Result blocks until the job reaches a terminal state.
	Result(ctx context.Context) (any, error)
}

// Terminal states reported by Status for jobs that only expose Result.
const (
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// Poller is implemented by jobs that can report their state without
// blocking. Jobs whose dependencies can never be satisfied may stay
// non-terminal indefinitely, so reporting code prefers Poll over Result.
type Poller interface {
	Poll(ctx context.Context) (state string, terminal bool, err error)
}

// Status returns the job's current state. For a Poller it never waits;
// a non-terminal state comes back with a nil error unless the poll
// itself failed, in which case the state is UNKNOWN. Other jobs are
// resolved through Result, so they must be certain to finish.
func Status(ctx context.Context, job Job) (string, error) {
	if p, ok := job.(Poller); ok {
		state, terminal, err := p.Poll(ctx)
		if !terminal {
			if state == "" {
				state = "UNKNOWN"
			}
			return state, err
		}
		if err != nil {
			if state == "" {
				state = StateFailed
			}
			return state, err
		}
		return state, nil
	}
	if _, err := job.Result(ctx); err != nil {
		return StateFailed, err
	}
	return StateCompleted, nil
}

// FuncCallable adapts a plain function into a Callable.
type FuncCallable struct {
	name string
	fn   func(ctx context.Context, args []any, kwargs map[string]any) (any, error)
}

// Func returns a Callable named name that runs f.
func Func(name string, f func(ctx context.Context, args []any, kwargs map[string]any) (any, error)) *FuncCallable {
	return &FuncCallable{name: name, fn: f}
}

func (c *FuncCallable) Name() string { return c.name }

func (c *FuncCallable) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return c.fn(ctx, args, kwargs)
}

var _ Callable = (*FuncCallable)(nil)
