package plan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rendis/planit/pkg/schema"
)

var noop = Func("noop", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	return nil, nil
})

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func step(t *testing.T, name, tl string, opts ...StepOption) *Step {
	t.Helper()
	s, err := NewStep(name, noop, schema.SlurmArgs{Time: tl, Partition: "batch"}, opts...)
	require.NoError(t, err)
	return s
}

// submitCall records one Scheduler.Submit invocation.
type submitCall struct {
	fn     string
	args   []any
	kwargs map[string]any
	params map[string]any
}

func (c submitCall) dependency() string {
	add, _ := c.params[schema.ParamAdditional].(map[string]any)
	dep, _ := add[schema.ParamDependency].(string)
	return dep
}

// fakeScheduler hands out sequential job ids and records every call.
type fakeScheduler struct {
	mu     sync.Mutex
	calls  []submitCall
	jobs   map[string]*fakeJob
	failAt int // 1-based call number that fails, 0 for never
	nextID int
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]*fakeJob{}, nextID: 100}
}

func (f *fakeScheduler) Submit(ctx context.Context, fn Callable, args []any, kwargs map[string]any, params map[string]any) (Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, submitCall{fn: fn.Name(), args: args, kwargs: kwargs, params: params})
	if len(f.calls) == f.failAt {
		return nil, errBoom
	}

	f.nextID++
	job := &fakeJob{id: fmt.Sprint(f.nextID), done: make(chan struct{})}
	f.jobs[job.id] = job
	return job, nil
}

func (f *fakeScheduler) Calls() []submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitCall(nil), f.calls...)
}

// fakeJob completes when finish is called, or immediately when
// created finished.
type fakeJob struct {
	id   string
	done chan struct{}
	once sync.Once
	err  error
}

func (j *fakeJob) ID() string { return j.id }

func (j *fakeJob) Result(ctx context.Context) (any, error) {
	select {
	case <-j.done:
		return j.id, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *fakeJob) finish(err error) {
	j.once.Do(func() {
		j.err = err
		close(j.done)
	})
}

func finishAll(f *fakeScheduler, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, j := range f.jobs {
		j.finish(err)
	}
}

func jobIDs(jobs []Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID()
	}
	return out
}

var errBoom = errors.New("boom")
