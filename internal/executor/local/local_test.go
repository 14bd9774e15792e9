package local

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rendis/planit/internal/executor"
	"github.com/rendis/planit/internal/metrics"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/schema"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	e := New(append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(e.Shutdown)
	return e
}

func afterok(ids ...string) map[string]any {
	dep := "afterok"
	for _, id := range ids {
		dep += ":" + id
	}
	return map[string]any{schema.ParamAdditional: map[string]any{schema.ParamDependency: dep}}
}

// recorder collects the order in which callables ran.
type recorder struct {
	mu    sync.Mutex
	order []string
}

func (r *recorder) fn(name string, err error) plan.Callable {
	return plan.Func(name, func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		r.mu.Lock()
		r.order = append(r.order, name)
		r.mu.Unlock()
		return name + "-done", err
	})
}

func (r *recorder) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func TestSubmit_RunsCallable(t *testing.T) {
	e := newExecutor(t)
	fn := plan.Func("echo", func(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
		return []any{args, kwargs}, nil
	})

	job, err := e.Submit(context.Background(), fn, []any{1}, map[string]any{"k": "v"}, map[string]any{schema.ParamJobName: "etl"})
	require.NoError(t, err)

	_, err = uuid.Parse(job.ID())
	require.NoError(t, err)

	got, err := job.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{[]any{1}, map[string]any{"k": "v"}}, got)

	lj, ok := e.Job(job.ID())
	require.True(t, ok)
	assert.Equal(t, "etl", lj.Name())
}

func TestSubmit_WaitsForDependencies(t *testing.T) {
	e := newExecutor(t)
	rec := &recorder{}

	release := make(chan struct{})
	first := plan.Func("first", func(context.Context, []any, map[string]any) (any, error) {
		<-release
		rec.mu.Lock()
		rec.order = append(rec.order, "first")
		rec.mu.Unlock()
		return nil, nil
	})

	a, err := e.Submit(context.Background(), first, nil, nil, nil)
	require.NoError(t, err)
	b, err := e.Submit(context.Background(), rec.fn("second", nil), nil, nil, afterok(a.ID()))
	require.NoError(t, err)

	select {
	case <-b.(*Job).Done():
		t.Fatal("dependent job finished before its predecessor")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	_, err = b.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, rec.ran())
}

func TestSubmit_FailedDependencyPropagates(t *testing.T) {
	e := newExecutor(t)
	rec := &recorder{}
	boom := errors.New("boom")

	a, err := e.Submit(context.Background(), rec.fn("a", boom), nil, nil, nil)
	require.NoError(t, err)
	b, err := e.Submit(context.Background(), rec.fn("b", nil), nil, nil, afterok(a.ID()))
	require.NoError(t, err)
	c, err := e.Submit(context.Background(), rec.fn("c", nil), nil, nil, afterok(b.ID()))
	require.NoError(t, err)

	_, err = a.Result(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, schema.IsCode(err, schema.ErrCodeExecution))

	_, err = b.Result(context.Background())
	assert.ErrorIs(t, err, ErrDependencyNeverSatisfied)
	_, err = c.Result(context.Background())
	assert.ErrorIs(t, err, ErrDependencyNeverSatisfied)

	assert.Equal(t, []string{"a"}, rec.ran())
}

func TestSubmit_UnknownDependency(t *testing.T) {
	e := newExecutor(t)
	_, err := e.Submit(context.Background(), (&recorder{}).fn("x", nil), nil, nil, afterok("12345"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

	_, err = e.Submit(context.Background(), (&recorder{}).fn("x", nil), nil, nil,
		map[string]any{schema.ParamAdditional: map[string]any{schema.ParamDependency: "afterany:1"}})
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))

	_, err = e.Submit(context.Background(), nil, nil, nil, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))
}

func TestSubmit_PanicBecomesError(t *testing.T) {
	e := newExecutor(t)
	fn := plan.Func("panics", func(context.Context, []any, map[string]any) (any, error) {
		panic("kaboom")
	})
	job, err := e.Submit(context.Background(), fn, nil, nil, nil)
	require.NoError(t, err)

	_, err = job.Result(context.Background())
	var pe *executor.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
}

func TestResult_ContextCancelled(t *testing.T) {
	e := newExecutor(t)
	release := make(chan struct{})
	defer close(release)
	fn := plan.Func("block", func(context.Context, []any, map[string]any) (any, error) {
		<-release
		return nil, nil
	})
	job, err := e.Submit(context.Background(), fn, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = job.Result(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	e := newExecutor(t, WithPoolSize(2))

	var mu sync.Mutex
	running, peak := 0, 0
	fn := plan.Func("busy", func(context.Context, []any, map[string]any) (any, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	})

	for i := 0; i < 8; i++ {
		_, err := e.Submit(context.Background(), fn, nil, nil, nil)
		require.NoError(t, err)
	}
	e.Wait()
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, int64(8), e.Stats().Completed)
}

func TestWaitBlocksUntilJobsFinish(t *testing.T) {
	e := newExecutor(t)
	fn := plan.Func("slow", func(context.Context, []any, map[string]any) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})
	job, err := e.Submit(context.Background(), fn, nil, nil, nil)
	require.NoError(t, err)

	e.Wait()
	select {
	case <-job.(*Job).Done():
	default:
		t.Fatal("Wait returned before the job finished")
	}
	assert.Equal(t, int64(1), e.Stats().Completed)
}

func TestShutdownFailsWaitingJobs(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := New(WithLogger(quietLogger()))
	fn := plan.Func("wait", func(ctx context.Context, _ []any, _ map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	a, err := e.Submit(context.Background(), fn, nil, nil, nil)
	require.NoError(t, err)
	b, err := e.Submit(context.Background(), fn, nil, nil, afterok(a.ID()))
	require.NoError(t, err)

	e.Shutdown()

	_, err = a.Result(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	_, err = b.Result(context.Background())
	assert.Error(t, err)
}

func TestPlanOnLocalExecutor(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := metrics.New()
	e := New(WithLogger(quietLogger()), WithMetrics(m), WithPoolSize(4))
	defer e.Shutdown()

	rec := &recorder{}
	res := schema.SlurmArgs{Time: "00:10:00"}
	p := plan.New("pipeline", plan.NewChain(
		plan.MustStep("prep", rec.fn("prep", nil), res),
		plan.NewParallel(
			plan.MustStep("left", rec.fn("left", nil), res),
			plan.MustStep("right", rec.fn("right", nil), res),
		),
		plan.MustStep("report", rec.fn("report", nil), res),
	), plan.WithLogger(quietLogger()))

	jobs, err := p.Submit(context.Background(), e)
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	require.NoError(t, p.Wait(context.Background()))

	order := rec.ran()
	require.Len(t, order, 4)
	assert.Equal(t, "prep", order[0])
	assert.ElementsMatch(t, []string{"left", "right"}, order[1:3])
	assert.Equal(t, "report", order[3])

	assert.Equal(t, 4.0, counterValue(t, m, "planit_jobs_submitted_total"))
	assert.Equal(t, 0.0, counterValue(t, m, "planit_job_failures_total"))
}

func counterValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range mf.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}
