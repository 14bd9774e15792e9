// Package local runs plan jobs in-process. Each job calls its Callable on a
// bounded worker pool once every afterok predecessor has succeeded, which
// makes it a stand-in for Slurm on a laptop or in tests.
package local

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/planit/internal/executor"
	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/internal/metrics"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/schema"
)

// Backend is the metrics label and config name of this scheduler.
const Backend = "local"

// ErrDependencyNeverSatisfied is the cause reported by a job whose
// predecessor failed.
var ErrDependencyNeverSatisfied = errors.New("DependencyNeverSatisfied")

// Executor is an in-process plan.Scheduler.
type Executor struct {
	pool    *executor.Pool
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*Job
}

// Option configures an Executor.
type Option func(*executorConfig)

type executorConfig struct {
	poolSize int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// WithPoolSize bounds how many jobs run at once. The default is 4.
func WithPoolSize(n int) Option {
	return func(c *executorConfig) { c.poolSize = n }
}

// WithMetrics records submissions and outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *executorConfig) { c.metrics = m }
}

// WithLogger sets the logger for job lifecycle records.
func WithLogger(l *slog.Logger) Option {
	return func(c *executorConfig) { c.logger = l }
}

// New creates an Executor.
func New(opts ...Option) *Executor {
	cfg := executorConfig{poolSize: 4, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		pool:    executor.NewPool(cfg.poolSize),
		metrics: cfg.metrics,
		logger:  cfg.logger,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*Job),
	}
}

// Submit queues fn. The job starts once its afterok predecessors, which
// must have been submitted to this executor, have succeeded.
func (e *Executor) Submit(ctx context.Context, fn plan.Callable, args []any, kwargs map[string]any, params map[string]any) (plan.Job, error) {
	if fn == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "callable is required")
	}
	depIDs, err := executor.DependencyIDs(params)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "invalid dependency").WithCause(err)
	}

	e.mu.Lock()
	deps := make([]*Job, 0, len(depIDs))
	for _, id := range depIDs {
		dep, ok := e.jobs[id]
		if !ok {
			e.mu.Unlock()
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "dependency job %s is unknown to the local scheduler", id)
		}
		deps = append(deps, dep)
	}
	job := &Job{
		id:        uuid.NewString(),
		name:      executor.JobName(params, fn.Name()),
		action:    fn.Name(),
		submitted: time.Now(),
		done:      make(chan struct{}),
	}
	e.jobs[job.id] = job
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.JobSubmitted(Backend)
	logging.LogWith(logging.WithJobID(ctx, job.id), e.logger).Debug("job queued",
		"action", job.action, "name", job.name, "depends_on", depIDs)

	go e.run(job, deps, fn, args, kwargs)
	return job, nil
}

func (e *Executor) run(job *Job, deps []*Job, fn plan.Callable, args []any, kwargs map[string]any) {
	// Every path ends in finish; the job counts as outstanding until then.
	defer func() {
		<-job.done
		e.wg.Done()
	}()

	for _, dep := range deps {
		select {
		case <-dep.done:
		case <-e.ctx.Done():
			e.finish(job, nil, schema.NewErrorf(schema.ErrCodeExecution, "job %s cancelled before it started", job.id).
				WithCause(e.ctx.Err()))
			return
		}
		if _, err := dep.outcome(); err != nil {
			e.finish(job, nil, schema.NewErrorf(schema.ErrCodeExecution,
				"job %s (%s) will never run: dependency %s failed", job.id, job.name, dep.id).
				WithCause(ErrDependencyNeverSatisfied).
				WithDetails(map[string]any{"dependency": dep.id}))
			return
		}
	}

	var result any
	task := func(ctx context.Context) error {
		var err error
		result, err = fn.Call(ctx, args, kwargs)
		return err
	}
	err := e.pool.Submit(e.ctx, task, func(err error) {
		if err != nil {
			err = schema.NewErrorf(schema.ErrCodeExecution, "job %s (%s) failed", job.id, job.name).WithCause(err)
		}
		e.finish(job, result, err)
	})
	if err != nil {
		e.finish(job, nil, schema.NewErrorf(schema.ErrCodeExecution, "job %s could not start", job.id).WithCause(err))
	}
}

func (e *Executor) finish(job *Job, result any, err error) {
	job.complete(result, err)
	e.metrics.JobFinished(Backend, time.Since(job.submitted), err)

	logger := logging.LogWith(logging.WithJobID(context.Background(), job.id), e.logger)
	if err != nil {
		logger.Warn("job failed", "name", job.name, "error", err)
		return
	}
	logger.Debug("job completed", "name", job.name)
}

// Job looks up a job by id.
func (e *Executor) Job(id string) (*Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	return j, ok
}

// Wait blocks until every submitted job has reached a terminal state.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Shutdown cancels running jobs, fails queued ones and waits for all of
// them to settle.
func (e *Executor) Shutdown() {
	e.cancel()
	e.wg.Wait()
	e.pool.Shutdown()
}

// Stats reports worker pool activity.
func (e *Executor) Stats() executor.PoolStats {
	return e.pool.Stats()
}

// Job is the handle of a locally executed job.
type Job struct {
	id        string
	name      string
	action    string
	submitted time.Time

	once   sync.Once
	done   chan struct{}
	result any
	err    error
}

// ID returns the job's UUID.
func (j *Job) ID() string { return j.id }

// Name returns the job name from the payload.
func (j *Job) Name() string { return j.name }

// Done is closed when the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result blocks until the job finishes and returns what its Callable
// returned.
func (j *Job) Result(ctx context.Context) (any, error) {
	select {
	case <-j.done:
		return j.outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (j *Job) outcome() (any, error) {
	return j.result, j.err
}

func (j *Job) complete(result any, err error) {
	j.once.Do(func() {
		j.result, j.err = result, err
		close(j.done)
	})
}

var _ plan.Scheduler = (*Executor)(nil)
