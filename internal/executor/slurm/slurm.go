// Package slurm submits plan jobs with sbatch and follows them with sacct.
//
// A job runs `planit exec --action <name> --payload <json>` on the compute
// node, so the action must be registered in the binary found there.
package slurm

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rendis/planit/internal/executor"
	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/internal/metrics"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/schema"
)

// Backend is the metrics label and config name of this scheduler.
const Backend = "slurm"

// Config holds the scheduler command settings.
type Config struct {
	Sbatch       string               `mapstructure:"sbatch"`
	Sacct        string               `mapstructure:"sacct"`
	PollInterval time.Duration        `mapstructure:"poll_interval"`
	LogDir       string               `mapstructure:"log_dir"`
	Entrypoint   string               `mapstructure:"entrypoint"`
	Retry        executor.RetryPolicy `mapstructure:"retry"`
}

// DefaultConfig expects sbatch, sacct and planit on PATH.
func DefaultConfig() Config {
	return Config{
		Sbatch:       "sbatch",
		Sacct:        "sacct",
		PollInterval: 30 * time.Second,
		Entrypoint:   "planit",
		Retry:        executor.DefaultRetryPolicy(),
	}
}

// Payload is what a job receives through --payload.
type Payload struct {
	Args   []any          `json:"args,omitempty"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

// Executor is a plan.Scheduler backed by a Slurm cluster.
type Executor struct {
	cfg     Config
	runner  Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(e *Executor) { e.runner = r }
}

// WithMetrics records submissions and outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New creates an Executor. Empty config fields take their defaults.
func New(cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.Sbatch == "" {
		cfg.Sbatch = def.Sbatch
	}
	if cfg.Sacct == "" {
		cfg.Sacct = def.Sacct
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Entrypoint == "" {
		cfg.Entrypoint = def.Entrypoint
	}
	if cfg.Retry.Attempts == 0 {
		cfg.Retry = def.Retry
	}

	e := &Executor{cfg: cfg, runner: ExecRunner{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SbatchArgs returns the full sbatch argument list for one job.
func (e *Executor) SbatchArgs(fn plan.Callable, args []any, kwargs map[string]any, params map[string]any) ([]string, error) {
	flags, err := Flags(params)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "cannot render sbatch options").WithCause(err)
	}
	if hasFlag(flags, "--dependency=") && !hasFlag(flags, "--kill-on-invalid-dep=") {
		// A job whose afterok predecessor failed would otherwise stay PENDING forever.
		flags = append(flags, "--kill-on-invalid-dep=yes")
	}
	if e.cfg.LogDir != "" {
		flags = append(flags, "--output="+filepath.Join(e.cfg.LogDir, "%x-%j.out"))
	}

	payload, err := json.Marshal(Payload{Args: args, Kwargs: kwargs})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "arguments of %s are not JSON-serializable", fn.Name()).WithCause(err)
	}
	wrap := strings.Join([]string{
		e.cfg.Entrypoint, "exec",
		"--action", shellQuote(fn.Name()),
		"--payload", shellQuote(string(payload)),
	}, " ")

	return append(flags, "--parsable", "--wrap", wrap), nil
}

func hasFlag(flags []string, prefix string) bool {
	for _, f := range flags {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

// Submit queues fn with sbatch and returns a handle that polls sacct.
func (e *Executor) Submit(ctx context.Context, fn plan.Callable, args []any, kwargs map[string]any, params map[string]any) (plan.Job, error) {
	if fn == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "callable is required")
	}
	argv, err := e.SbatchArgs(fn, args, kwargs, params)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = executor.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		var rerr error
		out, rerr = e.runner.Run(ctx, e.cfg.Sbatch, argv...)
		return rerr
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeScheduler, "sbatch failed").WithCause(err)
	}

	id := parseJobID(out)
	if id == "" {
		return nil, schema.NewErrorf(schema.ErrCodeScheduler, "sbatch returned no job id: %q", strings.TrimSpace(string(out)))
	}

	e.metrics.JobSubmitted(Backend)
	logging.LogWith(logging.WithJobID(ctx, id), e.logger).Info("job submitted",
		"action", fn.Name(), "name", executor.JobName(params, fn.Name()))

	return &Job{id: id, exec: e, submitted: time.Now()}, nil
}

// parseJobID reads "<id>" or "<id>;<cluster>" as printed by --parsable.
func parseJobID(out []byte) string {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	id, _, _ := strings.Cut(line, ";")
	return id
}

// State asks sacct for the job's current state. An empty state means the
// job is not in the accounting database yet.
func (e *Executor) State(ctx context.Context, id string) (string, error) {
	var out []byte
	err := executor.Retry(ctx, e.cfg.Retry, func(ctx context.Context) error {
		var rerr error
		out, rerr = e.runner.Run(ctx, e.cfg.Sacct,
			"--jobs", id, "--allocations", "--noheader", "--parsable2", "--format=State")
		return rerr
	})
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeScheduler, "sacct failed for job %s", id).WithCause(err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if f := strings.Fields(line); len(f) > 0 {
			return f[0], nil
		}
	}
	return "", nil
}

var terminalStates = map[string]bool{
	"COMPLETED":     true,
	"FAILED":        true,
	"CANCELLED":     true,
	"TIMEOUT":       true,
	"OUT_OF_MEMORY": true,
	"NODE_FAIL":     true,
	"PREEMPTED":     true,
	"BOOT_FAIL":     true,
	"DEADLINE":      true,
	"REVOKED":       true,
}

// IsTerminal reports whether a job in state will not change any more.
func IsTerminal(state string) bool {
	return terminalStates[strings.TrimSuffix(state, "+")]
}

// Job is the handle of a Slurm job.
type Job struct {
	id        string
	exec      *Executor
	submitted time.Time

	mu    sync.Mutex
	state string
	err   error
	once  sync.Once
}

// ID returns the Slurm job id.
func (j *Job) ID() string { return j.id }

// Result polls sacct until the job reaches a terminal state. A COMPLETED
// job yields its final state; any other terminal state is an error.
func (j *Job) Result(ctx context.Context) (any, error) {
	if state, ok, err := j.final(); ok {
		return state, err
	}

	ticker := time.NewTicker(j.exec.cfg.PollInterval)
	defer ticker.Stop()
	for {
		state, err := j.exec.State(ctx, j.id)
		if err != nil {
			return nil, err
		}
		if IsTerminal(state) {
			return j.settle(state)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll asks sacct once for the job's state. A terminal state is cached
// like in Result.
func (j *Job) Poll(ctx context.Context) (string, bool, error) {
	if state, ok, err := j.final(); ok {
		return state, true, err
	}
	state, err := j.exec.State(ctx, j.id)
	if err != nil {
		return "", false, err
	}
	if !IsTerminal(state) {
		if state == "" {
			state = "PENDING"
		}
		return state, false, nil
	}
	res, err := j.settle(state)
	final, _ := res.(string)
	return final, true, err
}

func (j *Job) final() (string, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state, j.state != "", j.err
}

func (j *Job) settle(state string) (any, error) {
	j.once.Do(func() {
		var err error
		if state != "COMPLETED" {
			err = schema.NewErrorf(schema.ErrCodeExecution, "job %s ended in state %s", j.id, state).
				WithDetails(map[string]any{"job_id": j.id, "state": state})
		}
		j.mu.Lock()
		j.state, j.err = state, err
		j.mu.Unlock()

		j.exec.metrics.JobFinished(Backend, time.Since(j.submitted), err)
		logger := logging.LogWith(logging.WithJobID(context.Background(), j.id), j.exec.logger)
		if err != nil {
			logger.Warn("job failed", "state", state)
		} else {
			logger.Info("job completed")
		}
	})
	final, _, err := j.final()
	return final, err
}

var (
	_ plan.Scheduler = (*Executor)(nil)
	_ plan.Poller    = (*Job)(nil)
)
