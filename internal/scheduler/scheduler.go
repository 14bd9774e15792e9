// Package scheduler submits plans on a cron schedule. Every run reloads
// its plan, so edits to a plan file apply from the next tick on.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/planit/internal/logging"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/schema"
)

// PlanSource produces a fresh plan for each run.
type PlanSource interface {
	Load(ctx context.Context) (*plan.Plan, error)
}

// PlanSourceFunc adapts a function into a PlanSource.
type PlanSourceFunc func(ctx context.Context) (*plan.Plan, error)

// Load calls f.
func (f PlanSourceFunc) Load(ctx context.Context) (*plan.Plan, error) { return f(ctx) }

// Hook runs after a plan is loaded and before it is submitted. Returning
// an error skips the run.
type Hook func(ctx context.Context, p *plan.Plan) error

// Run describes one scheduled submission.
type Run struct {
	Entry    string
	Plan     string
	Started  time.Time
	Finished time.Time
	Jobs     map[string]string // step name -> job id
	Err      error
}

// Status is a snapshot of a scheduled entry.
type Status struct {
	ID         string    `json:"id"`
	Cron       string    `json:"cron"`
	NextRunAt  time.Time `json:"next_run_at"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastStatus string    `json:"last_status,omitempty"`
	Running    bool      `json:"running"`
}

type entry struct {
	id       string
	expr     string
	schedule cron.Schedule
	source   PlanSource
	next     time.Time
	lastRun  time.Time
	status   string
}

// Scheduler checks its entries on every tick and submits those that are
// due. An entry never overlaps with itself: while a run is in flight the
// entry's ticks are skipped.
type Scheduler struct {
	sched  plan.Scheduler
	parser cron.Parser
	logger *slog.Logger

	tickInterval time.Duration
	now          func() time.Time
	wait         bool
	beforeSubmit Hook
	onRun        func(Run)

	mu      sync.Mutex
	entries map[string]*entry
	cancel  context.CancelFunc
	done    chan struct{}
	runs    sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithTickInterval sets how often entries are checked. The default is 30s.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithWait makes each run wait for its jobs to finish, so the next run of
// the same entry cannot start while the previous one is still queued.
func WithWait(wait bool) Option {
	return func(s *Scheduler) { s.wait = wait }
}

// WithBeforeSubmit installs a hook such as a policy check.
func WithBeforeSubmit(h Hook) Option {
	return func(s *Scheduler) { s.beforeSubmit = h }
}

// WithOnRun registers a callback invoked after every run.
func WithOnRun(fn func(Run)) Option {
	return func(s *Scheduler) { s.onRun = fn }
}

// New creates a Scheduler that submits through sched.
func New(sched plan.Scheduler, opts ...Option) *Scheduler {
	s := &Scheduler{
		sched:        sched,
		parser:       cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:       slog.Default(),
		tickInterval: 30 * time.Second,
		now:          time.Now,
		entries:      make(map[string]*entry),
		inflight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add schedules source under id with a five-field cron expression (or a
// descriptor such as @daily).
func (s *Scheduler) Add(id, expr string, source PlanSource) error {
	if source == nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "schedule %q has no plan source", id)
	}
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeConfig, "invalid cron expression %q", expr).WithCause(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[id]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule %q already exists", id)
	}
	s.entries[id] = &entry{
		id:       id,
		expr:     expr,
		schedule: schedule,
		source:   source,
		next:     schedule.Next(s.now()),
	}
	return nil
}

// Remove drops an entry. A run in flight is not interrupted.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// Entries returns the status of every entry, sorted by id.
func (s *Scheduler) Entries() []Status {
	s.mu.Lock()
	out := make([]Status, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Status{
			ID:         e.id,
			Cron:       e.expr,
			NextRunAt:  e.next,
			LastRunAt:  e.lastRun,
			LastStatus: e.status,
		})
	}
	s.mu.Unlock()

	for i := range out {
		out[i].Running = s.isInflight(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started", "entries", len(s.Entries()), "tick", s.tickInterval)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts every entry that is due and not already running.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []*entry
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		if !s.tryAcquire(e.id) {
			s.logger.Warn("previous run still in flight, skipping", "schedule", e.id)
			e.next = e.schedule.Next(now)
			continue
		}
		e.next = e.schedule.Next(now)
		due = append(due, e)
	}
	s.runs.Add(len(due))
	s.mu.Unlock()

	for _, e := range due {
		go func(e *entry) {
			defer s.runs.Done()
			defer s.releaseJob(e.id)
			s.record(e, s.run(ctx, e.id, e.source))
		}(e)
	}
}

// RunNow runs the entry immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, id string) (Run, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Run{}, schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	if !s.tryAcquire(id) {
		return Run{}, schema.NewErrorf(schema.ErrCodeConflict, "schedule %q is already running", id)
	}
	defer s.releaseJob(id)

	r := s.run(ctx, id, e.source)
	s.record(e, r)
	return r, r.Err
}

func (s *Scheduler) run(ctx context.Context, id string, source PlanSource) (r Run) {
	ctx, _ = logging.NewRun(ctx)
	r = Run{Entry: id, Started: s.now()}
	defer func() { r.Finished = s.now() }()

	p, err := source.Load(ctx)
	if err != nil {
		r.Err = fmt.Errorf("load plan: %w", err)
		return r
	}
	r.Plan = p.Name()
	ctx = logging.WithPlan(ctx, p.Name())

	if s.beforeSubmit != nil {
		if err := s.beforeSubmit(ctx, p); err != nil {
			r.Err = err
			return r
		}
	}

	jobs, err := p.Submit(ctx, s.sched)
	r.Jobs = jobIDs(p)
	if err != nil {
		r.Err = err
		return r
	}
	logging.LogWith(ctx, s.logger).Info("scheduled plan submitted", "schedule", id, "jobs", len(jobs))

	if s.wait {
		r.Err = p.Wait(ctx)
	}
	return r
}

func (s *Scheduler) record(e *entry, r Run) {
	status := "success"
	if r.Err != nil {
		status = "error"
		s.logger.Error("scheduled run failed", "schedule", e.id, "plan", r.Plan, "error", r.Err)
	}

	s.mu.Lock()
	e.lastRun = r.Started
	e.status = status
	s.mu.Unlock()

	if s.onRun != nil {
		s.onRun(r)
	}
}

func jobIDs(p *plan.Plan) map[string]string {
	out := make(map[string]string)
	for _, st := range p.Steps() {
		if job, ok := st.Job(); ok {
			out[st.Name()] = job.ID()
		}
	}
	return out
}

// tryAcquire marks id as in flight unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) releaseJob(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

func (s *Scheduler) isInflight(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

// CalculateNextRun computes the next activation of expr after from.
func (s *Scheduler) CalculateNextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// Stop ends the loop and waits for runs in flight.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	<-done
	s.runs.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}
