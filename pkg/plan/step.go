package plan

import (
	"sync"
	"time"

	"github.com/rendis/planit/pkg/schema"
	"github.com/rendis/planit/pkg/walltime"
)

// Step is a single job: a callable, its arguments and the resources it
// requests. The time budget is parsed when the step is built.
type Step struct {
	name      string
	fn        Callable
	args      []any
	kwargs    map[string]any
	res       schema.Resources
	timeLimit string
	duration  time.Duration

	mu  sync.Mutex
	job Job
}

// StepOption configures optional Step fields.
type StepOption func(*Step)

// WithArgs sets the positional arguments passed to the callable.
func WithArgs(args ...any) StepOption {
	return func(s *Step) {
		s.args = append([]any(nil), args...)
	}
}

// WithKwargs sets the keyword arguments passed to the callable.
func WithKwargs(kwargs map[string]any) StepOption {
	return func(s *Step) {
		s.kwargs = make(map[string]any, len(kwargs))
		for k, v := range kwargs {
			s.kwargs[k] = v
		}
	}
}

type validator interface {
	Validate() error
}

// NewStep builds a leaf node. It fails with CONFIG_ERROR when the
// resources are missing or incomplete, and PARSE_ERROR when the time
// budget is malformed.
func NewStep(name string, fn Callable, res schema.Resources, opts ...StepOption) (*Step, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "step name is required")
	}
	if fn == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "callable is required").WithStep(name)
	}
	if res == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "resources are required").WithStep(name)
	}
	if v, ok := res.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, stepError(name, err)
		}
	}

	tl, err := res.TimeLimit()
	if err != nil {
		return nil, stepError(name, err)
	}
	d, err := walltime.Parse(tl)
	if err != nil {
		return nil, stepError(name, err)
	}

	s := &Step{
		name:      name,
		fn:        fn,
		res:       res,
		timeLimit: tl,
		duration:  d,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MustStep is like NewStep but panics on error.
func MustStep(name string, fn Callable, res schema.Resources, opts ...StepOption) *Step {
	s, err := NewStep(name, fn, res, opts...)
	if err != nil {
		panic(err)
	}
	return s
}

// stepError tags err with the step name, keeping its code.
func stepError(name string, err error) error {
	if pe, ok := err.(*schema.PlanitError); ok && pe.Step == "" {
		return pe.WithStep(name)
	}
	return err
}

// Name returns the step name.
func (s *Step) Name() string { return s.name }

// Callable returns the work the step runs.
func (s *Step) Callable() Callable { return s.fn }

// Args returns a copy of the positional arguments.
func (s *Step) Args() []any { return append([]any(nil), s.args...) }

// Kwargs returns a copy of the keyword arguments.
func (s *Step) Kwargs() map[string]any {
	out := make(map[string]any, len(s.kwargs))
	for k, v := range s.kwargs {
		out[k] = v
	}
	return out
}

// Resources returns the resource request.
func (s *Step) Resources() schema.Resources { return s.res }

// TimeLimit returns the budget exactly as it was written.
func (s *Step) TimeLimit() string { return s.timeLimit }

// EstimatedDuration is the parsed time budget.
func (s *Step) EstimatedDuration() time.Duration { return s.duration }

func (*Step) isNode() {}

// Job returns the submitted job, if any.
func (s *Step) Job() (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.job, s.job != nil
}

func (s *Step) setJob(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job != nil {
		return schema.NewErrorf(schema.ErrCodeAlreadySubmitted, "already submitted as job %s", s.job.ID()).
			WithStep(s.name)
	}
	s.job = job
	return nil
}

func (s *Step) submitted() bool {
	_, ok := s.Job()
	return ok
}
