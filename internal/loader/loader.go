// Package loader turns plan files into executable plans. JSON and YAML
// documents are interpolated and checked against the plan schema before
// decoding; HCL files are decoded block by block. Either way the result is
// validated against the action registry and built into a *plan.Plan.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/rendis/planit/internal/actions"
	"github.com/rendis/planit/internal/expressions"
	"github.com/rendis/planit/internal/validation"
	"github.com/rendis/planit/pkg/plan"
	"github.com/rendis/planit/pkg/schema"
)

// Format is a plan file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// ParseFormat accepts a format name as given on the command line or in a
// tool call.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "hcl":
		return FormatHCL, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeParse, "unknown plan format %q (want json, yaml or hcl)", s)
	}
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", schema.NewErrorf(schema.ErrCodeParse, "cannot infer plan format of %q", path)
	}
	return ParseFormat(ext)
}

// Loader reads plan definitions and builds plans from them.
type Loader struct {
	registry  *actions.Registry
	validator *validation.DefinitionValidator
	interp    *expressions.Interpolator
	env       map[string]string
	logger    *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnv replaces the process environment exposed as ${{ env.* }}.
func WithEnv(env map[string]string) Option {
	return func(l *Loader) { l.env = env }
}

// WithLogger sets the logger used for validation warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a Loader that resolves actions through registry.
func New(registry *actions.Registry, opts ...Option) (*Loader, error) {
	if registry == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "loader needs an action registry")
	}
	dv, err := validation.NewDefinitionValidator(registry)
	if err != nil {
		return nil, err
	}
	l := &Loader{
		registry:  registry,
		validator: dv,
		interp:    expressions.NewInterpolator(nil),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.env == nil {
		l.env = environ()
	}
	return l, nil
}

// Validator exposes the definition validator, e.g. for action input checks.
func (l *Loader) Validator() *validation.DefinitionValidator {
	return l.validator
}

// LoadFile reads, validates and builds the plan in path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*plan.Plan, error) {
	def, err := l.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return l.Build(ctx, def)
}

// Load decodes data and builds the plan it describes.
func (l *Loader) Load(ctx context.Context, data []byte, format Format) (*plan.Plan, error) {
	def, err := l.Decode(ctx, data, format, "<input>")
	if err != nil {
		return nil, err
	}
	return l.Build(ctx, def)
}

// ReadFile reads and decodes the plan definition in path.
func (l *Loader) ReadFile(ctx context.Context, path string) (*schema.PlanDefinition, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return l.Decode(ctx, data, format, path)
}

// Decode parses data into a plan definition with every ${{ }} reference
// resolved. JSON and YAML documents are checked against the plan schema.
func (l *Loader) Decode(ctx context.Context, data []byte, format Format, filename string) (*schema.PlanDefinition, error) {
	switch format {
	case FormatHCL:
		def, err := decodeHCL(data, filename, l.env)
		if err != nil {
			return nil, err
		}
		return l.interpolateDefinition(ctx, def)
	case FormatYAML:
		js, err := yaml.YAMLToJSON(data)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeParse, "invalid YAML in %s", filename).WithCause(err)
		}
		return l.decodeJSON(ctx, js, filename)
	case FormatJSON:
		return l.decodeJSON(ctx, data, filename)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeParse, "unknown plan format %q", format)
	}
}

func (l *Loader) decodeJSON(ctx context.Context, data []byte, filename string) (*schema.PlanDefinition, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "invalid plan document in %s", filename).WithCause(err)
	}
	if doc == nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "plan document in %s is empty", filename)
	}

	resolved, err := l.interpolate(ctx, doc)
	if err != nil {
		return nil, err
	}

	checked, err := validation.ToDocument(resolved)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "cannot re-encode plan document").WithCause(err)
	}
	if err := l.validator.Schema().ValidateDocument(checked); err != nil {
		return nil, err
	}
	return toDefinition(resolved)
}

func (l *Loader) interpolateDefinition(ctx context.Context, def *schema.PlanDefinition) (*schema.PlanDefinition, error) {
	b, err := json.Marshal(def)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "cannot encode plan definition").WithCause(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "cannot encode plan definition").WithCause(err)
	}
	resolved, err := l.interpolate(ctx, doc)
	if err != nil {
		return nil, err
	}
	return toDefinition(resolved)
}

// interpolate resolves vars against env and plan first, then everything
// else against vars, env and plan.
func (l *Loader) interpolate(ctx context.Context, doc map[string]any) (map[string]any, error) {
	name, _ := doc["name"].(string)
	meta, _ := doc["metadata"].(map[string]any)
	planNS := make(map[string]any, len(meta)+1)
	for k, v := range meta {
		planNS[k] = v
	}
	planNS["name"] = name

	out := make(map[string]any, len(doc))
	scope := &expressions.Scope{Env: l.env, Plan: planNS}

	if raw, ok := doc["vars"]; ok {
		v, err := l.interp.Resolve(ctx, raw, scope)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "cannot resolve vars").WithCause(err)
		}
		out["vars"] = v
		if vars, ok := v.(map[string]any); ok {
			scope.Vars = vars
		}
	}

	for k, raw := range doc {
		if k == "vars" {
			continue
		}
		v, err := l.interp.Resolve(ctx, raw, scope)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "cannot resolve %s", k).WithCause(err)
		}
		out[k] = v
	}
	return out, nil
}

func toDefinition(doc map[string]any) (*schema.PlanDefinition, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "cannot encode plan document").WithCause(err)
	}
	var def schema.PlanDefinition
	if err := json.Unmarshal(b, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeParse, "cannot decode plan document").WithCause(err)
	}
	return &def, nil
}

// Validate runs the definition validator and logs its warnings.
func (l *Loader) Validate(ctx context.Context, def *schema.PlanDefinition) *schema.ValidationResult {
	result := l.validator.Validate(def)
	for _, w := range result.Warnings {
		l.logger.WarnContext(ctx, w.Message, "path", w.Path, "code", w.Code)
	}
	return result
}

// Build validates def and turns it into a plan.
func (l *Loader) Build(ctx context.Context, def *schema.PlanDefinition) (*plan.Plan, error) {
	if err := l.Validate(ctx, def).ToError(); err != nil {
		return nil, err
	}
	root, err := l.buildNode(&def.Root, def)
	if err != nil {
		return nil, err
	}
	return plan.New(def.Name, root, plan.WithLogger(l.logger)), nil
}

func (l *Loader) buildNode(n *schema.NodeDefinition, def *schema.PlanDefinition) (plan.Node, error) {
	switch n.Kind() {
	case "step":
		return l.buildStep(n.Step, def)
	case "chain":
		children, err := l.buildChildren(n.Chain, def)
		if err != nil {
			return nil, err
		}
		return plan.NewChain(children...), nil
	case "parallel":
		children, err := l.buildChildren(n.Parallel, def)
		if err != nil {
			return nil, err
		}
		return plan.NewParallel(children...), nil
	default:
		return nil, schema.NewError(schema.ErrCodeValidation, "node must hold one of step, chain or parallel")
	}
}

func (l *Loader) buildChildren(nodes []schema.NodeDefinition, def *schema.PlanDefinition) ([]plan.Node, error) {
	out := make([]plan.Node, 0, len(nodes))
	for i := range nodes {
		child, err := l.buildNode(&nodes[i], def)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func (l *Loader) buildStep(s *schema.StepDefinition, def *schema.PlanDefinition) (*plan.Step, error) {
	action, err := l.registry.Get(s.Action)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "action %q not registered", s.Action).
			WithStep(s.Name).WithCause(err)
	}

	var res schema.Resources
	switch {
	case s.Resources != "":
		profile, ok := def.Resources[s.Resources]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "resource profile %q is not defined", s.Resources).
				WithStep(s.Name)
		}
		res = profile
	case s.Slurm != nil:
		res = *s.Slurm
	case s.Raw != nil:
		res = s.Raw
	}

	return plan.NewStep(s.Name, action, res, plan.WithArgs(s.Args...), plan.WithKwargs(s.Kwargs))
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
