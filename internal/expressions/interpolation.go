package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rendis/planit/pkg/schema"
)

// Scope holds the namespaces a ${{ }} reference can read.
type Scope struct {
	Vars map[string]any    // plan variables
	Env  map[string]string // process environment
	Plan map[string]any    // plan metadata: name, plus definition metadata
}

func (s *Scope) namespaces() map[string]any {
	env := make(map[string]any, len(s.Env))
	for k, v := range s.Env {
		env[k] = v
	}
	return map[string]any{
		"vars": orEmpty(s.Vars),
		"env":  env,
		"plan": orEmpty(s.Plan),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var pathRef = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_\-]+)+$`)

// Interpolator resolves ${{ ... }} references in plan definitions. Plain
// dotted paths (vars.data_dir) are looked up directly and fail when
// missing. Anything else is evaluated as an expr expression over the
// vars, env and plan namespaces.
type Interpolator struct {
	engine *ExprEngine
}

// NewInterpolator creates an Interpolator backed by engine. A nil engine
// gets a fresh ExprEngine.
func NewInterpolator(engine *ExprEngine) *Interpolator {
	if engine == nil {
		engine = NewExprEngine()
	}
	return &Interpolator{engine: engine}
}

// Resolve walks v and replaces references in every string it finds. A
// string made of a single reference takes the referenced value with its
// type; references embedded in text are stringified.
func (in *Interpolator) Resolve(ctx context.Context, v any, scope *Scope) (any, error) {
	if scope == nil {
		scope = &Scope{}
	}
	return in.resolve(ctx, v, scope.namespaces())
}

func (in *Interpolator) resolve(ctx context.Context, v any, ns map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return in.resolveString(ctx, val, ns)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			r, err := in.resolve(ctx, item, ns)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := in.resolve(ctx, item, ns)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveString resolves the references in s and always returns a string.
func (in *Interpolator) ResolveString(ctx context.Context, s string, scope *Scope) (string, error) {
	v, err := in.Resolve(ctx, s, scope)
	if err != nil {
		return "", err
	}
	return inline(v), nil
}

func (in *Interpolator) resolveString(ctx context.Context, s string, ns map[string]any) (any, error) {
	if !HasInterpolation(s) {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${{")
		if idx == -1 {
			b.WriteString(s[i:])
			break
		}
		b.WriteString(s[i : i+idx])
		start := i + idx + 3

		end := strings.Index(s[start:], "}}")
		if end == -1 {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression").
				WithDetails(map[string]any{"input": s})
		}
		end += start

		ref := strings.TrimSpace(s[start:end])
		if ref == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "empty reference: ${{ }}")
		}
		if strings.Contains(ref, "${{") {
			return nil, schema.NewError(schema.ErrCodeInterpolation, "nested interpolation is not allowed")
		}

		val, err := in.eval(ctx, ref, ns)
		if err != nil {
			return nil, err
		}

		// The whole string is one reference: keep the value's type.
		if i == 0 && idx == 0 && end+2 == len(s) {
			return val, nil
		}
		b.WriteString(inline(val))
		i = end + 2
	}
	return b.String(), nil
}

func (in *Interpolator) eval(ctx context.Context, ref string, ns map[string]any) (any, error) {
	if pathRef.MatchString(ref) {
		return lookup(ns, ref)
	}
	val, err := in.engine.Evaluate(ctx, ref, ns)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation, "cannot evaluate ${{ %s }}", ref).WithCause(err)
	}
	return val, nil
}

// lookup resolves a dotted path, listing what is available when a
// segment is missing.
func lookup(ns map[string]any, ref string) (any, error) {
	segments := strings.Split(ref, ".")
	root, ok := ns[segments[0]]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in ${{ %s }}; available: %s", segments[0], ref, strings.Join(keys(ns), ", ")).
			WithDetails(map[string]any{"expression": ref})
	}

	current := root
	for _, seg := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot traverse into %T at %q in ${{ %s }}", current, seg, ref).
				WithDetails(map[string]any{"expression": ref})
		}
		val, ok := m[seg]
		if !ok {
			available := keys(m)
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"%q not found in ${{ %s }}; available: [%s]", seg, ref, strings.Join(available, ", ")).
				WithDetails(map[string]any{"expression": ref, "available": available})
		}
		current = val
	}
	return current, nil
}

// inline renders a resolved value inside a larger string.
func inline(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case bool, int, int64, float64:
		return fmt.Sprint(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// HasInterpolation reports whether s contains a ${{ reference.
func HasInterpolation(s string) bool {
	return strings.Contains(s, "${{")
}
