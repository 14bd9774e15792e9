package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/planit/internal/actions"
	"github.com/rendis/planit/internal/executor/local"
	"github.com/rendis/planit/internal/loader"
	"github.com/rendis/planit/internal/metrics"
	"github.com/rendis/planit/internal/validation"
	"github.com/rendis/planit/pkg/schema"
)

const planJSON = `{
  "name": "etl",
  "root": {"chain": [
    {"step": {"name": "extract", "action": "echo", "args": ["${{ plan.name }}"], "slurm": {"time": "00:10:00"}}},
    {"parallel": [
      {"step": {"name": "train", "action": "noop", "slurm": {"time": "04:00:00", "gpus_per_node": 2}}},
      {"step": {"name": "stats", "action": "noop", "raw": {"slurm_time": "00:30:00"}}}
    ]}
  ]}
}`

const planHCL = `
plan "etl" {
  step "extract" {
    action = "echo"
    slurm {
      time = "00:10:00"
    }
  }
}
`

type fixture struct {
	server  *PlanitServer
	exec    *local.Executor
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, policies ...validation.Policy) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	reg, err := actions.NewBuiltinRegistry(actions.ShellConfig{})
	require.NoError(t, err)
	ld, err := loader.New(reg, loader.WithEnv(map[string]string{}), loader.WithLogger(logger))
	require.NoError(t, err)
	checker, err := validation.NewPolicyChecker(policies)
	require.NoError(t, err)

	m := metrics.New()
	exec := local.New(local.WithPoolSize(2), local.WithMetrics(m), local.WithLogger(logger))
	t.Cleanup(exec.Shutdown)

	return &fixture{
		server: NewPlanitServer(PlanitServerDeps{
			Loader:    ld,
			Registry:  reg,
			Scheduler: exec,
			Backend:   local.Backend,
			Policies:  checker,
			Metrics:   m,
			Logger:    logger,
			Version:   "test",
		}),
		exec:    exec,
		metrics: m,
	}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func decodeResult(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	require.False(t, result.IsError, mcp.GetTextFromContent(result.Content[0]))

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(mcp.GetTextFromContent(result.Content[0])), &out))
	return out
}

// metricValue sums the gauge or counter samples of the named family.
func metricValue(t *testing.T, m *metrics.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			total += metric.GetGauge().GetValue() + metric.GetCounter().GetValue()
		}
	}
	return total
}

func errorText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.True(t, result.IsError)
	return mcp.GetTextFromContent(result.Content[0])
}

func TestDescribeTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleDescribe(context.Background(), buildRequest("planit.describe", map[string]any{
		"definition": planJSON,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)

	assert.Equal(t, "etl", out["plan"])
	assert.Equal(t, "04:10:00", out["estimate"])
	assert.Equal(t, float64(4*3600+600), out["estimated_seconds"])
	assert.Contains(t, out["tree"], "extract")
	assert.Contains(t, out["tree"], "stats")

	steps := out["steps"].([]any)
	require.Len(t, steps, 3)
	first := steps[0].(map[string]any)
	assert.Equal(t, "extract", first["name"])
	assert.Equal(t, "echo", first["action"])
	assert.Equal(t, "00:10:00", first["estimate"])

	assert.Equal(t, float64(4*3600+600), metricValue(t, f.metrics, "planit_plan_estimated_seconds"))
}

func TestDescribeToolHCL(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleDescribe(context.Background(), buildRequest("planit.describe", map[string]any{
		"definition": planHCL,
		"format":     "hcl",
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, "00:10:00", out["estimate"])
}

func TestDescribeToolFromPath(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "etl.json")
	require.NoError(t, os.WriteFile(path, []byte(planJSON), 0o644))

	result, err := f.server.handleDescribe(context.Background(), buildRequest("planit.describe", map[string]any{
		"path": path,
	}))
	require.NoError(t, err)
	assert.Equal(t, "etl", decodeResult(t, result)["plan"])
}

func TestDescribeToolInputErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"nothing", map[string]any{}, "definition or path is required"},
		{"both", map[string]any{"definition": planJSON, "path": "etl.json"}, "mutually exclusive"},
		{"bad format", map[string]any{"definition": planJSON, "format": "toml"}, "toml"},
		{"bad document", map[string]any{"definition": `{"name": `}, schema.ErrCodeParse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result, err := f.server.handleDescribe(context.Background(), buildRequest("planit.describe", tc.args))
			require.NoError(t, err)
			assert.Contains(t, errorText(t, result), tc.want)
		})
	}
}

func TestValidateTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleValidate(context.Background(), buildRequest("planit.validate", map[string]any{
		"definition": planJSON,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, true, out["valid"])
	assert.Empty(t, out["errors"])
	assert.Empty(t, out["warnings"])
}

func TestValidateToolPolicyViolation(t *testing.T) {
	f := newFixture(t, validation.Policy{Name: "short-jobs", Rule: `duration_seconds <= 3600`})

	result, err := f.server.handleValidate(context.Background(), buildRequest("planit.validate", map[string]any{
		"definition": planJSON,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, false, out["valid"])

	errs := out["errors"].([]any)
	require.Len(t, errs, 1)
	issue := errs[0].(map[string]any)
	assert.Equal(t, "step train", issue["path"])
	assert.Equal(t, schema.ErrCodePolicyViolation, issue["code"])
	assert.Contains(t, issue["message"], "short-jobs")
}

func TestValidateToolDefinitionErrors(t *testing.T) {
	f := newFixture(t)

	doc := `{"name": "x", "root": {"chain": [
	  {"step": {"name": "a", "action": "train", "raw": {"slurm_time": "1:00"}}},
	  {"parallel": []}
	]}}`
	result, err := f.server.handleValidate(context.Background(), buildRequest("planit.validate", map[string]any{
		"definition": doc,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, false, out["valid"])

	var codes []any
	for _, e := range out["errors"].([]any) {
		codes = append(codes, e.(map[string]any)["code"])
	}
	assert.Contains(t, codes, schema.ErrCodeNotFound)
	assert.NotEmpty(t, out["warnings"])
}

func TestValidateToolParseError(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleValidate(context.Background(), buildRequest("planit.validate", map[string]any{
		"definition": "name: [",
		"format":     "yaml",
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, false, out["valid"])
	errs := out["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, schema.ErrCodeParse, errs[0].(map[string]any)["code"])
}

func TestSubmitToolWait(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleSubmit(context.Background(), buildRequest("planit.submit", map[string]any{
		"definition": planJSON,
		"wait":       true,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)

	assert.Equal(t, "etl", out["plan"])
	assert.Equal(t, local.Backend, out["backend"])
	assert.NotEmpty(t, out["run_id"])
	assert.NotContains(t, out, "error")

	steps := out["steps"].([]any)
	require.Len(t, steps, 3)
	ids := map[string]bool{}
	for _, s := range steps {
		st := s.(map[string]any)
		assert.Equal(t, "COMPLETED", st["status"], st["name"])
		require.NotEmpty(t, st["job_id"])
		ids[st["job_id"].(string)] = true
	}
	assert.Len(t, ids, 3)

	assert.Equal(t, float64(3), metricValue(t, f.metrics, "planit_jobs_submitted_total"))
}

func TestSubmitToolWaitReportsFailedSteps(t *testing.T) {
	f := newFixture(t)
	failing := strings.Replace(planJSON,
		`"action": "echo", "args": ["${{ plan.name }}"]`,
		`"action": "shell.exec", "kwargs": {"command": "false"}`, 1)

	result, err := f.server.handleSubmit(context.Background(), buildRequest("planit.submit", map[string]any{
		"definition": failing,
		"wait":       true,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.NotEmpty(t, out["error"])

	steps := out["steps"].([]any)
	require.Len(t, steps, 3)
	for _, s := range steps {
		st := s.(map[string]any)
		assert.Equal(t, "FAILED", st["status"], st["name"])
		assert.NotEmpty(t, st["error"], st["name"])
	}
}

func TestSubmitToolWithoutWait(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleSubmit(context.Background(), buildRequest("planit.submit", map[string]any{
		"definition": planJSON,
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)

	for _, s := range out["steps"].([]any) {
		st := s.(map[string]any)
		assert.Equal(t, "SUBMITTED", st["status"])
		assert.NotEmpty(t, st["job_id"])
	}
	f.exec.Wait()
}

func TestSubmitToolPolicyRejects(t *testing.T) {
	f := newFixture(t, validation.Policy{Name: "short-jobs", Rule: `duration_seconds <= 3600`})

	result, err := f.server.handleSubmit(context.Background(), buildRequest("planit.submit", map[string]any{
		"definition": planJSON,
	}))
	require.NoError(t, err)
	text := errorText(t, result)
	assert.Contains(t, text, "submit rejected")
	assert.Contains(t, text, schema.ErrCodePolicyViolation)
	assert.Zero(t, metricValue(t, f.metrics, "planit_jobs_submitted_total"))
}

func TestSubmitToolNoScheduler(t *testing.T) {
	s := NewPlanitServer(PlanitServerDeps{})
	result, err := s.handleSubmit(context.Background(), buildRequest("planit.submit", map[string]any{
		"definition": planJSON,
	}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, result), "no scheduler backend configured")
}

func TestActionsTool(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleActions(context.Background(), buildRequest("planit.actions", nil))
	require.NoError(t, err)
	out := decodeResult(t, result)

	var names []string
	for _, a := range out["actions"].([]any) {
		names = append(names, a.(map[string]any)["name"].(string))
	}
	assert.Subset(t, names, []string{"echo", "noop", "sleep", "shell.exec", "jq", "expr.eval"})
	assert.IsIncreasing(t, names)
}

func TestActionsToolByName(t *testing.T) {
	f := newFixture(t)

	result, err := f.server.handleActions(context.Background(), buildRequest("planit.actions", map[string]any{
		"name": "shell.exec",
	}))
	require.NoError(t, err)
	out := decodeResult(t, result)
	assert.Equal(t, "shell.exec", out["name"])
	sch := out["schema"].(map[string]any)
	assert.NotEmpty(t, sch["description"])
	assert.NotEmpty(t, sch["input_schema"])

	result, err = f.server.handleActions(context.Background(), buildRequest("planit.actions", map[string]any{
		"name": "train",
	}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, result), schema.ErrCodeNotFound)
}
