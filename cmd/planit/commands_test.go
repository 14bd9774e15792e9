package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/planit/pkg/schema"
)

const etlPlan = `
name: etl
vars:
  greeting: hello
root:
  chain:
    - step: {name: extract, action: echo, args: ["${{ vars.greeting }}"], slurm: {time: "00:10:00"}}
    - parallel:
        - step: {name: train, action: noop, slurm: {time: "04:00:00", gpus_per_node: 2}}
        - step: {name: stats, action: noop, raw: {slurm_time: "00:30:00"}}
`

// execute runs the root command against a local-backend settings file and
// returns what it printed on stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("backend: local\nlog_level: error\npool_size: 2\n"), 0o644))

	var stdout, stderr bytes.Buffer
	Root.SetOut(&stdout)
	Root.SetErr(&stderr)
	Root.SetArgs(append([]string{"--config", cfgPath}, args...))
	t.Cleanup(func() {
		Root.SetOut(nil)
		Root.SetErr(nil)
		Root.SetArgs(nil)
	})

	err := Root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func writePlan(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDescribeCommand(t *testing.T) {
	out, err := execute(t, "describe", writePlan(t, "etl.yaml", etlPlan))
	require.NoError(t, err)

	assert.Contains(t, out, "Plan: etl")
	assert.Contains(t, out, "extract [00:10:00]")
	assert.Contains(t, out, "stats [00:30:00]")
	assert.Contains(t, out, "time estimate (not taking queuing into account): 04:10:00")
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", writePlan(t, "etl.yaml", etlPlan))
	require.NoError(t, err)
	assert.Contains(t, out, "is valid (0 warnings)")
}

func TestValidateCommandReportsErrors(t *testing.T) {
	bad := strings.Replace(etlPlan, "action: echo", "action: train_model", 1)
	out, err := execute(t, "validate", writePlan(t, "bad.yaml", bad))
	require.ErrorIs(t, err, errInvalidPlan)
	assert.Contains(t, out, schema.ErrCodeNotFound)
	assert.Contains(t, out, "train_model")
	assert.Contains(t, strings.ToUpper(out), "SEVERITY")
}

func TestSubmitCommandLocal(t *testing.T) {
	out, err := execute(t, "submit", writePlan(t, "etl.yaml", etlPlan))
	require.NoError(t, err)

	assert.Contains(t, out, "plan etl, estimate 04:10:00")
	assert.Contains(t, strings.ToUpper(out), "STATUS")
	assert.Equal(t, 3, strings.Count(out, "COMPLETED"))
	assert.NotContains(t, out, "FAILED")
}

func TestSubmitCommandFailure(t *testing.T) {
	failing := strings.Replace(etlPlan,
		"{name: stats, action: noop, raw: {slurm_time: \"00:30:00\"}}",
		"{name: stats, action: shell.exec, kwargs: {command: \"false\"}, raw: {slurm_time: \"00:30:00\"}}", 1)
	out, err := execute(t, "submit", writePlan(t, "etl.yaml", failing))
	require.Error(t, err)
	assert.Contains(t, out, "FAILED")
	assert.Equal(t, 2, strings.Count(out, "COMPLETED"))
}

func TestExecCommand(t *testing.T) {
	out, err := execute(t, "exec", "--action", "echo", "--payload", `{"args": [1, "a"], "kwargs": {"k": "v"}}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"args": [1, "a"], "kwargs": {"k": "v"}}`, out)
}

func TestExecCommandErrors(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		payload string
		code    string
	}{
		{"unknown action", "train_model", `{}`, schema.ErrCodeNotFound},
		{"bad payload", "echo", `{"args": `, schema.ErrCodeParse},
		{"kwargs schema", "shell.exec", `{"kwargs": {"command": "true", "check": "yes"}}`, schema.ErrCodeValidation},
		{"action fails", "shell.exec", `{"kwargs": {"command": "false"}}`, schema.ErrCodeExecution},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, "exec", "--action", tc.action, "--payload", tc.payload)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, tc.code), err.Error())
		})
	}
}

func TestActionsCommand(t *testing.T) {
	out, err := execute(t, "actions")
	require.NoError(t, err)
	assert.Contains(t, strings.ToUpper(out), "DESCRIPTION")
	for _, name := range []string{"echo", "noop", "sleep", "shell.exec", "jq", "expr.eval"} {
		assert.Contains(t, out, name)
	}

	out, err = execute(t, "actions", "shell.exec")
	require.NoError(t, err)
	assert.Contains(t, out, `"input_schema"`)
	assert.Contains(t, out, `"command"`)
}

func TestScheduleCommandRejectsBadCron(t *testing.T) {
	_, err := execute(t, "schedule", "--cron", "every tuesday", writePlan(t, "etl.yaml", etlPlan))
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConfig))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}
