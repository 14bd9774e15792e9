package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rendis/planit/pkg/schema"
)

const (
	defaultShellTimeout  = 24 * time.Hour
	defaultMaxOutputSize = 10 * 1024 * 1024 // 10MB
)

// ShellConfig configures the shell.exec action.
type ShellConfig struct {
	DefaultTimeout time.Duration
	MaxOutputSize  int64
}

// ShellActions returns all shell-related actions.
func ShellActions(cfg ShellConfig) []Action {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultShellTimeout
	}
	if cfg.MaxOutputSize <= 0 {
		cfg.MaxOutputSize = defaultMaxOutputSize
	}
	return []Action{
		&shellExecAction{cfg: cfg},
	}
}

const shellExecInputSchema = `{
  "type": "object",
  "properties": {
    "command": {"type": "string"},
    "args": {"type": "array", "items": {"type": "string"}},
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "cwd": {"type": "string"},
    "stdin": {"type": "string"},
    "timeout": {"type": ["string", "number"]},
    "shell": {"type": "boolean", "default": false},
    "check": {"type": "boolean", "default": true}
  }
}`

const shellExecOutputSchema = `{
  "type": "object",
  "properties": {
    "stdout": {"description": "parsed JSON if valid, raw string otherwise"},
    "stdout_raw": {"type": "string"},
    "stderr": {"type": "string"},
    "exit_code": {"type": "integer"},
    "duration_ms": {"type": "integer"},
    "killed": {"type": "boolean"}
  }
}`

// shellExecAction runs a command. The command comes from the "command"
// keyword, or from the first positional argument with the rest as its
// arguments.
type shellExecAction struct {
	cfg ShellConfig
}

func (a *shellExecAction) Name() string { return "shell.exec" }

func (a *shellExecAction) Schema() ActionSchema {
	return ActionSchema{
		Description:  "Run a command, capturing stdout, stderr and exit code. Fails on a non-zero exit unless check=false.",
		InputSchema:  json.RawMessage(shellExecInputSchema),
		OutputSchema: json.RawMessage(shellExecOutputSchema),
	}
}

func (a *shellExecAction) Call(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	command := stringParam(kwargs, "command", "")
	cmdArgs := stringSlice(kwargs["args"])
	if command == "" {
		pos := stringSlice(args)
		if len(pos) == 0 {
			return nil, schema.NewError(schema.ErrCodeValidation, "shell.exec: missing command")
		}
		command, cmdArgs = pos[0], append(pos[1:], cmdArgs...)
	}

	timeout, err := durationParam(kwargs, "timeout", a.cfg.DefaultTimeout)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "shell.exec: %v", err)
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if boolParam(kwargs, "shell", false) {
		full := strings.TrimSpace(command + " " + strings.Join(cmdArgs, " "))
		cmd = exec.CommandContext(execCtx, "/bin/sh", "-c", full)
	} else {
		cmd = exec.CommandContext(execCtx, command, cmdArgs...)
	}

	if cwd := stringParam(kwargs, "cwd", ""); cwd != "" {
		cmd.Dir = cwd
	}
	if env := stringMapParam(kwargs, "env"); env != nil {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	if stdin := stringParam(kwargs, "stdin", ""); stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: a.cfg.MaxOutputSize}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: a.cfg.MaxOutputSize}

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	killed := false
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "shell.exec: %v", runErr).WithCause(runErr)
		}
		exitCode = exitErr.ExitCode()
		killed = execCtx.Err() != nil
	}

	raw := stdout.String()
	var parsed any = raw
	if stdout.Len() > 0 && json.Valid(stdout.Bytes()) {
		var v any
		if err := json.Unmarshal(stdout.Bytes(), &v); err == nil {
			parsed = v
		}
	}

	result := map[string]any{
		"stdout":      parsed,
		"stdout_raw":  raw,
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"duration_ms": elapsed.Milliseconds(),
		"killed":      killed,
	}

	if runErr != nil && boolParam(kwargs, "check", true) {
		return result, schema.NewErrorf(schema.ErrCodeExecution, "shell.exec: %s exited with code %d", command, exitCode).
			WithCause(runErr).
			WithDetails(map[string]any{"exit_code": exitCode, "killed": killed, "stderr": stderr.String()})
	}
	return result, nil
}

// limitedWriter discards bytes beyond limit but reports them as written so
// the child process never blocks on a full pipe.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	total := len(p)
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return total, nil
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return total, err
	}
	return total, nil
}
