// Package mcp exposes planit to agents over the Model Context Protocol.
// The server speaks stdio and offers tools to describe, validate and submit
// plan definitions and to list the registered actions.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/planit/internal/actions"
	"github.com/rendis/planit/internal/loader"
	"github.com/rendis/planit/internal/metrics"
	"github.com/rendis/planit/internal/validation"
	"github.com/rendis/planit/pkg/plan"
)

// PlanitServerDeps holds the dependencies for creating a PlanitServer.
type PlanitServerDeps struct {
	Loader    *loader.Loader
	Registry  *actions.Registry
	Scheduler plan.Scheduler // nil disables planit.submit
	Backend   string
	Policies  *validation.PolicyChecker
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Version   string
}

// PlanitServer wraps an MCP server with planit tool handlers.
type PlanitServer struct {
	loader    *loader.Loader
	registry  *actions.Registry
	scheduler plan.Scheduler
	backend   string
	policies  *validation.PolicyChecker
	metrics   *metrics.Metrics
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewPlanitServer creates a PlanitServer with all tools registered.
func NewPlanitServer(deps PlanitServerDeps) *PlanitServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &PlanitServer{
		loader:    deps.Loader,
		registry:  deps.Registry,
		scheduler: deps.Scheduler,
		backend:   deps.Backend,
		policies:  deps.Policies,
		metrics:   deps.Metrics,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"planit",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("planit turns a plan of steps, chains and parallel groups into dependent batch jobs. "+
			"Use planit.describe to see the structure and time estimate of a plan definition, planit.validate to check it "+
			"against the plan schema and resource policies, planit.submit to queue it on the configured backend, "+
			"and planit.actions to list the actions a step can run."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *PlanitServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *PlanitServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *PlanitServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: describeTool(), Handler: s.handleDescribe},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: submitTool(), Handler: s.handleSubmit},
		{Tool: actionsTool(), Handler: s.handleActions},
	}
}

// --- Tool definitions ---

func definitionOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("definition", mcp.Description("Plan definition source. Either definition or path is required.")),
		mcp.WithString("path", mcp.Description("Path to a plan file readable by the server; the format follows the extension")),
		mcp.WithString("format",
			mcp.Enum("json", "yaml", "hcl"),
			mcp.Description("Encoding of definition (default: json)"),
		),
	}
}

func describeTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Render a plan's structure and estimate its duration, not taking queueing into account"),
	}, definitionOptions()...)
	return mcp.NewTool("planit.describe", opts...)
}

func validateTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Check a plan definition against the plan schema, registered actions and resource policies"),
	}, definitionOptions()...)
	return mcp.NewTool("planit.validate", opts...)
}

func submitTool() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription("Submit a plan to the configured scheduler backend and return the job id of every step"),
		mcp.WithBoolean("wait", mcp.Description("Block until every job has finished (default: false)")),
	}, definitionOptions()...)
	return mcp.NewTool("planit.submit", opts...)
}

func actionsTool() mcp.Tool {
	return mcp.NewTool("planit.actions",
		mcp.WithDescription("List the actions plan steps can run"),
		mcp.WithString("name", mcp.Description("Return the input and output schema of this action only")),
	)
}
