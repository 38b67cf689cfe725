package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/deskflow/internal/engine"
	"github.com/rendis/deskflow/internal/expressions"
	"github.com/rendis/deskflow/internal/provider"
	"github.com/rendis/deskflow/internal/scheduler"
	"github.com/rendis/deskflow/internal/store"
	"github.com/rendis/deskflow/internal/validation"
)

// DeskflowServerDeps holds the dependencies for creating a DeskflowServer.
// Scheduler may be nil, in which case workflow.schedule reports an error.
type DeskflowServerDeps struct {
	Service   *engine.Service
	Validator *validation.GraphValidator
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Resolver  provider.ActorResolver
	Query     *expressions.QueryEngine
	Logger    *slog.Logger
}

// DeskflowServer wraps an MCP server with the workflow tool handlers.
type DeskflowServer struct {
	service   *engine.Service
	validator *validation.GraphValidator
	store     store.Store
	scheduler *scheduler.Scheduler
	resolver  provider.ActorResolver
	query     *expressions.QueryEngine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewDeskflowServer creates a DeskflowServer with all tools registered.
func NewDeskflowServer(deps DeskflowServerDeps) *DeskflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	query := deps.Query
	if query == nil {
		query = expressions.NewQueryEngine()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = provider.StaticResolver{}
	}

	s := &DeskflowServer{
		service:   deps.Service,
		validator: deps.Validator,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		resolver:  resolver,
		query:     query,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"deskflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Deskflow runs support-desk workflow graphs. Use workflow.run to execute an ad-hoc graph, workflow.validate to check a graph document, workflow.define to store a graph, workflow.execute to run a stored graph, workflow.list to browse definitions, runs, events and jobs, workflow.diagram to draw a graph, and workflow.schedule to run a stored graph on a cron schedule."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *DeskflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *DeskflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *DeskflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: scheduleTool(), Handler: s.handleSchedule},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("workflow.run",
		mcp.WithDescription("Execute an ad-hoc workflow graph"),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Node records: id, type and data")),
		mcp.WithArray("edges", mcp.Required(), mcp.Description("Edge records: source, target and optional sourceHandle")),
		mcp.WithObject("initial_inputs", mcp.Description("Initial workflow context")),
		mcp.WithString("query", mcp.Description("Optional jq expression applied to the run result")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("workflow.validate",
		mcp.WithDescription("Validate a workflow graph document"),
		mcp.WithObject("graph", mcp.Description("Graph object with nodes and edges")),
		mcp.WithString("document", mcp.Description("Graph document text, used when graph is absent")),
		mcp.WithString("format",
			mcp.Enum("json", "yaml"),
			mcp.Description("Format of document (default: json)"),
		),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("workflow.define",
		mcp.WithDescription("Store a named workflow graph"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Definition name")),
		mcp.WithObject("graph", mcp.Required(), mcp.Description("Graph object with nodes and edges")),
		mcp.WithString("description", mcp.Description("Definition description")),
	)
}

func executeTool() mcp.Tool {
	return mcp.NewTool("workflow.execute",
		mcp.WithDescription("Execute a stored workflow definition"),
		mcp.WithString("definition_id", mcp.Description("ID of the stored definition")),
		mcp.WithString("name", mcp.Description("Name of the stored definition, used when definition_id is absent")),
		mcp.WithObject("inputs", mcp.Description("Initial workflow context")),
		mcp.WithString("query", mcp.Description("Optional jq expression applied to the run result")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("workflow.list",
		mcp.WithDescription("List definitions, runs, events, or scheduled jobs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("definitions", "runs", "events", "jobs"),
			mcp.Description("Type of resource to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (name_prefix, definition_id, status, since, run_id, limit)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("workflow.diagram",
		mcp.WithDescription("Generate a diagram of a workflow. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("definition_id", mcp.Description("Stored definition to draw")),
		mcp.WithString("run_id", mcp.Description("Recorded run to draw, with its path highlighted")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("workflow.schedule",
		mcp.WithDescription("Run a stored workflow definition on a cron schedule"),
		mcp.WithString("definition_id", mcp.Required(), mcp.Description("ID of the stored definition")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Five-field cron expression")),
		mcp.WithObject("inputs", mcp.Description("Initial workflow context for each run")),
	)
}
