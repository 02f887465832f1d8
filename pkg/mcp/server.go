// Package mcp exposes the workflow engine as MCP tools over stdio, so agent
// callers can define, execute, and observe workflows.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/strandlabs/strand/internal/engine"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/internal/validation"
)

// WorkflowEngine is the engine surface the MCP tools call into.
type WorkflowEngine interface {
	ExecuteWorkflow(ctx context.Context, tenantID, workflowID string, inputData, extraCtx map[string]any) (*store.Execution, error)
	CancelExecution(ctx context.Context, tenantID, executionID string) (*store.Execution, error)
	ExecutionStatus(ctx context.Context, tenantID, executionID string) (*engine.StatusView, error)
}

// StrandServerDeps holds the dependencies for creating a StrandServer.
type StrandServerDeps struct {
	Engine    WorkflowEngine
	Store     store.Store
	Validator validation.Validator
	Logger    *slog.Logger
}

// StrandServer wraps an MCP server with the engine's tool handlers.
type StrandServer struct {
	engine    WorkflowEngine
	store     store.Store
	validator validation.Validator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewStrandServer creates a server with all workflow tools registered.
func NewStrandServer(deps StrandServerDeps) *StrandServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &StrandServer{
		engine:    deps.Engine,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"strand",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Strand executes declarative multi-step workflows. Use workflow.define to register a definition, workflow.execute to run one, workflow.status to inspect an execution, workflow.cancel to stop one, and workflow.query to list resources. Agents and tool servers are registered with agent.register and toolserver.register."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *StrandServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *StrandServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *StrandServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: setStatusTool(), Handler: s.handleSetStatus},
		{Tool: registerAgentTool(), Handler: s.handleRegisterAgent},
		{Tool: registerToolServerTool(), Handler: s.handleRegisterToolServer},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("workflow.define",
		mcp.WithDescription("Register a workflow definition. Versions auto-increment per name."),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant owning the workflow")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition: {steps, timeout_seconds?, max_retries?, retry_strategy?}")),
		mcp.WithString("status", mcp.Enum("draft", "active"), mcp.Description("Initial status (default: active)")),
	)
}

func executeTool() mcp.Tool {
	return mcp.NewTool("workflow.execute",
		mcp.WithDescription("Execute an active workflow and wait for the result"),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant owning the workflow")),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to execute")),
		mcp.WithObject("input", mcp.Description("Input data, available to steps as {input.*}")),
		mcp.WithObject("context", mcp.Description("Extra context entries seeded alongside input")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("workflow.status",
		mcp.WithDescription("Get an execution with its step records ordered by start time"),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant owning the execution")),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to inspect")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("workflow.cancel",
		mcp.WithDescription("Cancel a pending or running execution. Cooperative: a step already running may still finish."),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant owning the execution")),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("ID of the execution to cancel")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("workflow.query",
		mcp.WithDescription("List workflows, executions, agents, or tool servers"),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant to query")),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "executions", "agents", "tool_servers"),
			mcp.Description("Resource type to list"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, workflow_id, limit, offset); executions only")),
	)
}

func setStatusTool() mcp.Tool {
	return mcp.NewTool("workflow.set_status",
		mcp.WithDescription("Change a workflow definition's lifecycle status"),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant owning the workflow")),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
		mcp.WithString("status", mcp.Required(),
			mcp.Enum("draft", "active", "archived"),
			mcp.Description("New status"),
		),
	)
}

func registerAgentTool() mcp.Tool {
	return mcp.NewTool("agent.register",
		mcp.WithDescription("Register an agent identity that agent steps can target"),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant owning the agent")),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent ID referenced by agent steps")),
		mcp.WithString("name", mcp.Description("Display name (default: agent_id)")),
		mcp.WithString("model", mcp.Description("Model serving this agent")),
		mcp.WithString("description", mcp.Description("What the agent does")),
	)
}

func registerToolServerTool() mcp.Tool {
	return mcp.NewTool("toolserver.register",
		mcp.WithDescription("Register an MCP tool server that tool steps can call"),
		mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant owning the server")),
		mcp.WithString("server_id", mcp.Required(), mcp.Description("Server ID referenced by tool steps")),
		mcp.WithString("name", mcp.Description("Display name (default: server_id)")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command to spawn the server")),
		mcp.WithArray("args", mcp.Description("Command arguments")),
		mcp.WithObject("env", mcp.Description("Environment variables for the server process")),
	)
}
