package runners

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/pkg/schema"
)

// StdioToolRunner implements ToolRunner by speaking MCP over stdio to tool
// servers registered in the store. Connections are established lazily on the
// first call to a server and reused until Close.
type StdioToolRunner struct {
	store  store.Store
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*client.Client // keyed by tenantID/serverID
}

// NewStdioToolRunner creates a tool runner backed by registered tool servers.
func NewStdioToolRunner(st store.Store, logger *slog.Logger) *StdioToolRunner {
	return &StdioToolRunner{
		store:   st,
		logger:  logger,
		clients: make(map[string]*client.Client),
	}
}

// Call invokes toolName on the given server. The server must be registered
// for the tenant; an unknown server fails with NOT_FOUND before any process
// is spawned.
func (r *StdioToolRunner) Call(ctx context.Context, tenantID, serverID, toolName string, input map[string]any) (map[string]any, error) {
	cli, err := r.connect(ctx, tenantID, serverID)
	if err != nil {
		return nil, err
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = toolName
	callReq.Params.Arguments = input

	result, err := cli.CallTool(ctx, callReq)
	if err != nil {
		// Drop the connection so the next call respawns the server.
		r.evict(tenantID, serverID)
		return nil, schema.NewErrorf(schema.ErrCodeCapability,
			"tool call %s on server %s failed: %v", toolName, serverID, err).WithCause(err)
	}

	output := decodeToolResult(result)
	if result.IsError {
		return nil, schema.NewErrorf(schema.ErrCodeCapability,
			"tool %s reported an error: %s", toolName, stringifyOutput(output))
	}
	return output, nil
}

// connect returns a live client for the server, establishing one if needed.
func (r *StdioToolRunner) connect(ctx context.Context, tenantID, serverID string) (*client.Client, error) {
	key := tenantID + "/" + serverID

	r.mu.Lock()
	defer r.mu.Unlock()

	if cli, ok := r.clients[key]; ok {
		return cli, nil
	}

	srv, err := r.store.GetToolServer(ctx, tenantID, serverID)
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(srv.Env))
	for k, v := range srv.Env {
		env = append(env, k+"="+v)
	}

	cli, err := client.NewStdioMCPClient(srv.Command, env, srv.Args...)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCapability,
			"spawn tool server %s: %v", serverID, err).WithCause(err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "strand",
		Version: "1.0.0",
	}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		_ = cli.Close()
		return nil, schema.NewErrorf(schema.ErrCodeCapability,
			"initialize tool server %s: %v", serverID, err).WithCause(err)
	}

	if r.logger != nil {
		r.logger.InfoContext(ctx, "connected tool server",
			slog.String("server_id", serverID), slog.String("command", srv.Command))
	}

	r.clients[key] = cli
	return cli, nil
}

func (r *StdioToolRunner) evict(tenantID, serverID string) {
	key := tenantID + "/" + serverID
	r.mu.Lock()
	defer r.mu.Unlock()
	if cli, ok := r.clients[key]; ok {
		_ = cli.Close()
		delete(r.clients, key)
	}
}

// Close shuts down every spawned tool server.
func (r *StdioToolRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for key, cli := range r.clients {
		if err := cli.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.clients, key)
	}
	return firstErr
}

// decodeToolResult converts MCP tool result content into a step output map.
// Text content that parses as a JSON object is used directly; anything else
// is wrapped under a "text" key.
func decodeToolResult(result *mcp.CallToolResult) map[string]any {
	var texts []string
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	joined := strings.Join(texts, "\n")

	var asMap map[string]any
	if err := json.Unmarshal([]byte(joined), &asMap); err == nil {
		return asMap
	}
	return map[string]any{"text": joined}
}

// stringifyOutput renders a tool output map for error messages.
func stringifyOutput(m map[string]any) string {
	if text, ok := m["text"].(string); ok && len(m) == 1 {
		return text
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(b)
}

var _ ToolRunner = (*StdioToolRunner)(nil)
