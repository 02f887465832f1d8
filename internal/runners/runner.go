// Package runners holds the external capabilities the engine depends on:
// agent invocation, MCP tool calls, and outbound HTTP. Each capability is an
// interface so tests can substitute fakes and deployments can swap backends.
package runners

import "context"

// AgentResult is the outcome of one agent invocation.
type AgentResult struct {
	Text       string `json:"text"`
	TokenUsage int    `json:"token_usage,omitempty"`
}

// AgentRunner invokes an LLM-backed agent with an instruction and a context
// snapshot. Implementations must honor ctx cancellation.
type AgentRunner interface {
	Run(ctx context.Context, tenantID, agentID, instruction string, agentCtx map[string]any) (*AgentResult, error)
}

// ToolRunner invokes a named tool on a registered tool server.
type ToolRunner interface {
	Call(ctx context.Context, tenantID, serverID, toolName string, input map[string]any) (map[string]any, error)
}

// HTTPResponse is the decoded result of an outbound HTTP request.
type HTTPResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    any               `json:"body"`
}

// HTTPClient issues outbound HTTP requests on behalf of http steps.
type HTTPClient interface {
	Request(ctx context.Context, method, url string, headers map[string]string, body any) (*HTTPResponse, error)
}
