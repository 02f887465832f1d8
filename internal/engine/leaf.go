package engine

import (
	"context"
	"log/slog"

	"github.com/strandlabs/strand/pkg/schema"
)

// executeAgent resolves the step input against the context, verifies the
// agent exists for the tenant, and invokes the agent backend. The text
// response is wrapped as {"response": text}; an output_mapping, when present,
// reshapes that into the final step output.
func (e *Engine) executeAgent(ctx context.Context, run *execRun, step *schema.StepDefinition, execCtx map[string]any, _ int) (map[string]any, error) {
	agent, err := e.store.GetAgent(ctx, run.tenantID, step.AgentID)
	if err != nil {
		return nil, err
	}

	resolved := e.resolver.ResolveMap(step.Input, execCtx)
	instruction, _ := resolved["instruction"].(string)
	agentCtx, _ := resolved["context"].(map[string]any)

	e.logger.DebugContext(ctx, "invoking agent",
		slog.String("agent_id", agent.ID), slog.String("model", agent.Model))

	result, err := e.caps.Agents.Run(ctx, run.tenantID, step.AgentID, instruction, agentCtx)
	if err != nil {
		return nil, err
	}

	output := map[string]any{"response": result.Text}
	if result.TokenUsage > 0 {
		output["token_usage"] = result.TokenUsage
	}

	if len(step.OutputMapping) > 0 {
		return e.mapper.Apply(ctx, step.OutputMapping, output)
	}
	return output, nil
}

// executeTool resolves the step input and invokes the named tool on the
// registered server. Tool output passes through as the step output; tool
// errors propagate as the step failure.
func (e *Engine) executeTool(ctx context.Context, run *execRun, step *schema.StepDefinition, execCtx map[string]any, _ int) (map[string]any, error) {
	resolved := e.resolver.ResolveMap(step.Input, execCtx)
	return e.caps.Tools.Call(ctx, run.tenantID, step.ServerID, step.ToolName, resolved)
}

// executeHTTP resolves url, headers, and body against the context, issues the
// request, and returns {"status", "headers", "body"}.
func (e *Engine) executeHTTP(ctx context.Context, _ *execRun, step *schema.StepDefinition, execCtx map[string]any, _ int) (map[string]any, error) {
	url := e.resolver.ResolveString(step.URL, execCtx)

	var headers map[string]string
	if len(step.Headers) > 0 {
		headers = make(map[string]string, len(step.Headers))
		for k, v := range step.Headers {
			headers[k] = e.resolver.ResolveString(v, execCtx)
		}
	}

	var body any
	if step.Body != nil {
		body = e.resolver.Resolve(step.Body, execCtx)
	}

	resp, err := e.caps.HTTP.Request(ctx, step.Method, url, headers, body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":  resp.Status,
		"headers": resp.Headers,
		"body":    resp.Body,
	}, nil
}
