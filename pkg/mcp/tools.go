package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/pkg/schema"
)

// handleDefine registers a workflow definition with auto-incremented
// versioning per (tenant, name).
func (s *StrandServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	// Round-trip through JSON to get a typed WorkflowDefinition.
	defBytes, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}
	var def schema.WorkflowDefinition
	if unmarshalErr := json.Unmarshal(defBytes, &def); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", unmarshalErr)), nil
	}

	def.ID = uuid.NewString()
	def.TenantID = tenantID
	def.Name = name
	def.Version = s.nextVersion(ctx, tenantID, name)
	def.Status = schema.WorkflowStatus(req.GetString("status", string(schema.WorkflowStatusActive)))

	if s.validator != nil {
		if valErr := s.validator.ValidateDefinition(&def); valErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", valErr)), nil
		}
	}

	if createErr := s.store.CreateWorkflow(ctx, &def); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store workflow: %v", createErr)), nil
	}

	return marshalResult(map[string]any{
		"workflow_id": def.ID,
		"name":        def.Name,
		"version":     def.Version,
		"status":      def.Status,
	})
}

// handleExecute runs a workflow synchronously. A failed execution is still a
// result: the record carries status=failed and the step error message.
func (s *StrandServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)
	extra := mcp.ParseStringMap(req, "context", nil)

	ex, execErr := s.engine.ExecuteWorkflow(ctx, tenantID, workflowID, input, extra)
	if ex == nil {
		// Pre-flight failure: nothing was created.
		return mcp.NewToolResultError(fmt.Sprintf("execution failed: %v", execErr)), nil
	}
	return marshalResult(ex)
}

// handleStatus returns the execution plus its step records.
func (s *StrandServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	view, statusErr := s.engine.ExecutionStatus(ctx, tenantID, executionID)
	if statusErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", statusErr)), nil
	}
	return marshalResult(view)
}

// handleCancel requests cooperative cancellation of an execution.
func (s *StrandServer) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	executionID, err := req.RequireString("execution_id")
	if err != nil {
		return mcp.NewToolResultError("execution_id is required"), nil
	}

	ex, cancelErr := s.engine.CancelExecution(ctx, tenantID, executionID)
	if cancelErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cancel failed: %v", cancelErr)), nil
	}
	return marshalResult(ex)
}

// handleQuery lists tenant resources.
func (s *StrandServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "workflows":
		workflows, listErr := s.store.ListWorkflows(ctx, tenantID)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"workflows": workflows})

	case "executions":
		ef := store.ExecutionFilter{
			Limit:  extractInt(filter, "limit", 50),
			Offset: extractInt(filter, "offset", 0),
		}
		if status, ok := filter["status"].(string); ok && status != "" {
			es := schema.ExecutionStatus(status)
			ef.Status = &es
		}
		if wfID, ok := filter["workflow_id"].(string); ok {
			ef.WorkflowID = wfID
		}
		executions, listErr := s.store.ListExecutions(ctx, tenantID, ef)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"executions": executions})

	case "agents":
		agents, listErr := s.store.ListAgents(ctx, tenantID)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"agents": agents})

	case "tool_servers":
		servers, listErr := s.store.ListToolServers(ctx, tenantID)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"tool_servers": servers})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// handleSetStatus changes a workflow definition's lifecycle status.
func (s *StrandServer) handleSetStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("status is required"), nil
	}

	if updErr := s.store.UpdateWorkflowStatus(ctx, tenantID, workflowID, schema.WorkflowStatus(status)); updErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", updErr)), nil
	}
	return marshalResult(map[string]any{
		"workflow_id": workflowID,
		"status":      status,
	})
}

// handleRegisterAgent upserts an agent identity.
func (s *StrandServer) handleRegisterAgent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError("agent_id is required"), nil
	}

	agent := &store.Agent{
		ID:          agentID,
		TenantID:    tenantID,
		Name:        req.GetString("name", agentID),
		Model:       req.GetString("model", ""),
		Description: req.GetString("description", ""),
		CreatedAt:   time.Now().UTC(),
	}
	if regErr := s.store.RegisterAgent(ctx, agent); regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register agent: %v", regErr)), nil
	}
	return marshalResult(map[string]any{"agent_id": agentID})
}

// handleRegisterToolServer upserts an MCP tool server record.
func (s *StrandServer) handleRegisterToolServer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tenantID, err := req.RequireString("tenant_id")
	if err != nil {
		return mcp.NewToolResultError("tenant_id is required"), nil
	}
	serverID, err := req.RequireString("server_id")
	if err != nil {
		return mcp.NewToolResultError("server_id is required"), nil
	}
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError("command is required"), nil
	}

	srv := &store.ToolServer{
		ID:        serverID,
		TenantID:  tenantID,
		Name:      req.GetString("name", serverID),
		Command:   command,
		Args:      req.GetStringSlice("args", nil),
		Env:       extractStringMap(mcp.ParseStringMap(req, "env", nil)),
		CreatedAt: time.Now().UTC(),
	}
	if regErr := s.store.RegisterToolServer(ctx, srv); regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to register tool server: %v", regErr)), nil
	}
	return marshalResult(map[string]any{"server_id": serverID})
}

// --- Internal helpers ---

// nextVersion computes the next version number for a workflow name within a
// tenant. Listing failures fall back to 1; the definition is still usable.
func (s *StrandServer) nextVersion(ctx context.Context, tenantID, name string) int {
	workflows, err := s.store.ListWorkflows(ctx, tenantID)
	if err != nil {
		return 1
	}
	maxVer := 0
	for _, wf := range workflows {
		if wf.Name == name && wf.Version > maxVer {
			maxVer = wf.Version
		}
	}
	return maxVer + 1
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// extractStringMap narrows a map[string]any to its string-valued entries.
func extractStringMap(raw map[string]any) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
