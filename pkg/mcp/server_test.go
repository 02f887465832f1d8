package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/internal/engine"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/internal/validation"
	"github.com/strandlabs/strand/pkg/schema"
)

// --- Mock engine ---

type mockEngine struct {
	executeFn func(ctx context.Context, tenantID, workflowID string, inputData, extraCtx map[string]any) (*store.Execution, error)
	cancelFn  func(ctx context.Context, tenantID, executionID string) (*store.Execution, error)
	statusFn  func(ctx context.Context, tenantID, executionID string) (*engine.StatusView, error)
}

func (m *mockEngine) ExecuteWorkflow(ctx context.Context, tenantID, workflowID string, inputData, extraCtx map[string]any) (*store.Execution, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, tenantID, workflowID, inputData, extraCtx)
	}
	return &store.Execution{ID: "ex-1", TenantID: tenantID, WorkflowID: workflowID, Status: schema.ExecutionStatusCompleted}, nil
}

func (m *mockEngine) CancelExecution(ctx context.Context, tenantID, executionID string) (*store.Execution, error) {
	if m.cancelFn != nil {
		return m.cancelFn(ctx, tenantID, executionID)
	}
	return &store.Execution{ID: executionID, TenantID: tenantID, Status: schema.ExecutionStatusCancelled}, nil
}

func (m *mockEngine) ExecutionStatus(ctx context.Context, tenantID, executionID string) (*engine.StatusView, error) {
	if m.statusFn != nil {
		return m.statusFn(ctx, tenantID, executionID)
	}
	return &engine.StatusView{
		Execution: &store.Execution{ID: executionID, TenantID: tenantID, Status: schema.ExecutionStatusCompleted},
	}, nil
}

// --- Test helpers ---

func newTestServer(t *testing.T, eng WorkflowEngine) (*StrandServer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	if eng == nil {
		eng = &mockEngine{}
	}
	s := NewStrandServer(StrandServerDeps{
		Engine:    eng,
		Store:     st,
		Validator: v,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, st
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func agentDefinition() map[string]any {
	return map[string]any{
		"steps": []any{
			map[string]any{
				"name":     "gather",
				"type":     "agent",
				"agent_id": "a1",
				"input":    map[string]any{"instruction": "summarize {input.topic}"},
			},
		},
	}
}

// --- Define ---

func TestDefineWorkflow(t *testing.T) {
	s, st := newTestServer(t, nil)

	req := buildRequest("workflow.define", map[string]any{
		"tenant_id":  "tenant-1",
		"name":       "research",
		"definition": agentDefinition(),
	})
	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out struct {
		WorkflowID string `json:"workflow_id"`
		Version    int    `json:"version"`
		Status     string `json:"status"`
	}
	unmarshalResult(t, result, &out)
	assert.NotEmpty(t, out.WorkflowID)
	assert.Equal(t, 1, out.Version)
	assert.Equal(t, "active", out.Status)

	wf, err := st.GetWorkflow(context.Background(), "tenant-1", out.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "research", wf.Name)
}

func TestDefineVersionAutoIncrements(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		req := buildRequest("workflow.define", map[string]any{
			"tenant_id":  "tenant-1",
			"name":       "research",
			"definition": agentDefinition(),
		})
		result, err := s.handleDefine(ctx, req)
		require.NoError(t, err)
		require.False(t, result.IsError)

		var out struct {
			Version int `json:"version"`
		}
		unmarshalResult(t, result, &out)
		assert.Equal(t, want, out.Version)
	}
}

func TestDefineVersionsIndependentPerName(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	first, err := s.handleDefine(ctx, buildRequest("workflow.define", map[string]any{
		"tenant_id": "tenant-1", "name": "alpha", "definition": agentDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, first.IsError)

	second, err := s.handleDefine(ctx, buildRequest("workflow.define", map[string]any{
		"tenant_id": "tenant-1", "name": "beta", "definition": agentDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, second.IsError)

	var out struct {
		Version int `json:"version"`
	}
	unmarshalResult(t, second, &out)
	assert.Equal(t, 1, out.Version)
}

func TestDefineMissingTenant(t *testing.T) {
	s, _ := newTestServer(t, nil)

	result, err := s.handleDefine(context.Background(), buildRequest("workflow.define", map[string]any{
		"name":       "research",
		"definition": agentDefinition(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineInvalidDefinitionRejected(t *testing.T) {
	s, st := newTestServer(t, nil)

	result, err := s.handleDefine(context.Background(), buildRequest("workflow.define", map[string]any{
		"tenant_id":  "tenant-1",
		"name":       "broken",
		"definition": map[string]any{"steps": []any{}},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "invalid definition")

	workflows, err := st.ListWorkflows(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Empty(t, workflows)
}

func TestDefineDraftStatus(t *testing.T) {
	s, _ := newTestServer(t, nil)

	result, err := s.handleDefine(context.Background(), buildRequest("workflow.define", map[string]any{
		"tenant_id":  "tenant-1",
		"name":       "draft-wf",
		"definition": agentDefinition(),
		"status":     "draft",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Status string `json:"status"`
	}
	unmarshalResult(t, result, &out)
	assert.Equal(t, "draft", out.Status)
}

// --- Execute ---

func TestExecuteReturnsExecution(t *testing.T) {
	eng := &mockEngine{
		executeFn: func(_ context.Context, tenantID, workflowID string, input, _ map[string]any) (*store.Execution, error) {
			return &store.Execution{
				ID:         "ex-42",
				TenantID:   tenantID,
				WorkflowID: workflowID,
				Status:     schema.ExecutionStatusCompleted,
				OutputData: map[string]any{"input": input},
			}, nil
		},
	}
	s, _ := newTestServer(t, eng)

	result, err := s.handleExecute(context.Background(), buildRequest("workflow.execute", map[string]any{
		"tenant_id":   "tenant-1",
		"workflow_id": "wf-1",
		"input":       map[string]any{"topic": "go"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var ex store.Execution
	unmarshalResult(t, result, &ex)
	assert.Equal(t, "ex-42", ex.ID)
	assert.Equal(t, schema.ExecutionStatusCompleted, ex.Status)
}

func TestExecuteFailedExecutionIsStillAResult(t *testing.T) {
	eng := &mockEngine{
		executeFn: func(_ context.Context, tenantID, workflowID string, _, _ map[string]any) (*store.Execution, error) {
			ex := &store.Execution{
				ID:           "ex-9",
				TenantID:     tenantID,
				WorkflowID:   workflowID,
				Status:       schema.ExecutionStatusFailed,
				ErrorMessage: "step gather failed: agent unavailable",
			}
			return ex, schema.NewError(schema.ErrCodeExecutionFailed, "workflow failed")
		},
	}
	s, _ := newTestServer(t, eng)

	result, err := s.handleExecute(context.Background(), buildRequest("workflow.execute", map[string]any{
		"tenant_id":   "tenant-1",
		"workflow_id": "wf-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var ex store.Execution
	unmarshalResult(t, result, &ex)
	assert.Equal(t, schema.ExecutionStatusFailed, ex.Status)
	assert.Contains(t, ex.ErrorMessage, "agent unavailable")
}

func TestExecutePreflightFailure(t *testing.T) {
	eng := &mockEngine{
		executeFn: func(context.Context, string, string, map[string]any, map[string]any) (*store.Execution, error) {
			return nil, schema.NewError(schema.ErrCodeNotFound, "workflow not found")
		},
	}
	s, _ := newTestServer(t, eng)

	result, err := s.handleExecute(context.Background(), buildRequest("workflow.execute", map[string]any{
		"tenant_id":   "tenant-1",
		"workflow_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not found")
}

// --- Status and cancel ---

func TestStatusReturnsSteps(t *testing.T) {
	eng := &mockEngine{
		statusFn: func(_ context.Context, tenantID, executionID string) (*engine.StatusView, error) {
			return &engine.StatusView{
				Execution: &store.Execution{ID: executionID, TenantID: tenantID, Status: schema.ExecutionStatusCompleted},
				Steps: []*store.StepExecution{
					{ID: "se-1", ExecutionID: executionID, StepName: "gather", Status: schema.StepStatusCompleted},
					{ID: "se-2", ExecutionID: executionID, StepName: "publish", Status: schema.StepStatusCompleted},
				},
			}, nil
		},
	}
	s, _ := newTestServer(t, eng)

	result, err := s.handleStatus(context.Background(), buildRequest("workflow.status", map[string]any{
		"tenant_id":    "tenant-1",
		"execution_id": "ex-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var view engine.StatusView
	unmarshalResult(t, result, &view)
	require.NotNil(t, view.Execution)
	assert.Equal(t, "ex-1", view.Execution.ID)
	require.Len(t, view.Steps, 2)
	assert.Equal(t, "gather", view.Steps[0].StepName)
}

func TestStatusNotFound(t *testing.T) {
	eng := &mockEngine{
		statusFn: func(context.Context, string, string) (*engine.StatusView, error) {
			return nil, schema.NewError(schema.ErrCodeNotFound, "execution not found")
		},
	}
	s, _ := newTestServer(t, eng)

	result, err := s.handleStatus(context.Background(), buildRequest("workflow.status", map[string]any{
		"tenant_id":    "tenant-1",
		"execution_id": "missing",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestCancelExecution(t *testing.T) {
	s, _ := newTestServer(t, nil)

	result, err := s.handleCancel(context.Background(), buildRequest("workflow.cancel", map[string]any{
		"tenant_id":    "tenant-1",
		"execution_id": "ex-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var ex store.Execution
	unmarshalResult(t, result, &ex)
	assert.Equal(t, schema.ExecutionStatusCancelled, ex.Status)
}

func TestCancelTerminalExecution(t *testing.T) {
	eng := &mockEngine{
		cancelFn: func(context.Context, string, string) (*store.Execution, error) {
			return nil, schema.NewError(schema.ErrCodeInvalidState, "execution ex-1 is completed and cannot be cancelled")
		},
	}
	s, _ := newTestServer(t, eng)

	result, err := s.handleCancel(context.Background(), buildRequest("workflow.cancel", map[string]any{
		"tenant_id":    "tenant-1",
		"execution_id": "ex-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "cannot be cancelled")
}

// --- Query ---

func TestQueryWorkflows(t *testing.T) {
	s, _ := newTestServer(t, nil)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		r, err := s.handleDefine(ctx, buildRequest("workflow.define", map[string]any{
			"tenant_id": "tenant-1", "name": name, "definition": agentDefinition(),
		}))
		require.NoError(t, err)
		require.False(t, r.IsError)
	}

	result, err := s.handleQuery(ctx, buildRequest("workflow.query", map[string]any{
		"tenant_id": "tenant-1",
		"resource":  "workflows",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Workflows []*schema.WorkflowDefinition `json:"workflows"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Workflows, 2)
}

func TestQueryExecutionsWithFilter(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	statuses := []schema.ExecutionStatus{
		schema.ExecutionStatusCompleted,
		schema.ExecutionStatusFailed,
		schema.ExecutionStatusCompleted,
	}
	for i, status := range statuses {
		require.NoError(t, st.CreateExecution(ctx, &store.Execution{
			ID:         "ex-" + string(rune('a'+i)),
			TenantID:   "tenant-1",
			WorkflowID: "wf-1",
			Status:     status,
			StartedAt:  time.Now().UTC(),
		}))
	}

	result, err := s.handleQuery(ctx, buildRequest("workflow.query", map[string]any{
		"tenant_id": "tenant-1",
		"resource":  "executions",
		"filter":    map[string]any{"status": "completed"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Executions []*store.Execution `json:"executions"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Executions, 2)
	for _, ex := range out.Executions {
		assert.Equal(t, schema.ExecutionStatusCompleted, ex.Status)
	}
}

func TestQueryExecutionsTenantScoped(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	require.NoError(t, st.CreateExecution(ctx, &store.Execution{
		ID: "ex-other", TenantID: "tenant-2", WorkflowID: "wf-1",
		Status: schema.ExecutionStatusCompleted, StartedAt: time.Now().UTC(),
	}))

	result, err := s.handleQuery(ctx, buildRequest("workflow.query", map[string]any{
		"tenant_id": "tenant-1",
		"resource":  "executions",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Executions []*store.Execution `json:"executions"`
	}
	unmarshalResult(t, result, &out)
	assert.Empty(t, out.Executions)
}

func TestQueryUnknownResource(t *testing.T) {
	s, _ := newTestServer(t, nil)

	result, err := s.handleQuery(context.Background(), buildRequest("workflow.query", map[string]any{
		"tenant_id": "tenant-1",
		"resource":  "invalid",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Set status ---

func TestSetStatusArchivesWorkflow(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	defRes, err := s.handleDefine(ctx, buildRequest("workflow.define", map[string]any{
		"tenant_id": "tenant-1", "name": "research", "definition": agentDefinition(),
	}))
	require.NoError(t, err)
	require.False(t, defRes.IsError)

	var defined struct {
		WorkflowID string `json:"workflow_id"`
	}
	unmarshalResult(t, defRes, &defined)

	result, err := s.handleSetStatus(ctx, buildRequest("workflow.set_status", map[string]any{
		"tenant_id":   "tenant-1",
		"workflow_id": defined.WorkflowID,
		"status":      "archived",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	wf, err := st.GetWorkflow(ctx, "tenant-1", defined.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusArchived, wf.Status)
}

// --- Registration ---

func TestRegisterAgent(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	result, err := s.handleRegisterAgent(ctx, buildRequest("agent.register", map[string]any{
		"tenant_id": "tenant-1",
		"agent_id":  "researcher",
		"model":     "gpt-4o",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	agent, err := st.GetAgent(ctx, "tenant-1", "researcher")
	require.NoError(t, err)
	assert.Equal(t, "researcher", agent.Name)
	assert.Equal(t, "gpt-4o", agent.Model)
}

func TestRegisterToolServer(t *testing.T) {
	s, st := newTestServer(t, nil)
	ctx := context.Background()

	result, err := s.handleRegisterToolServer(ctx, buildRequest("toolserver.register", map[string]any{
		"tenant_id": "tenant-1",
		"server_id": "db",
		"command":   "uvx",
		"args":      []any{"mcp-server-sqlite", "--db-path", "/tmp/app.db"},
		"env":       map[string]any{"LOG_LEVEL": "debug"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	srv, err := st.GetToolServer(ctx, "tenant-1", "db")
	require.NoError(t, err)
	assert.Equal(t, "uvx", srv.Command)
	assert.Equal(t, []string{"mcp-server-sqlite", "--db-path", "/tmp/app.db"}, srv.Args)
	assert.Equal(t, map[string]string{"LOG_LEVEL": "debug"}, srv.Env)
}

func TestRegisterToolServerMissingCommand(t *testing.T) {
	s, _ := newTestServer(t, nil)

	result, err := s.handleRegisterToolServer(context.Background(), buildRequest("toolserver.register", map[string]any{
		"tenant_id": "tenant-1",
		"server_id": "db",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// --- Server wiring ---

func TestServerRegistersAllTools(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.NotNil(t, s.MCPServer())
	assert.Len(t, s.tools(), 8)
}
