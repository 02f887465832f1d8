package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/strandlabs/strand/pkg/schema"
)

// MemoryStore is an in-memory Store implementation. It backs unit tests and
// ephemeral deployments where durability is not needed. All values are
// deep-copied on the way in and out so callers can never alias internal state.
type MemoryStore struct {
	mu          sync.RWMutex
	workflows   map[string]*schema.WorkflowDefinition
	executions  map[string]*Execution
	steps       map[string]*StepExecution
	agents      map[string]*Agent
	toolServers map[string]*ToolServer
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:   make(map[string]*schema.WorkflowDefinition),
		executions:  make(map[string]*Execution),
		steps:       make(map[string]*StepExecution),
		agents:      make(map[string]*Agent),
		toolServers: make(map[string]*ToolServer),
	}
}

// --- Workflows ---

func (s *MemoryStore) CreateWorkflow(_ context.Context, def *schema.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[def.ID] = deepCopy(def)
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, tenantID, id string) (*schema.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.workflows[id]
	if !ok || def.TenantID != tenantID {
		return nil, notFound("workflow", id)
	}
	return deepCopy(def), nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context, tenantID string) ([]*schema.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var defs []*schema.WorkflowDefinition
	for _, def := range s.workflows {
		if def.TenantID == tenantID {
			defs = append(defs, deepCopy(def))
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

func (s *MemoryStore) UpdateWorkflowStatus(_ context.Context, tenantID, id string, status schema.WorkflowStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.workflows[id]
	if !ok || def.TenantID != tenantID {
		return notFound("workflow", id)
	}
	def.Status = status
	return nil
}

// --- Executions ---

func (s *MemoryStore) CreateExecution(_ context.Context, ex *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := deepCopy(ex)
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = cp.CreatedAt
	s.executions[ex.ID] = cp
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, tenantID, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ex, ok := s.executions[id]
	if !ok || ex.TenantID != tenantID {
		return nil, notFound("execution", id)
	}
	return deepCopy(ex), nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, id string, update ExecutionUpdate) error {
	if update.Status == nil && update.Context == nil && update.OutputData == nil &&
		update.ErrorMessage == nil && update.CurrentStep == nil &&
		update.CompletedAt == nil && update.DurationSeconds == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executions[id]
	if !ok {
		return notFound("execution", id)
	}
	if update.Status != nil {
		ex.Status = *update.Status
	}
	if update.Context != nil {
		ex.Context = deepCopyMap(update.Context)
	}
	if update.OutputData != nil {
		ex.OutputData = deepCopyMap(update.OutputData)
	}
	if update.ErrorMessage != nil {
		ex.ErrorMessage = *update.ErrorMessage
	}
	if update.CurrentStep != nil {
		ex.CurrentStep = *update.CurrentStep
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		ex.CompletedAt = &t
	}
	if update.DurationSeconds != nil {
		ex.DurationSeconds = *update.DurationSeconds
	}
	ex.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, tenantID string, filter ExecutionFilter) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var executions []*Execution
	for _, ex := range s.executions {
		if ex.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && ex.Status != *filter.Status {
			continue
		}
		if filter.WorkflowID != "" && ex.WorkflowID != filter.WorkflowID {
			continue
		}
		executions = append(executions, deepCopy(ex))
	}
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].CreatedAt.After(executions[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(executions) {
			return nil, nil
		}
		executions = executions[filter.Offset:]
	}
	if filter.Limit > 0 && len(executions) > filter.Limit {
		executions = executions[:filter.Limit]
	}
	return executions, nil
}

// --- Step executions ---

func (s *MemoryStore) CreateStepExecution(_ context.Context, se *StepExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps[se.ID] = deepCopy(se)
	return nil
}

func (s *MemoryStore) UpdateStepExecution(_ context.Context, id string, update StepExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.steps[id]
	if !ok {
		return notFound("step execution", id)
	}
	if update.Status != nil {
		se.Status = *update.Status
	}
	if update.OutputData != nil {
		se.OutputData = deepCopyMap(update.OutputData)
	}
	if update.ErrorMessage != nil {
		se.ErrorMessage = *update.ErrorMessage
	}
	if update.RetryCount != nil {
		se.RetryCount = *update.RetryCount
	}
	if update.CompletedAt != nil {
		t := *update.CompletedAt
		se.CompletedAt = &t
	}
	if update.DurationSeconds != nil {
		se.DurationSeconds = *update.DurationSeconds
	}
	return nil
}

func (s *MemoryStore) ListStepExecutions(_ context.Context, executionID string) ([]*StepExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var steps []*StepExecution
	for _, se := range s.steps {
		if se.ExecutionID == executionID {
			steps = append(steps, deepCopy(se))
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		if steps[i].StartedAt.Equal(steps[j].StartedAt) {
			return steps[i].ID < steps[j].ID
		}
		return steps[i].StartedAt.Before(steps[j].StartedAt)
	})
	return steps, nil
}

// --- Agents ---

func (s *MemoryStore) RegisterAgent(_ context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[agent.ID] = deepCopy(agent)
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, tenantID, id string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok || a.TenantID != tenantID {
		return nil, notFound("agent", id)
	}
	return deepCopy(a), nil
}

func (s *MemoryStore) ListAgents(_ context.Context, tenantID string) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var agents []*Agent
	for _, a := range s.agents {
		if a.TenantID == tenantID {
			agents = append(agents, deepCopy(a))
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// --- Tool servers ---

func (s *MemoryStore) RegisterToolServer(_ context.Context, server *ToolServer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolServers[server.ID] = deepCopy(server)
	return nil
}

func (s *MemoryStore) GetToolServer(_ context.Context, tenantID, id string) (*ToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.toolServers[id]
	if !ok || srv.TenantID != tenantID {
		return nil, notFound("tool server", id)
	}
	return deepCopy(srv), nil
}

func (s *MemoryStore) ListToolServers(_ context.Context, tenantID string) ([]*ToolServer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var servers []*ToolServer
	for _, srv := range s.toolServers {
		if srv.TenantID == tenantID {
			servers = append(servers, deepCopy(srv))
		}
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].ID < servers[j].ID })
	return servers, nil
}

// Migrate is a no-op for the in-memory store.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// deepCopy clones a record through JSON so stored state never shares maps
// with the caller.
func deepCopy[T any](v *T) *T {
	b, err := json.Marshal(v)
	if err != nil {
		cp := *v
		return &cp
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		cp := *v
		return &cp
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return *deepCopy(&m)
}

var _ Store = (*MemoryStore)(nil)
