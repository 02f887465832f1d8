package store

import (
	"context"

	"github.com/strandlabs/strand/pkg/schema"
)

// Store defines the persistence layer contract. All read operations on
// tenant-owned resources are tenant-scoped: a lookup with the wrong tenant
// behaves exactly like a missing row. Implementations must be safe for
// concurrent use.
type Store interface {
	// Workflows
	CreateWorkflow(ctx context.Context, def *schema.WorkflowDefinition) error
	GetWorkflow(ctx context.Context, tenantID, id string) (*schema.WorkflowDefinition, error)
	ListWorkflows(ctx context.Context, tenantID string) ([]*schema.WorkflowDefinition, error)
	UpdateWorkflowStatus(ctx context.Context, tenantID, id string, status schema.WorkflowStatus) error

	// Executions
	CreateExecution(ctx context.Context, ex *Execution) error
	GetExecution(ctx context.Context, tenantID, id string) (*Execution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, tenantID string, filter ExecutionFilter) ([]*Execution, error)

	// Step executions
	CreateStepExecution(ctx context.Context, se *StepExecution) error
	UpdateStepExecution(ctx context.Context, id string, update StepExecutionUpdate) error
	ListStepExecutions(ctx context.Context, executionID string) ([]*StepExecution, error)

	// Agents
	RegisterAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, tenantID, id string) (*Agent, error)
	ListAgents(ctx context.Context, tenantID string) ([]*Agent, error)

	// Tool servers
	RegisterToolServer(ctx context.Context, server *ToolServer) error
	GetToolServer(ctx context.Context, tenantID, id string) (*ToolServer, error)
	ListToolServers(ctx context.Context, tenantID string) ([]*ToolServer, error)

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}
