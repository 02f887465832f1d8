package store

import (
	"time"

	"github.com/strandlabs/strand/pkg/schema"
)

// Execution is the persisted representation of one workflow invocation.
type Execution struct {
	ID              string                 `json:"id"`
	TenantID        string                 `json:"tenant_id"`
	WorkflowID      string                 `json:"workflow_id"`
	Status          schema.ExecutionStatus `json:"status"`
	InputData       map[string]any         `json:"input_data,omitempty"`
	Context         map[string]any         `json:"context,omitempty"`
	OutputData      map[string]any         `json:"output_data,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	CurrentStep     string                 `json:"current_step,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     *time.Time             `json:"completed_at,omitempty"`
	DurationSeconds float64                `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// StepExecution is the persisted state of a single step instance. Parallel
// branches and conditional invocations each get their own row; retries reuse
// the same row with an incremented retry count.
type StepExecution struct {
	ID              string            `json:"id"`
	ExecutionID     string            `json:"execution_id"`
	StepName        string            `json:"step_name"`
	StepType        schema.StepType   `json:"step_type"`
	Status          schema.StepStatus `json:"status"`
	InputData       map[string]any    `json:"input_data,omitempty"`
	OutputData      map[string]any    `json:"output_data,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	RetryCount      int               `json:"retry_count"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
}

// Agent is a registered agent identity an agent step can target.
type Agent struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Model       string    `json:"model,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ToolServer is a registered MCP tool server a tool step can target.
type ToolServer struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// --- Filter and update types ---

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	Status     *schema.ExecutionStatus `json:"status,omitempty"`
	WorkflowID string                  `json:"workflow_id,omitempty"`
	Limit      int                     `json:"limit,omitempty"`
	Offset     int                     `json:"offset,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution. Nil fields are
// left untouched.
type ExecutionUpdate struct {
	Status          *schema.ExecutionStatus `json:"status,omitempty"`
	Context         map[string]any          `json:"context,omitempty"`
	OutputData      map[string]any          `json:"output_data,omitempty"`
	ErrorMessage    *string                 `json:"error_message,omitempty"`
	CurrentStep     *string                 `json:"current_step,omitempty"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
	DurationSeconds *float64                `json:"duration_seconds,omitempty"`
}

// StepExecutionUpdate specifies mutable fields of a step execution.
type StepExecutionUpdate struct {
	Status          *schema.StepStatus `json:"status,omitempty"`
	OutputData      map[string]any     `json:"output_data,omitempty"`
	ErrorMessage    *string            `json:"error_message,omitempty"`
	RetryCount      *int               `json:"retry_count,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
	DurationSeconds *float64           `json:"duration_seconds,omitempty"`
}
