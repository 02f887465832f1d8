package schema

// StepType discriminates the step definition union.
type StepType string

const (
	StepTypeAgent       StepType = "agent"
	StepTypeTool        StepType = "tool"
	StepTypeHTTP        StepType = "http"
	StepTypeParallel    StepType = "parallel"
	StepTypeConditional StepType = "conditional"
)

// Legacy discriminator accepted for tool steps in stored definitions.
const StepTypeMCPTool StepType = "mcp_tool"

// NormalizeStepType maps legacy type tags onto their canonical value.
func NormalizeStepType(t StepType) StepType {
	if t == StepTypeMCPTool {
		return StepTypeTool
	}
	return t
}

// RetryStrategy selects the backoff curve between in-place step retries.
type RetryStrategy string

const (
	RetryStrategyNone        RetryStrategy = "none"
	RetryStrategyLinear      RetryStrategy = "linear"
	RetryStrategyExponential RetryStrategy = "exponential"
)

// WorkflowDefinition is the declarative description of a workflow.
// Definitions are immutable once referenced by a running execution.
type WorkflowDefinition struct {
	ID             string           `json:"id"`
	TenantID       string           `json:"tenant_id"`
	Name           string           `json:"name"`
	Version        int              `json:"version"`
	Status         WorkflowStatus   `json:"status"`
	Steps          []StepDefinition `json:"steps"`
	TimeoutSeconds int              `json:"timeout_seconds,omitempty"`
	MaxRetries     int              `json:"max_retries,omitempty"`
	RetryStrategy  RetryStrategy    `json:"retry_strategy,omitempty"`
}

// StepDefinition is one node of the step tree. The Type field selects which
// of the kind-specific field groups is meaningful; everything else is ignored
// for that kind. Validation enforces the per-kind required fields at load
// time so executors can assume a well-formed definition.
type StepDefinition struct {
	Name string   `json:"name"`
	Type StepType `json:"type"`

	// Retry budget for this step. Nil falls back to the workflow default.
	MaxRetries *int `json:"max_retries,omitempty"`

	// agent
	AgentID       string            `json:"agent_id,omitempty"`
	Input         map[string]any    `json:"input,omitempty"` // agent: {instruction, context}; tool: call arguments
	OutputMapping map[string]string `json:"output_mapping,omitempty"`

	// tool
	ServerID string `json:"server_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`

	// http
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`

	// parallel
	Steps   []StepDefinition `json:"steps,omitempty"`
	WaitFor string           `json:"wait_for,omitempty"` // all | any | count:N

	// conditional
	Condition string          `json:"condition,omitempty"`
	IfTrue    *StepDefinition `json:"if_true,omitempty"`
	IfFalse   *StepDefinition `json:"if_false,omitempty"`
}

// RetryBudget returns the effective retry count for the step given the
// workflow-level default.
func (s *StepDefinition) RetryBudget(workflowDefault int) int {
	if s.MaxRetries != nil {
		if *s.MaxRetries < 0 {
			return 0
		}
		return *s.MaxRetries
	}
	if workflowDefault < 0 {
		return 0
	}
	return workflowDefault
}
