package engine

import (
	"github.com/strandlabs/strand/pkg/schema"
)

// ValidExecutionTransitions defines the allowed state transitions for
// workflow executions. Every terminal state has no outgoing edges.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionStatusPending:   {schema.ExecutionStatusRunning, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusRunning:   {schema.ExecutionStatusCompleted, schema.ExecutionStatusFailed, schema.ExecutionStatusCancelled},
	schema.ExecutionStatusCompleted: {},
	schema.ExecutionStatusFailed:    {},
	schema.ExecutionStatusCancelled: {},
}

// ValidStepTransitions defines the allowed state transitions for step
// executions. A step record is created directly in running; pending exists
// only for steps scheduled but not yet dispatched.
var ValidStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusSkipped},
	schema.StepStatusCompleted: {},
	schema.StepStatusFailed:    {},
	schema.StepStatusSkipped:   {},
}

// ValidateExecutionTransition returns an INVALID_TRANSITION error if moving
// an execution from one status to another is not allowed.
func ValidateExecutionTransition(executionID string, from, to schema.ExecutionStatus) error {
	for _, a := range ValidExecutionTransitions[from] {
		if a == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", from, to).
		WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
}

// ValidateStepTransition returns an INVALID_TRANSITION error if moving a step
// from one status to another is not allowed.
func ValidateStepTransition(stepName string, from, to schema.StepStatus) error {
	for _, a := range ValidStepTransitions[from] {
		if a == to {
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid step transition: %s -> %s", from, to).
		WithStep(stepName).
		WithDetails(map[string]any{"from": string(from), "to": string(to)})
}
