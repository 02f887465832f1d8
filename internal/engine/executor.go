package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/logging"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/pkg/schema"
)

// execRun carries the identity of one workflow invocation through the
// recursive step dispatch.
type execRun struct {
	executionID string
	tenantID    string
	def         *schema.WorkflowDefinition
}

// stepFunc executes one step kind. It receives a read view of the execution
// context and returns the step output; record lifecycle and retries belong to
// runStep, not the step functions.
type stepFunc func(ctx context.Context, run *execRun, step *schema.StepDefinition, execCtx map[string]any, depth int) (map[string]any, error)

// runStep dispatches one step through its executor with the full record
// lifecycle: create the step row in running, retry in place up to the step's
// budget, and finalize the row with status and timing before returning.
func (e *Engine) runStep(ctx context.Context, run *execRun, step *schema.StepDefinition, execCtx map[string]any, depth int) (map[string]any, error) {
	if depth > e.maxDepth {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"step nesting exceeds depth limit %d", e.maxDepth).WithStep(step.Name)
	}

	kind := schema.NormalizeStepType(step.Type)
	fn, ok := e.executors[kind]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown step type %q", step.Type).WithStep(step.Name)
	}

	ctx = logging.WithStepName(ctx, step.Name)

	rec := &store.StepExecution{
		ID:          uuid.NewString(),
		ExecutionID: run.executionID,
		StepName:    step.Name,
		StepType:    kind,
		Status:      schema.StepStatusRunning,
		InputData:   step.Input,
		StartedAt:   time.Now().UTC(),
	}
	if err := e.store.CreateStepExecution(ctx, rec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"create step record: %s", err.Error()).WithStep(step.Name).WithCause(err)
	}
	e.logger.DebugContext(ctx, "step started", slog.String("type", string(kind)))

	budget := step.RetryBudget(run.def.MaxRetries)
	// Flow steps do not inherit the workflow retry default: their children
	// carry their own budgets, and re-running the whole group would retry
	// already-exhausted children again.
	if (kind == schema.StepTypeParallel || kind == schema.StepTypeConditional) && step.MaxRetries == nil {
		budget = 0
	}
	attempt := 0
	for {
		output, err := fn(ctx, run, step, execCtx, depth)
		if err == nil {
			e.finalizeStep(ctx, rec, schema.StepStatusCompleted, output, nil, attempt)
			return output, nil
		}

		if attempt >= budget || !IsRetryableError(err) {
			e.finalizeStep(ctx, rec, schema.StepStatusFailed, nil, err, attempt)
			return nil, err
		}

		attempt++
		count := attempt
		if uerr := e.store.UpdateStepExecution(ctx, rec.ID, store.StepExecutionUpdate{RetryCount: &count}); uerr != nil {
			e.logger.WarnContext(ctx, "persist retry count", slog.String("error", uerr.Error()))
		}
		e.logger.InfoContext(ctx, "retrying step",
			slog.Int("attempt", attempt), slog.Int("budget", budget), slog.String("error", err.Error()))

		if werr := WaitForBackoff(ctx, ComputeBackoff(run.def.RetryStrategy, attempt-1)); werr != nil {
			e.finalizeStep(ctx, rec, schema.StepStatusFailed, nil, werr, attempt)
			return nil, werr
		}
	}
}

// finalizeStep closes the step record with its terminal status and timing.
// Persistence failures here are logged, not propagated: the step outcome has
// already been decided.
func (e *Engine) finalizeStep(ctx context.Context, rec *store.StepExecution, status schema.StepStatus, output map[string]any, stepErr error, retries int) {
	completedAt := time.Now().UTC()
	duration := completedAt.Sub(rec.StartedAt).Seconds()
	update := store.StepExecutionUpdate{
		Status:          &status,
		OutputData:      output,
		RetryCount:      &retries,
		CompletedAt:     &completedAt,
		DurationSeconds: &duration,
	}
	if stepErr != nil {
		msg := stepErr.Error()
		update.ErrorMessage = &msg
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateStepExecution(cleanupCtx, rec.ID, update); err != nil {
		e.logger.ErrorContext(ctx, "finalize step record", slog.String("error", err.Error()))
	}

	if stepErr != nil {
		e.logger.WarnContext(ctx, "step failed",
			slog.Int("retries", retries), slog.String("error", stepErr.Error()))
	} else {
		e.logger.DebugContext(ctx, "step completed", slog.Float64("duration_seconds", duration))
	}
}
