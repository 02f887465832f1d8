// Package engine drives workflow executions: it loads a definition, walks
// the step tree through per-kind executors, accumulates the execution
// context, and persists every state transition through the store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strandlabs/strand/internal/expressions"
	"github.com/strandlabs/strand/internal/logging"
	"github.com/strandlabs/strand/internal/runners"
	"github.com/strandlabs/strand/internal/store"
	"github.com/strandlabs/strand/pkg/schema"
)

const defaultMaxDepth = 16

// Capabilities bundles the external backends a running workflow can call
// into. Each is an interface so tests substitute fakes.
type Capabilities struct {
	Agents runners.AgentRunner
	Tools  runners.ToolRunner
	HTTP   runners.HTTPClient
}

// Config tunes engine-wide limits.
type Config struct {
	// MaxParallel bounds concurrently running parallel-step branches across
	// all executions. Zero means 8.
	MaxParallel int
	// MaxDepth bounds step tree nesting. Zero means 16.
	MaxDepth int
}

// Engine is the workflow orchestrator. Safe for concurrent use; one Engine
// serves all tenants.
type Engine struct {
	store     store.Store
	caps      Capabilities
	resolver  *expressions.Resolver
	evaluator *expressions.Evaluator
	mapper    *expressions.Mapper
	pool      *WorkerPool
	logger    *slog.Logger
	executors map[schema.StepType]stepFunc
	maxDepth  int

	// cancels maps execution ID to the CancelFunc of its run context, so
	// CancelExecution can interrupt in-flight capability calls best-effort.
	cancels sync.Map
}

// NewEngine creates an engine over the given store and capability backends.
func NewEngine(st store.Store, caps Capabilities, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("build cel engine: %w", err)
	}
	maxParallel := cfg.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 8
	}
	maxDepth := cfg.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	e := &Engine{
		store:     st,
		caps:      caps,
		resolver:  expressions.NewResolver(),
		evaluator: expressions.NewEvaluator(celEngine),
		mapper:    expressions.NewMapper(expressions.NewGoJQEngine()),
		pool:      NewWorkerPool(maxParallel),
		logger:    logger,
		maxDepth:  maxDepth,
	}
	e.executors = map[schema.StepType]stepFunc{
		schema.StepTypeAgent:       e.executeAgent,
		schema.StepTypeTool:        e.executeTool,
		schema.StepTypeHTTP:        e.executeHTTP,
		schema.StepTypeParallel:    e.executeParallel,
		schema.StepTypeConditional: e.executeConditional,
	}
	return e, nil
}

// Close shuts down the engine's worker pool, waiting for in-flight parallel
// branches to finish.
func (e *Engine) Close() {
	e.pool.Shutdown()
}

// StatusView is the read-only projection returned by ExecutionStatus: the
// execution record plus its step rows ordered by start time.
type StatusView struct {
	Execution *store.Execution       `json:"execution"`
	Steps     []*store.StepExecution `json:"steps"`
}

// ExecuteWorkflow runs the workflow synchronously and returns the final
// execution record. The definition must exist for the tenant and be active.
// extraCtx entries seed the execution context alongside {"input": inputData}.
//
// On step failure the returned execution is marked failed and the error
// carries code EXECUTION_FAILED; pre-flight failures (NOT_FOUND, NOT_ACTIVE)
// return before any record is created.
func (e *Engine) ExecuteWorkflow(ctx context.Context, tenantID, workflowID string, inputData, extraCtx map[string]any) (*store.Execution, error) {
	def, err := e.store.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if def.Status != schema.WorkflowStatusActive {
		return nil, schema.NewErrorf(schema.ErrCodeNotActive,
			"workflow %s is %s, not active", workflowID, def.Status)
	}

	execCtx := map[string]any{"input": inputData}
	for k, v := range extraCtx {
		execCtx[k] = v
	}

	now := time.Now().UTC()
	ex := &store.Execution{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		WorkflowID: workflowID,
		Status:     schema.ExecutionStatusRunning,
		InputData:  inputData,
		Context:    execCtx,
		StartedAt:  now,
	}
	if err := e.store.CreateExecution(ctx, ex); err != nil {
		return nil, err
	}

	ctx = logging.WithTenantID(ctx, tenantID)
	ctx = logging.WithExecutionID(ctx, ex.ID)
	e.logger.InfoContext(ctx, "workflow execution started",
		slog.String("workflow_id", workflowID), slog.Int("steps", len(def.Steps)))

	runCtx, cancel := context.WithCancel(ctx)
	if def.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(def.TimeoutSeconds)*time.Second)
	}
	defer cancel()
	e.cancels.Store(ex.ID, cancel)
	defer e.cancels.Delete(ex.ID)

	run := &execRun{executionID: ex.ID, tenantID: tenantID, def: def}
	return e.runSteps(runCtx, run, ex, execCtx)
}

// runSteps walks the top-level step list sequentially. Any panic below this
// point still marks the execution failed before returning.
func (e *Engine) runSteps(ctx context.Context, run *execRun, ex *store.Execution, execCtx map[string]any) (result *store.Execution, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			err := schema.NewErrorf(schema.ErrCodeExecutionFailed, "internal error: %v", r)
			result, retErr = e.markFailed(ctx, ex, err), err
		}
	}()

	for _, step := range run.def.Steps {
		// Cooperative cancellation: observe a cancel request (or the
		// workflow timeout) between top-level steps, never mid-step.
		if stopped, ex2, err := e.checkInterrupted(ctx, ex); stopped {
			return ex2, err
		}

		name := step.Name
		if err := e.store.UpdateExecution(ctx, ex.ID, store.ExecutionUpdate{CurrentStep: &name}); err != nil {
			return e.markFailed(ctx, ex, err), schema.NewErrorf(schema.ErrCodeExecutionFailed,
				"step %s: %s", name, err.Error()).WithStep(name).WithCause(err)
		}

		output, err := e.runStep(ctx, run, &step, execCtx, 0)
		if err != nil {
			// A cancel that lands mid-step surfaces here as a context
			// error; keep the cancelled status instead of failing.
			if stopped, ex2, err2 := e.checkInterrupted(ctx, ex); stopped {
				return ex2, err2
			}
			failErr := schema.NewErrorf(schema.ErrCodeExecutionFailed,
				"step %s: %s", name, err.Error()).WithStep(name).WithCause(err)
			return e.markFailed(ctx, ex, failErr), failErr
		}

		execCtx[name] = output
		if err := e.store.UpdateExecution(ctx, ex.ID, store.ExecutionUpdate{Context: execCtx}); err != nil {
			return e.markFailed(ctx, ex, err), schema.NewErrorf(schema.ErrCodeExecutionFailed,
				"persist context after step %s: %s", name, err.Error()).WithStep(name).WithCause(err)
		}
		ex.Context = execCtx
	}

	completed := schema.ExecutionStatusCompleted
	completedAt := time.Now().UTC()
	duration := completedAt.Sub(ex.StartedAt).Seconds()
	empty := ""
	update := store.ExecutionUpdate{
		Status:          &completed,
		OutputData:      execCtx,
		CurrentStep:     &empty,
		CompletedAt:     &completedAt,
		DurationSeconds: &duration,
	}
	if err := e.store.UpdateExecution(ctx, ex.ID, update); err != nil {
		return e.markFailed(ctx, ex, err), schema.NewErrorf(schema.ErrCodeExecutionFailed,
			"finalize execution: %s", err.Error()).WithCause(err)
	}

	ex.Status = completed
	ex.OutputData = execCtx
	ex.CurrentStep = ""
	ex.CompletedAt = &completedAt
	ex.DurationSeconds = duration

	e.logger.InfoContext(ctx, "workflow execution completed",
		slog.Float64("duration_seconds", duration))
	return ex, nil
}

// checkInterrupted reports whether the execution should stop dispatching.
// A cancelled execution (marked by CancelExecution) is returned as-is with a
// CANCELLED error; an expired workflow deadline marks the execution failed.
func (e *Engine) checkInterrupted(ctx context.Context, ex *store.Execution) (bool, *store.Execution, error) {
	if ctx.Err() == context.DeadlineExceeded {
		err := schema.NewError(schema.ErrCodeExecutionFailed, "workflow timeout exceeded")
		return true, e.markFailed(ctx, ex, err), err
	}

	current, err := e.store.GetExecution(ctx, ex.TenantID, ex.ID)
	if err != nil {
		return false, nil, nil
	}
	if current.Status == schema.ExecutionStatusCancelled {
		e.logger.InfoContext(ctx, "execution cancelled, stopping dispatch")
		return true, current, schema.NewErrorf(schema.ErrCodeCancelled,
			"execution %s was cancelled", ex.ID)
	}
	if ctx.Err() == context.Canceled {
		// Caller's context died without a cancel record.
		err := schema.NewError(schema.ErrCodeCancelled, "execution context cancelled")
		return true, e.markFailed(ctx, ex, err), err
	}
	return false, nil, nil
}

// markFailed transitions the execution to failed with the given error. Uses
// a background context so cleanup still persists when ctx is already dead.
func (e *Engine) markFailed(ctx context.Context, ex *store.Execution, cause error) *store.Execution {
	failed := schema.ExecutionStatusFailed
	completedAt := time.Now().UTC()
	duration := completedAt.Sub(ex.StartedAt).Seconds()
	msg := cause.Error()

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.UpdateExecution(cleanupCtx, ex.ID, store.ExecutionUpdate{
		Status:          &failed,
		ErrorMessage:    &msg,
		CompletedAt:     &completedAt,
		DurationSeconds: &duration,
	}); err != nil {
		e.logger.ErrorContext(ctx, "mark execution failed", slog.String("error", err.Error()))
	}

	ex.Status = failed
	ex.ErrorMessage = msg
	ex.CompletedAt = &completedAt
	ex.DurationSeconds = duration

	e.logger.WarnContext(ctx, "workflow execution failed", slog.String("error", msg))
	return ex
}

// CancelExecution requests cancellation of a pending or running execution.
// The status flips to cancelled immediately; a currently running step may
// still finish and write its own record, but no further top-level step is
// dispatched once the orchestrator observes the cancel.
func (e *Engine) CancelExecution(ctx context.Context, tenantID, executionID string) (*store.Execution, error) {
	ex, err := e.store.GetExecution(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	if err := ValidateExecutionTransition(executionID, ex.Status, schema.ExecutionStatusCancelled); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidState,
			"execution %s is %s and cannot be cancelled", executionID, ex.Status)
	}

	cancelled := schema.ExecutionStatusCancelled
	completedAt := time.Now().UTC()
	duration := completedAt.Sub(ex.StartedAt).Seconds()
	update := store.ExecutionUpdate{
		Status:          &cancelled,
		CompletedAt:     &completedAt,
		DurationSeconds: &duration,
	}
	if err := e.store.UpdateExecution(ctx, executionID, update); err != nil {
		return nil, err
	}

	// Best-effort interrupt of in-flight capability calls.
	if cancel, ok := e.cancels.Load(executionID); ok {
		cancel.(context.CancelFunc)()
	}

	ex.Status = cancelled
	ex.CompletedAt = &completedAt
	ex.DurationSeconds = duration

	e.logger.InfoContext(ctx, "execution cancelled",
		slog.String("execution_id", executionID), slog.String("tenant_id", tenantID))
	return ex, nil
}

// ExecutionStatus returns the execution and its step records ordered by
// start time.
func (e *Engine) ExecutionStatus(ctx context.Context, tenantID, executionID string) (*StatusView, error) {
	ex, err := e.store.GetExecution(ctx, tenantID, executionID)
	if err != nil {
		return nil, err
	}
	steps, err := e.store.ListStepExecutions(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return &StatusView{Execution: ex, Steps: steps}, nil
}
