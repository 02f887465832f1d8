package expressions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/strandlabs/strand/pkg/schema"
)

// CELEngine evaluates "cel:"-dialect conditions using Google's Common
// Expression Language. Thread-safe: compiled programs are cached and reused
// across goroutines.
type CELEngine struct {
	env *cel.Env

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// NewCELEngine creates a CEL engine with a sandboxed environment.
// Two top-level variables are exposed:
//   - context: map(string, dyn) — the full execution context
//   - input:   map(string, dyn) — shortcut for context["input"]
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("context", mapType),
		cel.Variable("input", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// EvaluateBool evaluates the expression against the execution context and
// requires a boolean result.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, execCtx map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, execCtx)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"cel expression %q evaluated to %T, want bool", expression, out)
	}
	return b, nil
}

// Evaluate compiles (or retrieves from cache) a CEL expression and evaluates
// it against the execution context.
func (e *CELEngine) Evaluate(_ context.Context, expression string, execCtx map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeInvalidCondition, "empty cel expression")
	}

	prg, err := e.getOrCompile(expression)
	if err != nil {
		return nil, err
	}

	out, _, err := prg.Eval(buildActivation(execCtx))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"cel evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out.Value(), nil
}

// getOrCompile returns a cached compiled program or compiles and caches a new one.
func (e *CELEngine) getOrCompile(expression string) (cel.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"cel compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"cel program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	e.cache[expression] = prg
	return prg, nil
}

// buildActivation maps the execution context onto the declared variables.
// Missing keys default to empty maps to prevent CEL runtime nil-ref errors.
func buildActivation(execCtx map[string]any) map[string]any {
	activation := map[string]any{
		"context": map[string]any{},
		"input":   map[string]any{},
	}
	if execCtx != nil {
		activation["context"] = execCtx
		if in, ok := execCtx["input"].(map[string]any); ok {
			activation["input"] = in
		}
	}
	return activation
}
