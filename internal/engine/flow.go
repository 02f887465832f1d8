package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/strandlabs/strand/pkg/schema"
)

type waitMode int

const (
	waitAll waitMode = iota
	waitAny
	waitCount
)

// parseWaitFor interprets the wait_for policy. count:N is clamped to the
// number of sub-steps.
func parseWaitFor(s string, n int) (waitMode, int, error) {
	switch {
	case s == "" || s == "all":
		return waitAll, n, nil
	case s == "any":
		return waitAny, 1, nil
	default:
		if num, ok := strings.CutPrefix(s, "count:"); ok {
			c, err := strconv.Atoi(num)
			if err != nil || c < 1 {
				return 0, 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid wait_for %q", s)
			}
			if c > n {
				c = n
			}
			return waitCount, c, nil
		}
		return 0, 0, schema.NewErrorf(schema.ErrCodeValidation, "invalid wait_for %q", s)
	}
}

type branchResult struct {
	index  int
	output map[string]any
	err    error
}

// executeParallel fans the nested steps out through the worker pool. Every
// branch sees the same pre-parallel context snapshot; outputs are merged
// positionally as {"step_0": ..., "step_1": ...} once the wait policy
// resolves, and the remaining branches are cancelled.
func (e *Engine) executeParallel(ctx context.Context, run *execRun, step *schema.StepDefinition, execCtx map[string]any, depth int) (map[string]any, error) {
	n := len(step.Steps)
	if n == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "parallel step has no sub-steps").WithStep(step.Name)
	}
	mode, need, err := parseWaitFor(step.WaitFor, n)
	if err != nil {
		return nil, err
	}

	// Read view shared by every branch: branches never see each other's
	// output, only the pre-parallel context.
	snapshot := make(map[string]any, len(execCtx))
	for k, v := range execCtx {
		snapshot[k] = v
	}

	branchCtx, cancelBranches := context.WithCancel(ctx)
	defer cancelBranches()

	results := make(chan branchResult, n)
	for i := range step.Steps {
		sub := step.Steps[i]
		idx := i
		submitErr := e.pool.Submit(branchCtx, func(c context.Context) error {
			out, runErr := e.runStep(c, run, &sub, snapshot, depth+1)
			results <- branchResult{index: idx, output: out, err: runErr}
			return runErr
		})
		if submitErr != nil {
			results <- branchResult{index: idx, err: submitErr}
		}
	}

	outputs := make(map[string]any)
	var failures []string
	successes, terminal := 0, 0

	for terminal < n {
		r := <-results
		terminal++
		if r.err != nil {
			failures = append(failures, "step_"+strconv.Itoa(r.index)+": "+r.err.Error())
		} else {
			successes++
			outputs["step_"+strconv.Itoa(r.index)] = r.output
		}

		switch mode {
		case waitAny:
			if r.err == nil {
				cancelBranches()
				return outputs, nil
			}
		case waitCount:
			if terminal >= need {
				cancelBranches()
				if successes == 0 {
					return nil, aggregateFailure(step.Name, failures, terminal)
				}
				e.logger.DebugContext(ctx, "parallel count satisfied",
					slog.Int("counted", terminal), slog.Int("successes", successes))
				return outputs, nil
			}
		}
	}

	// waitAll reaches here always; waitAny reaches here when every branch
	// failed.
	if len(failures) > 0 {
		return nil, aggregateFailure(step.Name, failures, n)
	}
	return outputs, nil
}

func aggregateFailure(stepName string, failures []string, total int) error {
	return schema.NewErrorf(schema.ErrCodeExecutionFailed,
		"%d of %d parallel tasks failed: %s",
		len(failures), total, strings.Join(failures, "; ")).WithStep(stepName)
}

// executeConditional evaluates the condition and runs exactly one branch.
// An absent branch yields {"skipped": true, "branch": ...} and no step record
// for the branch that does not exist.
func (e *Engine) executeConditional(ctx context.Context, run *execRun, step *schema.StepDefinition, execCtx map[string]any, depth int) (map[string]any, error) {
	result, err := e.evaluator.Evaluate(ctx, step.Condition, execCtx)
	if err != nil {
		return nil, err
	}

	branchName := "false"
	branch := step.IfFalse
	if result {
		branchName = "true"
		branch = step.IfTrue
	}

	if branch == nil {
		return map[string]any{"skipped": true, "branch": branchName}, nil
	}

	out, err := e.runStep(ctx, run, branch, execCtx, depth+1)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"condition_result": result,
		"branch_taken":     branchName,
		"result":           out,
	}, nil
}
