package validation

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/strandlabs/strand/pkg/schema"
)

// maxStepDepth bounds step tree nesting during validation. A definition this
// deep is malformed in practice; failing fast here keeps the executor's own
// depth guard from ever firing on a validated workflow.
const maxStepDepth = 16

// validateSemantic performs the per-kind checks JSON Schema cannot express:
// required fields per step type, sibling name uniqueness, wait_for counts,
// condition dialects, and nesting depth.
func validateSemantic(def *schema.WorkflowDefinition) error {
	var violations []string
	checkSiblings(def.Steps, "steps", 0, &violations)

	if len(violations) == 0 {
		return nil
	}
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation,
		"validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// checkSiblings validates one sibling list: names must be unique because the
// step name is the context key its output lands under.
func checkSiblings(steps []schema.StepDefinition, path string, depth int, violations *[]string) {
	seen := make(map[string]struct{}, len(steps))
	for i := range steps {
		p := fmt.Sprintf("%s[%d]", path, i)
		name := steps[i].Name
		if _, dup := seen[name]; dup {
			*violations = append(*violations, fmt.Sprintf("%s: duplicate step name %q among siblings", p, name))
		}
		seen[name] = struct{}{}
		checkStep(&steps[i], p, depth, violations)
	}
}

func checkStep(step *schema.StepDefinition, path string, depth int, violations *[]string) {
	if depth > maxStepDepth {
		*violations = append(*violations, fmt.Sprintf("%s: step nesting exceeds depth limit %d", path, maxStepDepth))
		return
	}

	switch schema.NormalizeStepType(step.Type) {
	case schema.StepTypeAgent:
		if step.AgentID == "" {
			*violations = append(*violations, path+": agent step requires agent_id")
		}
		if _, ok := step.Input["instruction"]; !ok {
			*violations = append(*violations, path+": agent step requires input.instruction")
		}

	case schema.StepTypeTool:
		if step.ServerID == "" {
			*violations = append(*violations, path+": tool step requires server_id")
		}
		if step.ToolName == "" {
			*violations = append(*violations, path+": tool step requires tool_name")
		}

	case schema.StepTypeHTTP:
		if step.URL == "" {
			*violations = append(*violations, path+": http step requires url")
		}
		if step.Method != "" && !validHTTPMethod(step.Method) {
			*violations = append(*violations, fmt.Sprintf("%s: invalid http method %q", path, step.Method))
		}

	case schema.StepTypeParallel:
		if len(step.Steps) == 0 {
			*violations = append(*violations, path+": parallel step requires at least one sub-step")
		}
		checkWaitFor(step.WaitFor, path, violations)
		checkSiblings(step.Steps, path+".steps", depth+1, violations)

	case schema.StepTypeConditional:
		if step.Condition == "" {
			*violations = append(*violations, path+": conditional step requires a condition")
		} else if !validConditionDialect(step.Condition) {
			*violations = append(*violations, fmt.Sprintf(
				"%s: condition must start with %q or %q", path, "$.", "cel:"))
		}
		if step.IfTrue != nil {
			checkStep(step.IfTrue, path+".if_true", depth+1, violations)
		}
		if step.IfFalse != nil {
			checkStep(step.IfFalse, path+".if_false", depth+1, violations)
		}
	}
}

// checkWaitFor rejects count:0; the pattern in the structural schema already
// constrains the shape.
func checkWaitFor(waitFor, path string, violations *[]string) {
	if num, ok := strings.CutPrefix(waitFor, "count:"); ok {
		if n, err := strconv.Atoi(num); err != nil || n < 1 {
			*violations = append(*violations, fmt.Sprintf("%s: wait_for count must be at least 1, got %q", path, waitFor))
		}
	}
}

func validConditionDialect(cond string) bool {
	return strings.HasPrefix(cond, "$.") || strings.HasPrefix(cond, "cel:")
}

func validHTTPMethod(m string) bool {
	switch strings.ToUpper(m) {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		return true
	}
	return false
}
