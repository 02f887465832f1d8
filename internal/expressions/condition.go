package expressions

import (
	"context"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/strandlabs/strand/pkg/schema"
)

// conditionPattern matches the `$.<path> <op> <literal>` grammar.
var conditionPattern = regexp.MustCompile(`^\$\.(\S+)\s*(>=|<=|==|!=|>|<)\s*(.+)$`)

// CELPrefix marks a condition that is evaluated by the CEL engine instead of
// the comparison grammar.
const CELPrefix = "cel:"

// Evaluator evaluates step conditions against an execution context.
// The default grammar is a single comparison: `$.a.b > 0.8`. Conditions
// prefixed with "cel:" are delegated to the CEL engine.
type Evaluator struct {
	cel *CELEngine
}

// NewEvaluator creates a condition evaluator. The CEL engine is optional;
// without it, "cel:" conditions fail with INVALID_CONDITION.
func NewEvaluator(cel *CELEngine) *Evaluator {
	return &Evaluator{cel: cel}
}

// Evaluate parses and evaluates the condition. A string that does not match
// the grammar fails with INVALID_CONDITION.
func (e *Evaluator) Evaluate(ctx context.Context, condition string, execCtx map[string]any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return false, schema.NewError(schema.ErrCodeInvalidCondition, "empty condition")
	}

	if rest, ok := strings.CutPrefix(condition, CELPrefix); ok {
		if e.cel == nil {
			return false, schema.NewError(schema.ErrCodeInvalidCondition, "cel conditions are not enabled")
		}
		return e.cel.EvaluateBool(ctx, strings.TrimSpace(rest), execCtx)
	}

	m := conditionPattern.FindStringSubmatch(condition)
	if m == nil {
		return false, schema.NewErrorf(schema.ErrCodeInvalidCondition,
			"condition %q does not match `$.path <op> literal`", condition)
	}

	// An unresolved path yields nil, which ordering operators treat as false.
	left, _ := LookupPath(execCtx, m[1])
	right := parseLiteral(m[3])

	return compare(left, m[2], right)
}

// parseLiteral interprets the right-hand side of a comparison.
// Recognized forms: true/false, null, a quoted string, a number. Anything
// else falls back to the raw text as a bare string.
func parseLiteral(raw string) any {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			return raw[1 : len(raw)-1]
		}
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// compare applies the operator. Equality is deep and numeric-normalized;
// ordering requires two numbers and evaluates to false for null or
// incomparable operand types rather than erroring.
func compare(left any, op string, right any) (bool, error) {
	switch op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case ">", "<", ">=", "<=":
		lf, lok := toFloat(left)
		rf, rok := toFloat(right)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		default:
			return lf <= rf, nil
		}
	default:
		return false, schema.NewErrorf(schema.ErrCodeInvalidCondition, "unsupported operator %q", op)
	}
}

func looseEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
