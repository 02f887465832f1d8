package expressions

import (
	"context"
	"strings"
)

// JQPrefix marks an output mapping expression evaluated by the jq engine.
const JQPrefix = "jq:"

// Mapper re-maps a step's output according to an output_mapping table.
// Each mapping value is one of:
//   - "$.a.b"      dotted extraction from the step output (missing paths map to nil)
//   - "jq:<expr>"  a jq program run against the step output
//   - anything else is carried over as a literal value
type Mapper struct {
	jq *GoJQEngine
}

// NewMapper creates an output mapper. The jq engine is optional; without it,
// "jq:" expressions resolve to nil.
func NewMapper(jq *GoJQEngine) *Mapper {
	return &Mapper{jq: jq}
}

// Apply produces the remapped output. A nil or empty mapping returns the
// output unchanged.
func (m *Mapper) Apply(ctx context.Context, mapping map[string]string, output map[string]any) (map[string]any, error) {
	if len(mapping) == 0 {
		return output, nil
	}

	result := make(map[string]any, len(mapping))
	for key, expr := range mapping {
		switch {
		case strings.HasPrefix(expr, JQPrefix):
			if m.jq == nil {
				result[key] = nil
				continue
			}
			val, err := m.jq.Evaluate(ctx, strings.TrimSpace(strings.TrimPrefix(expr, JQPrefix)), output)
			if err != nil {
				return nil, err
			}
			result[key] = val
		case strings.HasPrefix(expr, "$."):
			val, _ := LookupPath(output, strings.TrimPrefix(expr, "$."))
			result[key] = val
		default:
			result[key] = expr
		}
	}
	return result, nil
}
