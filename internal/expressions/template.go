package expressions

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// placeholderPattern matches {dotted.path} references inside strings.
var placeholderPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// Resolver substitutes {path} placeholders against an execution context.
// Resolution is permissive: a path that does not resolve leaves the
// placeholder text unchanged so partially-built contexts never error.
type Resolver struct{}

// NewResolver creates a template resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve deep-walks the value, substituting placeholders in every string.
// Maps and slices are resolved recursively; non-string scalars pass through.
func (r *Resolver) Resolve(value any, context map[string]any) any {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, context)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = r.Resolve(val, context)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = r.Resolve(val, context)
		}
		return out
	default:
		return value
	}
}

// ResolveMap resolves every value of a string-keyed map.
func (r *Resolver) ResolveMap(m map[string]any, context map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	resolved, _ := r.Resolve(m, context).(map[string]any)
	return resolved
}

// ResolveString substitutes placeholders in a single string and stringifies
// the result.
func (r *Resolver) ResolveString(s string, context map[string]any) string {
	return Stringify(r.resolveString(s, context))
}

// resolveString handles the two substitution shapes: a string that is exactly
// one placeholder resolves to the referenced value with its type preserved;
// a string with surrounding text or multiple placeholders stringifies each
// substitution into the final string.
func (r *Resolver) resolveString(s string, context map[string]any) any {
	if !strings.Contains(s, "{") {
		return s
	}

	if m := placeholderPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		if val, ok := LookupPath(context, m[1]); ok {
			return val
		}
		return s
	}

	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		path := match[1 : len(match)-1]
		val, ok := LookupPath(context, path)
		if !ok {
			return match
		}
		return Stringify(val)
	})
}

// LookupPath walks a dotted path through nested maps. The second return is
// false when any segment is missing or an intermediate value is not a map.
func LookupPath(root map[string]any, path string) (any, bool) {
	var current any = root
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Stringify renders a resolved value for embedding into a template string.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return fmt.Sprintf("%v", val)
	}
}
