// Package engine implements the plan execution engine: a sequential
// interpreter that resolves $variable references against a run-scoped
// environment, evaluates conditions, dispatches tool invocations, and
// records a trace of everything it executed.
package engine

// Values are the untyped JSON/YAML shapes that flow through a run:
// nil, bool, numbers, string, []any and map[string]any. A missing
// reference resolves to the NotFound sentinel, which is distinct from nil;
// a field that is absent never compares equal to one that is null.

// NotFound marks a reference that did not resolve: an unbound variable, a
// missing map key, or an out-of-range list index. It is a first-class
// resolution outcome, not an error. When it leaks into tool args it
// serializes as JSON null so tools see an explicit missing value.
type NotFound struct{}

func (NotFound) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// IsNotFound reports whether v is the NotFound sentinel.
func IsNotFound(v any) bool {
	_, ok := v.(NotFound)
	return ok
}

// Equal is deep structural equality over run values. List order is
// significant. Numbers compare across int/float representations, since plan
// literals decode from YAML as ints while tool results arrive from JSON as
// float64. NotFound equals only NotFound, never nil, never a concrete
// value.
func Equal(a, b any) bool {
	if IsNotFound(a) || IsNotFound(b) {
		return IsNotFound(a) && IsNotFound(b)
	}
	if an, ok := toNumber(a); ok {
		bn, ok := toNumber(b)
		return ok && an == bn
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, present := bv[k]
			if !present || !Equal(v, bval) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// toNumber widens any numeric representation to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
