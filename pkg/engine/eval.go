package engine

import (
	"fmt"
	"strings"

	"github.com/calegria/roboplan/pkg/plan"
)

// EvalCond evaluates a condition against the environment. Evaluation has no
// side effects. The only error is an unknown operator, which plan
// validation rejects before a run starts; a condition reaching here through
// another path still aborts the run rather than guessing.
//
// Comparison semantics:
//   - exists: the reference resolves and the value is not null.
//   - ==, !=: deep structural equality; NotFound equals only NotFound, so a
//     missing field never satisfies an equality check against null.
//   - >, <, >=, <=: both sides must resolve to numbers, otherwise false.
func EvalCond(c *plan.Condition, env Env) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("condition is nil")
	}

	switch strings.ToLower(strings.TrimSpace(c.Op)) {
	case plan.OpExists:
		v := ResolveValue(c.Value, env)
		return !IsNotFound(v) && v != nil, nil

	case plan.OpEq:
		return Equal(ResolveValue(c.Left, env), ResolveValue(c.Right, env)), nil

	case plan.OpNe:
		return !Equal(ResolveValue(c.Left, env), ResolveValue(c.Right, env)), nil

	case plan.OpGt:
		l, r, ok := numericSides(c, env)
		return ok && l > r, nil

	case plan.OpLt:
		l, r, ok := numericSides(c, env)
		return ok && l < r, nil

	case plan.OpGe:
		l, r, ok := numericSides(c, env)
		return ok && l >= r, nil

	case plan.OpLe:
		l, r, ok := numericSides(c, env)
		return ok && l <= r, nil

	case plan.OpAnd:
		for _, sub := range c.Conds {
			ok, err := EvalCond(sub, env)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return len(c.Conds) > 0, nil

	case plan.OpOr:
		for _, sub := range c.Conds {
			ok, err := EvalCond(sub, env)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case plan.OpNot:
		ok, err := EvalCond(c.Cond, env)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("unknown condition op %q", c.Op)
	}
}

// numericSides resolves both comparison sides and reports whether they are
// both numbers. Non-numeric comparisons are total but conservative: the
// condition is simply false.
func numericSides(c *plan.Condition, env Env) (float64, float64, bool) {
	l, lok := toNumber(ResolveValue(c.Left, env))
	r, rok := toNumber(ResolveValue(c.Right, env))
	return l, r, lok && rok
}
