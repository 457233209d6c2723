package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// Principal is the resolved auth identity a rule can reference via
// @request.auth.id / @request.auth.role. Kept free of any dependency on
// the auth subsystem's own types.
type Principal struct {
	ID   string
	Role string
}

// PredicateContext carries the record and the resolved auth principal
// into the single-record evaluation path.
type PredicateContext struct {
	Record map[string]any
	Auth   *Principal
}

func evalPredicate(e Expr, ctx PredicateContext) (bool, error) {
	switch n := e.(type) {
	case *Logical:
		left, err := evalPredicate(n.Left, ctx)
		if err != nil {
			return false, err
		}
		if n.Op == "&&" && !left {
			return false, nil
		}
		if n.Op == "||" && left {
			return true, nil
		}
		return evalPredicate(n.Right, ctx)
	case *Comparison:
		lv, err := evalOperand(n.Left, ctx)
		if err != nil {
			return false, err
		}
		rv, err := evalOperand(n.Right, ctx)
		if err != nil {
			return false, err
		}
		return compareValues(lv, n.Op, rv)
	default:
		return false, fmt.Errorf("unknown expression node %T", e)
	}
}

func evalOperand(op Operand, ctx PredicateContext) (any, error) {
	switch o := op.(type) {
	case Literal:
		return o.Value, nil
	case FieldRef:
		return ctx.Record[o.Name], nil
	case RecordRef:
		return ctx.Record[o.Field], nil
	case AuthRef:
		if ctx.Auth == nil {
			return nil, nil
		}
		switch o.Attr {
		case "id":
			return ctx.Auth.ID, nil
		case "role":
			return ctx.Auth.Role, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown operand %T", op)
	}
}

func compareValues(lv any, op CompareOp, rv any) (bool, error) {
	switch op {
	case OpEq:
		return valuesEqual(lv, rv), nil
	case OpNe:
		return !valuesEqual(lv, rv), nil
	case OpGt, OpLt, OpGte, OpLte:
		lf, lok := toFloat(lv)
		rf, rok := toFloat(rv)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case OpGt:
			return lf > rf, nil
		case OpLt:
			return lf < rf, nil
		case OpGte:
			return lf >= rf, nil
		case OpLte:
			return lf <= rf, nil
		}
	case OpLike:
		return strings.Contains(toString(lv), toString(rv)), nil
	case OpNotLike:
		return !strings.Contains(toString(lv), toString(rv)), nil
	}
	return false, fmt.Errorf("unsupported operator %q", op)
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return toString(a) == toString(b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
