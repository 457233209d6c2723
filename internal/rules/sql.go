package rules

import (
	"fmt"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/database"
)

// SQLContext is the principal available when lowering a rule to a WHERE
// predicate for the SQL projection path. Field refs are validated against
// ValidFields the same way the query builder validates filter/sort fields.
type SQLContext struct {
	Auth        *Principal
	ValidFields map[string]bool
}

func toSQL(e Expr, ctx SQLContext, args *[]any) (string, error) {
	switch n := e.(type) {
	case *Logical:
		left, err := toSQL(n.Left, ctx, args)
		if err != nil {
			return "", err
		}
		right, err := toSQL(n.Right, ctx, args)
		if err != nil {
			return "", err
		}
		joiner := " AND "
		if n.Op == "||" {
			joiner = " OR "
		}
		return "(" + left + joiner + right + ")", nil
	case *Comparison:
		return comparisonSQL(n, ctx, args)
	default:
		return "", fmt.Errorf("unknown expression node %T", e)
	}
}

func comparisonSQL(c *Comparison, ctx SQLContext, args *[]any) (string, error) {
	left, err := operandSQL(c.Left, ctx, args)
	if err != nil {
		return "", err
	}
	right, err := operandSQL(c.Right, ctx, args)
	if err != nil {
		return "", err
	}

	switch c.Op {
	case OpEq, OpNe, OpGt, OpLt, OpGte, OpLte:
		return fmt.Sprintf("%s %s %s", left, string(c.Op), right), nil
	case OpLike:
		return fmt.Sprintf("%s LIKE %s ESCAPE '\\'", left, right), nil
	case OpNotLike:
		return fmt.Sprintf("%s NOT LIKE %s ESCAPE '\\'", left, right), nil
	default:
		return "", fmt.Errorf("unsupported operator %q", c.Op)
	}
}

func operandSQL(op Operand, ctx SQLContext, args *[]any) (string, error) {
	switch o := op.(type) {
	case Literal:
		*args = append(*args, o.Value)
		return "?", nil
	case FieldRef:
		return fieldColumnSQL(o.Name, ctx)
	case RecordRef:
		return fieldColumnSQL(o.Field, ctx)
	case AuthRef:
		var v string
		if ctx.Auth != nil {
			switch o.Attr {
			case "id":
				v = ctx.Auth.ID
			case "role":
				v = ctx.Auth.Role
			}
		}
		*args = append(*args, v)
		return "?", nil
	default:
		return "", fmt.Errorf("unknown operand %T", op)
	}
}

func fieldColumnSQL(name string, ctx SQLContext) (string, error) {
	if !ctx.ValidFields[name] {
		return "", apierr.Validation(fmt.Sprintf("rule references unknown field %q", name))
	}
	return database.QuoteIdentifier(name), nil
}
