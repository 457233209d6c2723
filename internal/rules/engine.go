package rules

import (
	"fmt"
	"sync"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/schema"
)

// Operation names one of a collection's five rule slots.
type Operation string

const (
	OpList   Operation = "list"
	OpView   Operation = "view"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Rule is a compiled rule string. A nil expr means the rule string was
// empty or absent, which this engine treats as admin-only: deny to every
// non-admin principal.
type Rule struct {
	raw  string
	expr Expr
}

// Compile parses raw into a Rule. An empty string compiles successfully to
// the admin-only rule rather than an error.
func Compile(raw string) (*Rule, error) {
	if raw == "" {
		return &Rule{raw: raw}, nil
	}
	expr, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("compiling rule %q: %w", raw, err)
	}
	return &Rule{raw: raw, expr: expr}, nil
}

func (r *Rule) IsAdminOnly() bool {
	return r.expr == nil
}

// Allow evaluates the predicate path. Admins always pass.
func (r *Rule) Allow(ctx PredicateContext, isAdmin bool) (bool, error) {
	if isAdmin {
		return true, nil
	}
	if r.IsAdminOnly() {
		return false, nil
	}
	return evalPredicate(r.expr, ctx)
}

// SQLWhere lowers the rule to a WHERE predicate for the list path. Admins
// get an unconditionally-true predicate; an admin-only rule gets an
// unconditionally-false one so the query returns no rows.
func (r *Rule) SQLWhere(ctx SQLContext, isAdmin bool) (string, []any, error) {
	if isAdmin {
		return "1=1", nil, nil
	}
	if r.IsAdminOnly() {
		return "0=1", nil, nil
	}
	var args []any
	where, err := toSQL(r.expr, ctx, &args)
	if err != nil {
		return "", nil, err
	}
	return where, args, nil
}

// Engine caches one compiled Rule per (collection, operation) pair:
// compile-once, evaluate-many.
type Engine struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

func NewEngine() *Engine {
	return &Engine{rules: make(map[string]*Rule)}
}

func ruleKey(collection string, op Operation) string {
	return collection + ":" + string(op)
}

// SetRule compiles and stores the rule for collection/op, replacing any
// prior rule for that key.
func (e *Engine) SetRule(collection string, op Operation, raw string) error {
	r, err := Compile(raw)
	if err != nil {
		return apierr.Validation(err.Error())
	}
	e.mu.Lock()
	e.rules[ruleKey(collection, op)] = r
	e.mu.Unlock()
	return nil
}

// LoadCollection compiles all five rule slots from a schema collection at
// once, invoked whenever the schema registry reports a change.
func (e *Engine) LoadCollection(col *schema.Collection) error {
	slots := map[Operation]string{
		OpList:   col.ListRule,
		OpView:   col.ViewRule,
		OpCreate: col.CreateRule,
		OpUpdate: col.UpdateRule,
		OpDelete: col.DeleteRule,
	}
	for op, raw := range slots {
		if err := e.SetRule(col.Name, op, raw); err != nil {
			return fmt.Errorf("collection %s: %w", col.Name, err)
		}
	}
	return nil
}

func (e *Engine) getRule(collection string, op Operation) *Rule {
	e.mu.RLock()
	r, ok := e.rules[ruleKey(collection, op)]
	e.mu.RUnlock()
	if !ok {
		return &Rule{} // absent rule: admin-only
	}
	return r
}

// CheckAccess evaluates the predicate path and returns a typed
// ForbiddenError on denial, nil on admit.
func (e *Engine) CheckAccess(collection string, op Operation, ctx PredicateContext, isAdmin bool) error {
	r := e.getRule(collection, op)
	allowed, err := r.Allow(ctx, isAdmin)
	if err != nil {
		return apierr.Internal(err)
	}
	if !allowed {
		return apierr.Forbidden(fmt.Sprintf("access denied for %s on %s", op, collection))
	}
	return nil
}

// ListWhere lowers the list rule for collection to a WHERE predicate the
// caller ANDs onto the query builder's own clauses.
func (e *Engine) ListWhere(collection string, ctx SQLContext, isAdmin bool) (string, []any, error) {
	r := e.getRule(collection, OpList)
	return r.SQLWhere(ctx, isAdmin)
}

// HasRule reports whether a non-default rule has been compiled for the
// given collection/operation.
func (e *Engine) HasRule(collection string, op Operation) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[ruleKey(collection, op)]
	return ok && !r.IsAdminOnly()
}
