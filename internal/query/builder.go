// Package query builds parameterized SQL for listing records. It has no
// knowledge of collections beyond the set of field names the caller says
// are valid; the record service supplies that set from the schema registry.
package query

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/database"
)

type Op string

const (
	OpEq      Op = "="
	OpNe      Op = "!="
	OpGt      Op = ">"
	OpLt      Op = "<"
	OpGte     Op = ">="
	OpLte     Op = "<="
	OpLike    Op = "~"
	OpNotLike Op = "!~"
)

func (o Op) IsValid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpLt, OpGte, OpLte, OpLike, OpNotLike:
		return true
	}
	return false
}

type Dir string

const (
	Asc  Dir = "asc"
	Desc Dir = "desc"
)

type Condition struct {
	Field string
	Op    Op
	Value any
}

type SortKey struct {
	Field string
	Dir   Dir
}

// Options is the input to Build: filter conditions, sort keys, paging, and
// the relation fields to expand.
type Options struct {
	Filter  []Condition
	Sort    []SortKey
	Page    int
	PerPage int
	Expand  []string
}

const (
	DefaultPage    = 1
	DefaultPerPage = 30
	MaxPerPage     = 500
)

func normalize(o Options) Options {
	if o.Page < 1 {
		o.Page = DefaultPage
	}
	switch {
	case o.PerPage == 0:
		o.PerPage = DefaultPerPage
	case o.PerPage < 1:
		o.PerPage = 1
	case o.PerPage > MaxPerPage:
		o.PerPage = MaxPerPage
	}
	return o
}

// Built is Build's output: the paged SELECT, its matching COUNT query, and
// the bound parameters shared between them.
type Built struct {
	SQL      string
	CountSQL string
	Params   []any
	Page     int
	PerPage  int
}

// Build validates every referenced field name against validFields (managed
// columns union getFields(collection)) and produces the paged SELECT plus
// its matching COUNT query.
func Build(table string, validFields map[string]bool, opts Options) (*Built, error) {
	opts = normalize(opts)

	var whereParts []string
	var params []any

	for i, c := range opts.Filter {
		if !validFields[c.Field] {
			return nil, apierr.Validation(fmt.Sprintf("unknown filter field %q", c.Field))
		}
		if !c.Op.IsValid() {
			return nil, apierr.Validation(fmt.Sprintf("unknown filter operator %q", c.Op))
		}

		name := fmt.Sprintf("p%d", i)
		col := database.QuoteIdentifier(c.Field)

		switch c.Op {
		case OpLike, OpNotLike:
			sqlOp := "LIKE"
			if c.Op == OpNotLike {
				sqlOp = "NOT LIKE"
			}
			whereParts = append(whereParts, fmt.Sprintf("%s %s :%s ESCAPE '\\'", col, sqlOp, name))
			params = append(params, sql.Named(name, "%"+escapeLike(fmt.Sprint(c.Value))+"%"))
		default:
			whereParts = append(whereParts, fmt.Sprintf("%s %s :%s", col, string(c.Op), name))
			params = append(params, sql.Named(name, c.Value))
		}
	}

	where := ""
	if len(whereParts) > 0 {
		where = " WHERE " + strings.Join(whereParts, " AND ")
	}

	orderBy := ""
	if len(opts.Sort) > 0 {
		var orderParts []string
		haveID := false
		for _, s := range opts.Sort {
			if !validFields[s.Field] {
				return nil, apierr.Validation(fmt.Sprintf("unknown sort field %q", s.Field))
			}
			dir := "ASC"
			if strings.EqualFold(string(s.Dir), string(Desc)) {
				dir = "DESC"
			}
			orderParts = append(orderParts, fmt.Sprintf("%s %s", database.QuoteIdentifier(s.Field), dir))
			if s.Field == "id" {
				haveID = true
			}
		}
		if !haveID {
			orderParts = append(orderParts, database.QuoteIdentifier("id")+" ASC")
		}
		orderBy = " ORDER BY " + strings.Join(orderParts, ", ")
	}

	offset := (opts.Page - 1) * opts.PerPage
	quotedTable := database.QuoteIdentifier(table)

	selectSQL := fmt.Sprintf("SELECT * FROM %s%s%s LIMIT %d OFFSET %d",
		quotedTable, where, orderBy, opts.PerPage, offset)
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quotedTable, where)

	return &Built{
		SQL:      selectSQL,
		CountSQL: countSQL,
		Params:   params,
		Page:     opts.Page,
		PerPage:  opts.PerPage,
	}, nil
}

// escapeLike escapes LIKE metacharacters in a user-supplied value before
// it is wrapped in "%v%" for a ~/!~ condition.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
