// Package records implements the CRUD layer: it validates user input
// against a collection's field metadata, persists through the database
// gateway, and decodes rows back into JSON-shaped records. It knows
// nothing about HTTP, rules, or realtime — those layer on top via the
// hook-aware variants.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/query"
	"github.com/bunbase/bunbase/internal/schema"
)

// Record is the decoded, JSON-ready representation of one row: field values
// keyed by column name, JSON fields already unmarshaled.
type Record map[string]any

// PasswordHasher hashes credentials for auth-kind collections. The auth
// subsystem supplies the implementation; records stays free of its own
// dependency on it to avoid an import cycle (auth resolves principals by
// looking up records through this same service).
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// Service performs CRUD against user tables on behalf of the dispatcher.
type Service struct {
	db       *database.DB
	registry *schema.Registry
	hooks    *hooks.Engine
	hasher   PasswordHasher
}

func NewService(db *database.DB, registry *schema.Registry, engine *hooks.Engine) *Service {
	return &Service{db: db, registry: registry, hooks: engine}
}

// SetPasswordHasher wires the hasher used for auth-collection create/update.
func (s *Service) SetPasswordHasher(h PasswordHasher) {
	s.hasher = h
}

// ListResult is the paged output of List.
type ListResult struct {
	Items      []Record
	Page       int
	PerPage    int
	TotalItems int
	TotalPages int
}

// Create validates data against the collection's fields, assigns id and
// timestamps, and inserts the row in a transaction.
func (s *Service) Create(ctx context.Context, collection string, data map[string]any) (Record, error) {
	col, ok := s.registry.GetCollection(collection)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}

	id := database.GenerateRecordID()
	now := database.Now()

	values, err := s.validateForCreate(ctx, col, data)
	if err != nil {
		return nil, err
	}
	values["id"] = id
	values["created_at"] = now
	values["updated_at"] = now

	cols, placeholders, args := insertParts(values)
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		database.QuoteIdentifier(collection), cols, placeholders)

	err = s.db.Transaction(ctx, func(tx *database.Tx) error {
		_, execErr := tx.Exec(insertSQL, args...)
		return execErr
	})
	if err != nil {
		return nil, mapWriteError(err)
	}

	return s.Get(ctx, collection, id)
}

// Get returns the decoded record, or nil if it doesn't exist.
func (s *Service) Get(ctx context.Context, collection, id string) (Record, error) {
	col, ok := s.registry.GetCollection(collection)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE id = ?", database.QuoteIdentifier(collection)), id)
	columns := managedAndFieldColumns(col)
	result, err := database.ScanRow(row, columns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierr.Internal(fmt.Errorf("fetching %s/%s: %w", collection, id, err))
	}

	return decodeRow(col, result), nil
}

// FindAuthByEmail looks up a kind=auth collection's row by email for
// credential verification, returning nil if no row matches. Unlike Get,
// the password_hash column is left in the result: this method exists only
// for the auth subsystem to check it, never to serve a response body.
func (s *Service) FindAuthByEmail(ctx context.Context, collection, email string) (Record, error) {
	col, ok := s.registry.GetCollection(collection)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}
	if col.Kind != schema.KindAuth {
		return nil, apierr.Validation(fmt.Sprintf("collection %q is not an auth collection", collection))
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE email = ?", database.QuoteIdentifier(collection)), email)
	columns := managedAndFieldColumns(col)
	result, err := database.ScanRow(row, columns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apierr.Internal(fmt.Errorf("fetching %s by email: %w", collection, err))
	}

	rec := make(Record, len(result))
	for k, v := range result {
		rec[k] = v
	}
	if v, ok := rec["verified"]; ok {
		rec["verified"] = asBool(v)
	}
	return rec, nil
}

// List runs the query builder's paged SELECT/COUNT pair, decodes rows, and
// optionally expands one level of relation fields.
// extraWhere/extraArgs let the rule evaluator append its own AND-ed SQL
// predicate without the record service knowing anything about rules.
func (s *Service) List(ctx context.Context, collection string, opts query.Options, extraWhere string, extraArgs []any) (*ListResult, error) {
	col, ok := s.registry.GetCollection(collection)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}

	valid := validFieldSet(col)
	built, err := query.Build(collection, valid, opts)
	if err != nil {
		return nil, err
	}

	selectSQL, countSQL := built.SQL, built.CountSQL
	params := built.Params
	if extraWhere != "" {
		selectSQL, countSQL = appendExtraWhere(selectSQL, countSQL, extraWhere)
		params = append(append([]any{}, params...), extraArgs...)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, params...).Scan(&total); err != nil {
		return nil, apierr.Internal(fmt.Errorf("counting %s: %w", collection, err))
	}

	rows, err := s.db.QueryContext(ctx, selectSQL, params...)
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("listing %s: %w", collection, err))
	}
	raw, err := database.ScanRows(rows)
	rows.Close()
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("scanning %s: %w", collection, err))
	}

	items := make([]Record, 0, len(raw))
	for _, r := range raw {
		items = append(items, decodeRow(col, database.Row(r)))
	}

	if len(opts.Expand) > 0 {
		if err := s.expand(ctx, col, items, opts.Expand); err != nil {
			return nil, err
		}
	}

	totalPages := 0
	if built.PerPage > 0 {
		totalPages = (total + built.PerPage - 1) / built.PerPage
	}

	return &ListResult{
		Items:      items,
		Page:       built.Page,
		PerPage:    built.PerPage,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

// Update fetches the existing row, merges patch on top (missing keys left
// untouched), revalidates, and persists with a refreshed updated_at.
func (s *Service) Update(ctx context.Context, collection, id string, patch map[string]any) (Record, error) {
	col, ok := s.registry.GetCollection(collection)
	if !ok {
		return nil, apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}

	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apierr.NotFound(fmt.Sprintf("%s/%s not found", collection, id))
	}

	values, err := s.validateForUpdate(ctx, col, existing, patch)
	if err != nil {
		return nil, err
	}
	now := database.Now()
	values["updated_at"] = now

	setParts := make([]string, 0, len(values))
	args := make([]any, 0, len(values)+1)
	for colName, v := range values {
		setParts = append(setParts, fmt.Sprintf("%s = ?", database.QuoteIdentifier(colName)))
		args = append(args, v)
	}
	args = append(args, id)

	updateSQL := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?",
		database.QuoteIdentifier(collection), strings.Join(setParts, ", "))

	err = s.db.Transaction(ctx, func(tx *database.Tx) error {
		_, execErr := tx.Exec(updateSQL, args...)
		return execErr
	})
	if err != nil {
		return nil, mapWriteError(err)
	}

	return s.Get(ctx, collection, id)
}

// Delete removes the row. File cleanup runs from the afterDelete hook, not
// here.
func (s *Service) Delete(ctx context.Context, collection, id string) error {
	if _, ok := s.registry.GetCollection(collection); !ok {
		return apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}

	return s.db.Transaction(ctx, func(tx *database.Tx) error {
		res, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", database.QuoteIdentifier(collection)), id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.NotFound(fmt.Sprintf("%s/%s not found", collection, id))
		}
		return nil
	})
}

func mapWriteError(err error) error {
	if ce := database.AsConstraintError(database.ClassifyError(err)); ce != nil {
		switch ce.Type {
		case "unique":
			return apierr.Conflict(ce.Message)
		case "foreign_key":
			return apierr.Validation(ce.Message)
		case "not_null", "check":
			return apierr.Validation(ce.Message)
		}
	}
	return apierr.Internal(err)
}

func insertParts(values map[string]any) (cols, placeholders string, args []any) {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	quoted := make([]string, len(names))
	marks := make([]string, len(names))
	args = make([]any, len(names))
	for i, n := range names {
		quoted[i] = database.QuoteIdentifier(n)
		marks[i] = "?"
		args[i] = values[n]
	}
	return strings.Join(quoted, ", "), strings.Join(marks, ", "), args
}

func managedAndFieldColumns(col *schema.Collection) []string {
	out := []string{"id"}
	if col.Kind == schema.KindAuth {
		out = append(out, "email", "password_hash", "verified")
	}
	for _, f := range col.OrderedFields() {
		out = append(out, f.Name)
	}
	out = append(out, "created_at", "updated_at")
	return out
}

func validFieldSet(col *schema.Collection) map[string]bool {
	return schema.ValidFieldSet(col)
}

// appendExtraWhere ANDs a rule-derived predicate onto both the select and
// count queries produced by the query builder. After an optional WHERE
// clause the select has an optional ORDER BY and then LIMIT/OFFSET, and the
// count has nothing, so the predicate is spliced in textually rather than
// re-parsed.
func appendExtraWhere(selectSQL, countSQL, extraWhere string) (string, string) {
	return spliceWhere(selectSQL, extraWhere), spliceWhere(countSQL, extraWhere)
}

func spliceWhere(sqlStr, extraWhere string) string {
	upper := strings.ToUpper(sqlStr)
	if idx := strings.Index(upper, " WHERE "); idx >= 0 {
		end := len(sqlStr)
		for _, marker := range []string{" ORDER BY ", " LIMIT "} {
			if j := strings.Index(upper[idx:], marker); j >= 0 && idx+j < end {
				end = idx + j
			}
		}
		return sqlStr[:idx+7] + "(" + extraWhere + ") AND (" + sqlStr[idx+7:end] + ")" + sqlStr[end:]
	}
	// No WHERE clause yet: insert one before ORDER BY/LIMIT if present, else append.
	for _, marker := range []string{" ORDER BY ", " LIMIT "} {
		if idx := strings.Index(upper, marker); idx >= 0 {
			return sqlStr[:idx] + " WHERE " + extraWhere + sqlStr[idx:]
		}
	}
	return sqlStr + " WHERE " + extraWhere
}

// decodeRow turns a raw scanned row into a Record: JSON fields unmarshaled,
// boolean fields coerced to bool, numbers coerced to float64.
func decodeRow(col *schema.Collection, row database.Row) Record {
	rec := make(Record, len(row))
	for k, v := range row {
		rec[k] = v
	}

	for _, f := range col.OrderedFields() {
		v, ok := rec[f.Name]
		if !ok || v == nil {
			continue
		}
		switch f.Type {
		case schema.FieldTypeJSON:
			if s, ok := v.(string); ok && s != "" {
				var decoded any
				if err := json.Unmarshal([]byte(s), &decoded); err == nil {
					rec[f.Name] = decoded
				}
			}
		case schema.FieldTypeBoolean:
			rec[f.Name] = asBool(v)
		case schema.FieldTypeNumber:
			rec[f.Name] = asFloat(v)
		case schema.FieldTypeFile:
			if s, ok := v.(string); ok && f.EffectiveMaxFiles() > 1 {
				var decoded []string
				if err := json.Unmarshal([]byte(s), &decoded); err == nil {
					rec[f.Name] = decoded
				}
			}
		}
	}

	if col.Kind == schema.KindAuth {
		delete(rec, "password_hash")
		if v, ok := rec["verified"]; ok {
			rec["verified"] = asBool(v)
		}
	}

	return rec
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case float64:
		return t != 0
	case string:
		return t == "1" || strings.EqualFold(t, "true")
	default:
		return false
	}
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}
