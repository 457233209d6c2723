// Package schema implements the DB-resident collection/field registry: it
// persists _collections and _fields rows, issues the DDL that keeps the
// physical tables in sync, and serves cached reads to the rest of the
// gateway.
package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/database"
)

// SubscriptionChecker lets the registry consult the realtime broker before
// renaming a collection, so it can refuse renames that would silently
// re-map an active subscription.
type SubscriptionChecker interface {
	HasSubscriptions(collection string) bool
}

type Registry struct {
	db *database.DB

	mu          sync.RWMutex
	collections map[string]*Collection

	onChange   func(collection string)
	subChecker SubscriptionChecker
}

func NewRegistry(db *database.DB) *Registry {
	return &Registry{db: db, collections: make(map[string]*Collection)}
}

// SetOnChange registers a callback invoked after any mutation that
// invalidates the cache for the given collection name.
func (r *Registry) SetOnChange(fn func(collection string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Registry) SetSubscriptionChecker(c SubscriptionChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subChecker = c
}

// Load populates the cache from _collections/_fields. Call once at startup
// after migrations.Run has created those tables.
func (r *Registry) Load(ctx context.Context) error {
	collections, err := r.loadAll(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.collections = collections
	r.mu.Unlock()
	return nil
}

func (r *Registry) loadAll(ctx context.Context) (map[string]*Collection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, kind, list_rule, view_rule, create_rule, update_rule, delete_rule, created_at, updated_at
		FROM _collections
	`)
	if err != nil {
		return nil, fmt.Errorf("querying collections: %w", err)
	}
	result, err := database.ScanRows(rows)
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("scanning collections: %w", err)
	}

	collections := make(map[string]*Collection, len(result))
	for _, row := range result {
		c := &Collection{
			Name:       asString(row["name"]),
			Kind:       Kind(asString(row["kind"])),
			ListRule:   asString(row["list_rule"]),
			ViewRule:   asString(row["view_rule"]),
			CreateRule: asString(row["create_rule"]),
			UpdateRule: asString(row["update_rule"]),
			DeleteRule: asString(row["delete_rule"]),
			CreatedAt:  asString(row["created_at"]),
			UpdatedAt:  asString(row["updated_at"]),
			Fields:     make(map[string]*Field),
		}
		collections[c.Name] = c
	}

	fieldRows, err := r.db.QueryContext(ctx, `
		SELECT collection_name, name, type, required, options_json, position
		FROM _fields
		ORDER BY collection_name, position
	`)
	if err != nil {
		return nil, fmt.Errorf("querying fields: %w", err)
	}
	fieldResult, err := database.ScanRows(fieldRows)
	fieldRows.Close()
	if err != nil {
		return nil, fmt.Errorf("scanning fields: %w", err)
	}

	for _, row := range fieldResult {
		colName := asString(row["collection_name"])
		col, ok := collections[colName]
		if !ok {
			continue
		}

		var opts FieldOptions
		if raw := asString(row["options_json"]); raw != "" {
			_ = json.Unmarshal([]byte(raw), &opts)
		}

		f := &Field{
			Name:     asString(row["name"]),
			Type:     FieldType(asString(row["type"])),
			Required: asBool(row["required"]),
			Position: asInt(row["position"]),
			Options:  &opts,
		}
		col.Fields[f.Name] = f
		col.fieldOrder = append(col.fieldOrder, f.Name)
	}

	for _, col := range collections {
		sort.Slice(col.fieldOrder, func(i, j int) bool {
			return col.Fields[col.fieldOrder[i]].Position < col.Fields[col.fieldOrder[j]].Position
		})
	}

	return collections, nil
}

func (r *Registry) GetCollection(name string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collections[name]
	return c, ok
}

func (r *Registry) GetFields(name string) ([]*Field, bool) {
	c, ok := r.GetCollection(name)
	if !ok {
		return nil, false
	}
	return c.OrderedFields(), true
}

func (r *Registry) ListCollections() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Collection, 0, len(r.collections))
	for _, c := range r.collections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func validateFieldName(collName string, name string) error {
	if !IsValidIdentifier(name) {
		return apierr.Validation(fmt.Sprintf("invalid field name %q", name))
	}
	if ManagedColumns[name] || AuthManagedColumns[name] {
		return apierr.Validation(fmt.Sprintf("field name %q is reserved", name))
	}
	return nil
}

// CreateCollection validates the name and fields, creates the physical
// table, and persists the metadata, all in one transaction.
func (r *Registry) CreateCollection(ctx context.Context, name string, kind Kind, fields []*Field) (*Collection, error) {
	if !IsValidIdentifier(name) {
		return nil, apierr.Validation(fmt.Sprintf("invalid collection name %q", name))
	}
	if !kind.IsValid() {
		return nil, apierr.Validation(fmt.Sprintf("invalid collection kind %q", kind))
	}
	if kind == "" {
		kind = KindBase
	}

	if _, exists := r.GetCollection(name); exists {
		return nil, apierr.Conflict(fmt.Sprintf("collection %q already exists", name))
	}

	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		if err := validateFieldName(name, f.Name); err != nil {
			return nil, err
		}
		if seen[f.Name] {
			return nil, apierr.Validation(fmt.Sprintf("duplicate field name %q", f.Name))
		}
		seen[f.Name] = true
		if !f.Type.IsValid() {
			return nil, apierr.Validation(fmt.Sprintf("invalid field type %q for %q", f.Type, f.Name))
		}
		if f.Type == FieldTypeRelation && f.RelationTarget() == name {
			return nil, apierr.Validation(fmt.Sprintf("field %q may not relate to its own collection at creation time", f.Name))
		}
		f.Position = i
	}

	col := &Collection{Name: name, Kind: kind, Fields: make(map[string]*Field)}
	for _, f := range fields {
		col.Fields[f.Name] = f
		col.fieldOrder = append(col.fieldOrder, f.Name)
	}

	now := database.Now()
	col.CreatedAt, col.UpdatedAt = now, now

	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		if _, err := tx.Exec(createTableSQL(col)); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}

		_, err := tx.Exec(`
			INSERT INTO _collections (name, kind, list_rule, view_rule, create_rule, update_rule, delete_rule, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, name, string(kind), nullIfEmpty(col.ListRule), nullIfEmpty(col.ViewRule), nullIfEmpty(col.CreateRule),
			nullIfEmpty(col.UpdateRule), nullIfEmpty(col.DeleteRule), now, now)
		if err != nil {
			return fmt.Errorf("inserting collection metadata: %w", err)
		}

		for _, f := range col.OrderedFields() {
			if err := insertFieldRow(tx, name, f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Internal(err)
	}

	r.mu.Lock()
	r.collections[name] = col
	r.mu.Unlock()
	r.notify(name)

	return col, nil
}

func insertFieldRow(tx *database.Tx, collection string, f *Field) error {
	optsJSON, err := json.Marshal(f.Options)
	if err != nil {
		return fmt.Errorf("marshaling field options: %w", err)
	}
	_, err = tx.Exec(`
		INSERT INTO _fields (collection_name, name, type, required, options_json, position)
		VALUES (?, ?, ?, ?, ?, ?)
	`, collection, f.Name, string(f.Type), boolToInt(f.Required), string(optsJSON), f.Position)
	if err != nil {
		return fmt.Errorf("inserting field %s.%s: %w", collection, f.Name, err)
	}
	return nil
}

// AddField issues ALTER TABLE ADD COLUMN and records the new field's
// metadata in the same transaction.
func (r *Registry) AddField(ctx context.Context, collection string, f *Field) error {
	col, ok := r.GetCollection(collection)
	if !ok {
		return apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}
	if err := validateFieldName(collection, f.Name); err != nil {
		return err
	}
	if _, exists := col.Fields[f.Name]; exists {
		return apierr.Conflict(fmt.Sprintf("field %q already exists on %q", f.Name, collection))
	}
	if !f.Type.IsValid() {
		return apierr.Validation(fmt.Sprintf("invalid field type %q", f.Type))
	}

	f.Position = len(col.fieldOrder)

	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		if _, err := tx.Exec(addColumnSQL(collection, f)); err != nil {
			return fmt.Errorf("adding column: %w", err)
		}
		return insertFieldRow(tx, collection, f)
	})
	if err != nil {
		return apierr.Internal(err)
	}

	r.mu.Lock()
	col.Fields[f.Name] = f
	col.fieldOrder = append(col.fieldOrder, f.Name)
	r.mu.Unlock()
	r.notify(collection)
	return nil
}

// UpdateField handles rename, type change, and the required flag. Type
// changes are lossy: values are cast with SQLite's own CAST semantics, per
// documented policy.
func (r *Registry) UpdateField(ctx context.Context, collection string, oldName string, updated *Field) error {
	col, ok := r.GetCollection(collection)
	if !ok {
		return apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}
	existing, ok := col.Fields[oldName]
	if !ok {
		return apierr.NotFound(fmt.Sprintf("field %q not found on %q", oldName, collection))
	}
	if updated.Name != oldName {
		if err := validateFieldName(collection, updated.Name); err != nil {
			return err
		}
		if _, exists := col.Fields[updated.Name]; exists {
			return apierr.Conflict(fmt.Sprintf("field %q already exists on %q", updated.Name, collection))
		}
	}
	if !updated.Type.IsValid() {
		return apierr.Validation(fmt.Sprintf("invalid field type %q", updated.Type))
	}

	typeChanged := existing.Type != updated.Type
	nameChanged := existing.Name != updated.Name
	updated.Position = existing.Position

	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		workingName := existing.Name

		if typeChanged {
			tempCol := "_" + existing.Name + "_old"
			if _, err := tx.Exec(renameColumnSQL(collection, existing.Name, tempCol)); err != nil {
				return fmt.Errorf("renaming column for type change: %w", err)
			}
			newField := &Field{Name: existing.Name, Type: updated.Type, Required: false}
			if _, err := tx.Exec(addColumnSQL(collection, newField)); err != nil {
				return fmt.Errorf("adding column for type change: %w", err)
			}
			updateSQL := fmt.Sprintf("UPDATE %s SET %s = %s",
				quoteIdent(collection), quoteIdent(existing.Name), castExpr(tempCol, existing.Type, updated.Type))
			if _, err := tx.Exec(updateSQL); err != nil {
				return fmt.Errorf("backfilling converted values: %w", err)
			}
			if err := r.dropColumnChecked(ctx, tx, collection, tempCol); err != nil {
				return err
			}
			workingName = existing.Name
		}

		if nameChanged {
			if _, err := tx.Exec(renameColumnSQL(collection, workingName, updated.Name)); err != nil {
				return fmt.Errorf("renaming column: %w", err)
			}
		}

		optsJSON, err := json.Marshal(updated.Options)
		if err != nil {
			return fmt.Errorf("marshaling field options: %w", err)
		}
		_, err = tx.Exec(`
			UPDATE _fields SET name = ?, type = ?, required = ?, options_json = ?
			WHERE collection_name = ? AND name = ?
		`, updated.Name, string(updated.Type), boolToInt(updated.Required), string(optsJSON), collection, oldName)
		if err != nil {
			return fmt.Errorf("updating field metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(col.Fields, oldName)
	updated.Position = existing.Position
	col.Fields[updated.Name] = updated
	for i, n := range col.fieldOrder {
		if n == oldName {
			col.fieldOrder[i] = updated.Name
		}
	}
	r.mu.Unlock()
	r.notify(collection)
	return nil
}

// RemoveField drops the physical column and its metadata. SQLite versions
// older than 3.35.0 lack native DROP COLUMN support; rather than fall back
// to a lossy full-table rebuild, the registry refuses the operation with
// an InternalError naming the required version.
func (r *Registry) RemoveField(ctx context.Context, collection, name string) error {
	col, ok := r.GetCollection(collection)
	if !ok {
		return apierr.NotFound(fmt.Sprintf("collection %q not found", collection))
	}
	if _, exists := col.Fields[name]; !exists {
		return apierr.NotFound(fmt.Sprintf("field %q not found on %q", name, collection))
	}

	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		if err := r.dropColumnChecked(ctx, tx, collection, name); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM _fields WHERE collection_name = ? AND name = ?`, collection, name)
		if err != nil {
			return fmt.Errorf("deleting field metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(col.Fields, name)
	for i, n := range col.fieldOrder {
		if n == name {
			col.fieldOrder = append(col.fieldOrder[:i], col.fieldOrder[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	r.notify(collection)
	return nil
}

func (r *Registry) dropColumnChecked(ctx context.Context, tx *database.Tx, table, column string) error {
	var version string
	if err := tx.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		return fmt.Errorf("checking sqlite version: %w", err)
	}
	if compareVersions(version, minDropColumnVersion) < 0 {
		return apierr.Internal(fmt.Errorf("dropping a column requires sqlite >= %s (found %s)", minDropColumnVersion, version))
	}
	if _, err := tx.Exec(dropColumnSQL(table, column)); err != nil {
		return fmt.Errorf("dropping column: %w", err)
	}
	return nil
}

// DeleteCollection drops the table and its metadata row. Files stored under
// the collection's prefix are not removed: the afterDelete hook chain runs
// only for single-record deletes, not for a collection delete.
func (r *Registry) DeleteCollection(ctx context.Context, name string) error {
	if _, ok := r.GetCollection(name); !ok {
		return apierr.NotFound(fmt.Sprintf("collection %q not found", name))
	}

	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		if _, err := tx.Exec(dropTableSQL(name)); err != nil {
			return fmt.Errorf("dropping table: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM _collections WHERE name = ?`, name); err != nil {
			return fmt.Errorf("deleting collection metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return apierr.Internal(err)
	}

	r.mu.Lock()
	delete(r.collections, name)
	r.mu.Unlock()
	r.notify(name)
	return nil
}

// RenameCollection is refused outright when the subscription checker
// reports any active subscriber referencing the old name: renames must
// never silently re-map a live subscription.
func (r *Registry) RenameCollection(ctx context.Context, oldName, newName string) error {
	col, ok := r.GetCollection(oldName)
	if !ok {
		return apierr.NotFound(fmt.Sprintf("collection %q not found", oldName))
	}
	if !IsValidIdentifier(newName) {
		return apierr.Validation(fmt.Sprintf("invalid collection name %q", newName))
	}
	if _, exists := r.GetCollection(newName); exists {
		return apierr.Conflict(fmt.Sprintf("collection %q already exists", newName))
	}

	r.mu.RLock()
	checker := r.subChecker
	r.mu.RUnlock()
	if checker != nil && checker.HasSubscriptions(oldName) {
		return apierr.Conflict(fmt.Sprintf("cannot rename %q: active realtime subscriptions reference it", oldName))
	}

	err := r.db.Transaction(ctx, func(tx *database.Tx) error {
		if _, err := tx.Exec(renameTableSQL(oldName, newName)); err != nil {
			return fmt.Errorf("renaming table: %w", err)
		}
		if _, err := tx.Exec(`UPDATE _collections SET name = ? WHERE name = ?`, newName, oldName); err != nil {
			return fmt.Errorf("renaming collection metadata: %w", err)
		}
		return nil
	})
	if err != nil {
		return apierr.Internal(err)
	}

	r.mu.Lock()
	delete(r.collections, oldName)
	col.Name = newName
	r.collections[newName] = col
	r.mu.Unlock()
	r.notify(oldName)
	r.notify(newName)
	return nil
}

// UpdateRules overwrites a collection's five rule strings.
func (r *Registry) UpdateRules(ctx context.Context, name string, rules Rules) error {
	col, ok := r.GetCollection(name)
	if !ok {
		return apierr.NotFound(fmt.Sprintf("collection %q not found", name))
	}

	now := database.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE _collections SET list_rule = ?, view_rule = ?, create_rule = ?, update_rule = ?, delete_rule = ?, updated_at = ?
		WHERE name = ?
	`, nullIfEmpty(rules.List), nullIfEmpty(rules.View), nullIfEmpty(rules.Create), nullIfEmpty(rules.Update), nullIfEmpty(rules.Delete), now, name)
	if err != nil {
		return apierr.Internal(fmt.Errorf("updating rules: %w", err))
	}

	r.mu.Lock()
	col.ListRule, col.ViewRule, col.CreateRule, col.UpdateRule, col.DeleteRule = rules.List, rules.View, rules.Create, rules.Update, rules.Delete
	col.UpdatedAt = now
	r.mu.Unlock()
	r.notify(name)
	return nil
}

// Rules is the five rule strings attached to a collection.
type Rules struct {
	List   string
	View   string
	Create string
	Update string
	Delete string
}

func (r *Registry) notify(collection string) {
	r.mu.RLock()
	fn := r.onChange
	r.mu.RUnlock()
	if fn != nil {
		fn(collection)
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asBool(v any) bool {
	switch t := v.(type) {
	case int64:
		return t != 0
	case bool:
		return t
	case string:
		return t == "1" || t == "true"
	default:
		return false
	}
}

func asInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int:
		return t
	default:
		return 0
	}
}
