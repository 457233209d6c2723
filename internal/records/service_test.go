package records

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/hooks"
	"github.com/bunbase/bunbase/internal/query"
	"github.com/bunbase/bunbase/internal/schema"
)

func testSetup(t *testing.T) (*Service, *schema.Registry, *database.DB) {
	t.Helper()

	tmpDir := t.TempDir()
	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(tmpDir, "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	registry := schema.NewRegistry(db)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("loading registry: %v", err)
	}

	engine := hooks.NewEngine()
	svc := NewService(db, registry, engine)
	return svc, registry, db
}

func mustCreateCollection(t *testing.T, registry *schema.Registry, name string, kind schema.Kind, fields []*schema.Field) *schema.Collection {
	t.Helper()
	col, err := registry.CreateCollection(context.Background(), name, kind, fields)
	if err != nil {
		t.Fatalf("creating collection %s: %v", name, err)
	}
	return col
}

func TestCreateAndGet(t *testing.T) {
	svc, registry, _ := testSetup(t)
	ctx := context.Background()

	mustCreateCollection(t, registry, "posts", schema.KindBase, []*schema.Field{
		{Name: "title", Type: schema.FieldTypeText, Required: true},
		{Name: "views", Type: schema.FieldTypeNumber},
	})

	rec, err := svc.Create(ctx, "posts", map[string]any{"title": "hello", "views": float64(3)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec["title"] != "hello" {
		t.Errorf("expected title=hello, got %v", rec["title"])
	}
	if rec["views"] != float64(3) {
		t.Errorf("expected views=3, got %v", rec["views"])
	}

	id, _ := rec["id"].(string)
	if len(id) != 12 {
		t.Errorf("expected 12-char id, got %q", id)
	}

	fetched, err := svc.Get(ctx, "posts", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched["title"] != "hello" {
		t.Errorf("expected fetched title=hello, got %v", fetched["title"])
	}
}

func TestCreateMissingRequiredField(t *testing.T) {
	svc, registry, _ := testSetup(t)
	ctx := context.Background()

	mustCreateCollection(t, registry, "posts", schema.KindBase, []*schema.Field{
		{Name: "title", Type: schema.FieldTypeText, Required: true},
	})

	_, err := svc.Create(ctx, "posts", map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing required field")
	}
}

func TestUpdatePatchLeavesUntouchedFieldsAlone(t *testing.T) {
	svc, registry, _ := testSetup(t)
	ctx := context.Background()

	mustCreateCollection(t, registry, "posts", schema.KindBase, []*schema.Field{
		{Name: "title", Type: schema.FieldTypeText, Required: true},
		{Name: "views", Type: schema.FieldTypeNumber},
	})

	rec, err := svc.Create(ctx, "posts", map[string]any{"title": "hello", "views": float64(1)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := rec["id"].(string)

	updated, err := svc.Update(ctx, "posts", id, map[string]any{"views": float64(2)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated["title"] != "hello" {
		t.Errorf("expected title unchanged, got %v", updated["title"])
	}
	if updated["views"] != float64(2) {
		t.Errorf("expected views=2, got %v", updated["views"])
	}
}

func TestDeleteRemovesRow(t *testing.T) {
	svc, registry, _ := testSetup(t)
	ctx := context.Background()

	mustCreateCollection(t, registry, "posts", schema.KindBase, []*schema.Field{
		{Name: "title", Type: schema.FieldTypeText, Required: true},
	})

	rec, err := svc.Create(ctx, "posts", map[string]any{"title": "hello"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := rec["id"].(string)

	if err := svc.Delete(ctx, "posts", id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := svc.Get(ctx, "posts", id)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Errorf("expected record to be gone, got %v", got)
	}
}

func TestListPaginationAndFilter(t *testing.T) {
	svc, registry, _ := testSetup(t)
	ctx := context.Background()

	mustCreateCollection(t, registry, "posts", schema.KindBase, []*schema.Field{
		{Name: "title", Type: schema.FieldTypeText, Required: true},
	})

	for _, title := range []string{"a", "b", "c"} {
		if _, err := svc.Create(ctx, "posts", map[string]any{"title": title}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}

	result, err := svc.List(ctx, "posts", query.Options{PerPage: 2, Page: 1}, "", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if result.TotalItems != 3 {
		t.Errorf("expected 3 total items, got %d", result.TotalItems)
	}
	if len(result.Items) != 2 {
		t.Errorf("expected 2 items on page 1, got %d", len(result.Items))
	}

	filtered, err := svc.List(ctx, "posts", query.Options{
		Filter: []query.Condition{{Field: "title", Op: query.OpEq, Value: "b"}},
	}, "", nil)
	if err != nil {
		t.Fatalf("filtered list: %v", err)
	}
	if len(filtered.Items) != 1 || filtered.Items[0]["title"] != "b" {
		t.Errorf("expected single item with title=b, got %+v", filtered.Items)
	}
}

func TestRelationValidationRejectsUnknownTarget(t *testing.T) {
	svc, registry, _ := testSetup(t)
	ctx := context.Background()

	mustCreateCollection(t, registry, "authors", schema.KindBase, nil)
	mustCreateCollection(t, registry, "posts", schema.KindBase, []*schema.Field{
		{Name: "author", Type: schema.FieldTypeRelation, Options: &schema.FieldOptions{Target: "authors"}},
	})

	_, err := svc.Create(ctx, "posts", map[string]any{"author": "does-not-exist"})
	if err == nil {
		t.Fatal("expected error for nonexistent relation target")
	}
}

func TestExpandRelation(t *testing.T) {
	svc, registry, _ := testSetup(t)
	ctx := context.Background()

	mustCreateCollection(t, registry, "authors", schema.KindBase, []*schema.Field{
		{Name: "name", Type: schema.FieldTypeText, Required: true},
	})
	mustCreateCollection(t, registry, "posts", schema.KindBase, []*schema.Field{
		{Name: "author", Type: schema.FieldTypeRelation, Options: &schema.FieldOptions{Target: "authors"}},
	})

	author, err := svc.Create(ctx, "authors", map[string]any{"name": "ada"})
	if err != nil {
		t.Fatalf("create author: %v", err)
	}
	authorID := author["id"].(string)

	if _, err := svc.Create(ctx, "posts", map[string]any{"author": authorID}); err != nil {
		t.Fatalf("create post: %v", err)
	}

	result, err := svc.List(ctx, "posts", query.Options{Expand: []string{"author"}}, "", nil)
	if err != nil {
		t.Fatalf("list with expand: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(result.Items))
	}
	expand, ok := result.Items[0]["expand"].(map[string]any)
	if !ok {
		t.Fatalf("expected expand submap, got %v", result.Items[0]["expand"])
	}
	authorRec, ok := expand["author"].(Record)
	if !ok {
		t.Fatalf("expected expanded author record, got %v", expand["author"])
	}
	if authorRec["name"] != "ada" {
		t.Errorf("expected expanded author name=ada, got %v", authorRec["name"])
	}
}
