package handlers

import (
	"testing"

	"github.com/bunbase/bunbase/internal/query"
)

func TestParseQueryOptionsDefaults(t *testing.T) {
	opts := parseQueryOptions("")

	if opts.Page != query.DefaultPage {
		t.Errorf("expected default page %d, got %d", query.DefaultPage, opts.Page)
	}
	if opts.PerPage != query.DefaultPerPage {
		t.Errorf("expected default perPage %d, got %d", query.DefaultPerPage, opts.PerPage)
	}
	if len(opts.Filter) != 0 {
		t.Errorf("expected no filters, got %v", opts.Filter)
	}
}

func TestParseQueryOptionsPaging(t *testing.T) {
	opts := parseQueryOptions("page=2&perPage=50")

	if opts.Page != 2 {
		t.Errorf("expected page 2, got %d", opts.Page)
	}
	if opts.PerPage != 50 {
		t.Errorf("expected perPage 50, got %d", opts.PerPage)
	}
}

func TestParseQueryOptionsSort(t *testing.T) {
	opts := parseQueryOptions("sort=-created,name")

	want := []query.SortKey{
		{Field: "created", Dir: query.Desc},
		{Field: "name", Dir: query.Asc},
	}
	if len(opts.Sort) != len(want) {
		t.Fatalf("expected %d sort keys, got %d", len(want), len(opts.Sort))
	}
	for i, k := range want {
		if opts.Sort[i] != k {
			t.Errorf("sort[%d]: expected %+v, got %+v", i, k, opts.Sort[i])
		}
	}
}

func TestParseQueryOptionsExpand(t *testing.T) {
	opts := parseQueryOptions("expand=author,comments.user")

	want := []string{"author", "comments.user"}
	if len(opts.Expand) != len(want) {
		t.Fatalf("expected %d expand entries, got %d", len(want), len(opts.Expand))
	}
	for i, v := range want {
		if opts.Expand[i] != v {
			t.Errorf("expand[%d]: expected %q, got %q", i, v, opts.Expand[i])
		}
	}
}

func TestParseQueryOptionsFilterOperators(t *testing.T) {
	tests := []struct {
		token     string
		wantField string
		wantOp    query.Op
		wantValue string
	}{
		{"status=published", "status", query.OpEq, "published"},
		{"status!=draft", "status", query.OpNe, "draft"},
		{"views>100", "views", query.OpGt, "100"},
		{"views<100", "views", query.OpLt, "100"},
		{"views>=100", "views", query.OpGte, "100"},
		{"views<=100", "views", query.OpLte, "100"},
		{"title~hello", "title", query.OpLike, "hello"},
		{"title!~hello", "title", query.OpNotLike, "hello"},
		{"title~=50%25", "title", query.OpLike, "50%"},
		{"title~=50", "title", query.OpLike, "50"},
		{"title~=off", "title", query.OpLike, "off"},
		{"title!~=hello", "title", query.OpNotLike, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			opts := parseQueryOptions(tt.token)
			if len(opts.Filter) != 1 {
				t.Fatalf("expected 1 filter, got %d", len(opts.Filter))
			}
			got := opts.Filter[0]
			if got.Field != tt.wantField || got.Op != tt.wantOp || got.Value != tt.wantValue {
				t.Errorf("expected {%s %s %s}, got {%s %s %v}", tt.wantField, tt.wantOp, tt.wantValue, got.Field, got.Op, got.Value)
			}
		})
	}
}

func TestParseQueryOptionsURLEscapedValue(t *testing.T) {
	opts := parseQueryOptions("title=hello%20world")

	if len(opts.Filter) != 1 {
		t.Fatalf("expected 1 filter, got %d", len(opts.Filter))
	}
	if opts.Filter[0].Value != "hello world" {
		t.Errorf("expected unescaped value %q, got %v", "hello world", opts.Filter[0].Value)
	}
}

func TestParseQueryOptionsMultipleFilters(t *testing.T) {
	opts := parseQueryOptions("status=published&views>10&page=3")

	if opts.Page != 3 {
		t.Errorf("expected page 3, got %d", opts.Page)
	}
	if len(opts.Filter) != 2 {
		t.Fatalf("expected 2 filters, got %d", len(opts.Filter))
	}
}

func TestParseQueryOptionsSkipsMalformedTokens(t *testing.T) {
	opts := parseQueryOptions("nofieldnovalue&status=ok")

	if len(opts.Filter) != 1 {
		t.Fatalf("expected the malformed token to be skipped, got %d filters", len(opts.Filter))
	}
	if opts.Filter[0].Field != "status" {
		t.Errorf("expected the well-formed filter to survive, got %q", opts.Filter[0].Field)
	}
}

func TestParseSortKeysEmpty(t *testing.T) {
	if keys := parseSortKeys(""); keys != nil {
		t.Errorf("expected nil for empty input, got %v", keys)
	}
}

func TestSplitNonEmptyDropsEmptySegments(t *testing.T) {
	got := splitNonEmpty("a,,b,", ",")
	want := []string{"a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}
