package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bunbase/bunbase/internal/database"
)

// minDropColumnVersion is the lowest SQLite release carrying native
// ALTER TABLE... DROP COLUMN support.
const minDropColumnVersion = "3.35.0"

func quoteIdent(name string) string {
	return database.QuoteIdentifier(name)
}

// createTableSQL builds the CREATE TABLE statement for a new collection,
// including the three managed columns and, for kind=auth, the implicit
// email/password_hash/verified columns.
func createTableSQL(col *Collection) string {
	cols := []string{
		quoteIdent("id") + " TEXT PRIMARY KEY",
	}

	if col.Kind == KindAuth {
		cols = append(cols,
			quoteIdent("email")+" TEXT NOT NULL UNIQUE",
			quoteIdent("password_hash")+" TEXT NOT NULL",
			quoteIdent("verified")+" INTEGER NOT NULL DEFAULT 0",
		)
	}

	for _, f := range col.OrderedFields() {
		cols = append(cols, fieldColumnDef(f))
	}

	cols = append(cols,
		quoteIdent("created_at")+" TEXT NOT NULL",
		quoteIdent("updated_at")+" TEXT NOT NULL",
	)

	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdent(col.Name), strings.Join(cols, ",\n\t"))
}

func fieldColumnDef(f *Field) string {
	def := quoteIdent(f.Name) + " " + f.Type.SQLiteType()
	if f.Required {
		def += " NOT NULL"
	}
	if f.Type == FieldTypeRelation {
		if target := f.RelationTarget(); target != "" {
			def += fmt.Sprintf(" REFERENCES %s(%s) ON DELETE SET NULL", quoteIdent(target), quoteIdent("id"))
		}
	}
	return def
}

func dropTableSQL(name string) string {
	return fmt.Sprintf("DROP TABLE %s", quoteIdent(name))
}

// addColumnSQL backfills existing rows with a zero value when the field is
// required, since SQLite refuses a bare NOT NULL ADD COLUMN on a non-empty
// table without a constant default.
func addColumnSQL(table string, f *Field) string {
	def := fieldColumnDef(f)
	if f.Required {
		def += " DEFAULT " + zeroValueSQL(f.Type)
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), def)
}

func renameColumnSQL(table, from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", quoteIdent(table), quoteIdent(from), quoteIdent(to))
}

func dropColumnSQL(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(table), quoteIdent(column))
}

func renameTableSQL(from, to string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(from), quoteIdent(to))
}

func zeroValueSQL(t FieldType) string {
	switch t {
	case FieldTypeNumber:
		return "0"
	case FieldTypeBoolean:
		return "0"
	case FieldTypeJSON:
		return "'{}'"
	case FieldTypeDatetime:
		return "(datetime('now'))"
	default:
		return "''"
	}
}

// castExpr builds a best-effort conversion from one field type's storage
// representation to another's, for the UPDATE step of a type change. It
// relies on SQLite's own CAST semantics rather than manufacturing NULLs:
// unconvertible text becomes 0 for numeric targets, per SQLite's CAST rules.
// This lossy behavior is documented at the registry call site.
func castExpr(col string, from, to FieldType) string {
	if from == to {
		return quoteIdent(col)
	}
	q := quoteIdent(col)
	switch to {
	case FieldTypeNumber:
		return fmt.Sprintf("CAST(%s AS REAL)", q)
	case FieldTypeBoolean:
		return fmt.Sprintf("(CASE WHEN %s IN ('1', 'true', 'TRUE') OR %s = 1 THEN 1 ELSE 0 END)", q, q)
	default:
		return fmt.Sprintf("CAST(%s AS TEXT)", q)
	}
}

// compareVersions returns <0, 0, >0 as a is less than, equal to, or
// greater than b, comparing dot-separated numeric components.
func compareVersions(a, b string) int {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := 0; i < len(pa) || i < len(pb); i++ {
		var na, nb int
		if i < len(pa) {
			na, _ = strconv.Atoi(pa[i])
		}
		if i < len(pb) {
			nb, _ = strconv.Atoi(pb[i])
		}
		if na != nb {
			return na - nb
		}
	}
	return 0
}
