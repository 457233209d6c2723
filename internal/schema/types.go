package schema

import "strings"

// FieldType is one of the seven canonical column kinds a collection field
// can take. Unlike the admin UI's display hints, there is no separate
// richtext or select kind: those are options on text/json fields.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeBoolean  FieldType = "boolean"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeJSON     FieldType = "json"
	FieldTypeRelation FieldType = "relation"
	FieldTypeFile     FieldType = "file"
)

func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeText, FieldTypeNumber, FieldTypeBoolean, FieldTypeDatetime,
		FieldTypeJSON, FieldTypeRelation, FieldTypeFile:
		return true
	}
	return false
}

// SQLiteType returns the physical column affinity used to store this kind.
func (t FieldType) SQLiteType() string {
	switch t {
	case FieldTypeNumber:
		return "REAL"
	case FieldTypeBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// Collection is a cached, in-memory view of one row of _collections plus
// its _fields rows, kept fresh by the Registry.
type Collection struct {
	Name       string
	Kind       Kind
	ListRule   string
	ViewRule   string
	CreateRule string
	UpdateRule string
	DeleteRule string
	CreatedAt  string
	UpdatedAt  string

	Fields     map[string]*Field
	fieldOrder []string
}

type Kind string

const (
	KindBase Kind = "base"
	KindAuth Kind = "auth"
)

func (k Kind) IsValid() bool {
	return k == KindBase || k == KindAuth || k == ""
}

func (c *Collection) FieldOrder() []string { return c.fieldOrder }

func (c *Collection) SetFieldOrder(order []string) { c.fieldOrder = order }

func (c *Collection) OrderedFields() []*Field {
	fields := make([]*Field, 0, len(c.fieldOrder))
	for _, name := range c.fieldOrder {
		if f, ok := c.Fields[name]; ok {
			fields = append(fields, f)
		}
	}
	return fields
}

// ManagedColumns are present on every collection table regardless of its
// field list and may never be redefined by a Field.
var ManagedColumns = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// AuthManagedColumns are additionally present (and implicit) on kind=auth
// collections.
var AuthManagedColumns = map[string]bool{
	"email":         true,
	"password_hash": true,
	"verified":      true,
}

// ValidFieldSet is the set of column names a query against col may
// reference: its managed columns, its auth-managed columns if applicable,
// and its own fields. Shared by the query builder's field whitelist and
// the rule engine's SQL projection path.
func ValidFieldSet(col *Collection) map[string]bool {
	valid := make(map[string]bool, len(ManagedColumns)+len(col.Fields))
	for k := range ManagedColumns {
		valid[k] = true
	}
	if col.Kind == KindAuth {
		for k := range AuthManagedColumns {
			valid[k] = true
		}
	}
	for name := range col.Fields {
		valid[name] = true
	}
	return valid
}

// IsValidIdentifier matches "[a-zA-Z][a-zA-Z0-9_]*", not starting with "_".
func IsValidIdentifier(name string) bool {
	if name == "" || strings.HasPrefix(name, "_") {
		return false
	}
	first := name[0]
	if !((first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z')) {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
		if !ok {
			return false
		}
	}
	return true
}

// Field is metadata for one user-defined column.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Position int
	Options  *FieldOptions
}

// FieldOptions is the options bag keyed by type, persisted as a single
// JSON document in _fields.options_json.
type FieldOptions struct {
	// relation
	Target string `json:"target,omitempty"`

	// file
	MaxFiles     int      `json:"maxFiles,omitempty"`
	MaxSize      int64    `json:"maxSize,omitempty"`
	AllowedTypes []string `json:"allowedTypes,omitempty"`

	// text
	RichText  bool   `json:"richtext,omitempty"`
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`

	// number
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

const (
	defaultMaxFiles = 1
	defaultMaxSize  = 10 << 20 // 10 MiB
)

func (f *Field) EffectiveMaxFiles() int {
	if f.Options == nil || f.Options.MaxFiles <= 0 {
		return defaultMaxFiles
	}
	return f.Options.MaxFiles
}

func (f *Field) EffectiveMaxSize() int64 {
	if f.Options == nil || f.Options.MaxSize <= 0 {
		return defaultMaxSize
	}
	return f.Options.MaxSize
}

func (f *Field) AllowedTypes() []string {
	if f.Options == nil || len(f.Options.AllowedTypes) == 0 {
		return []string{"*/*"}
	}
	return f.Options.AllowedTypes
}

func (f *Field) RelationTarget() string {
	if f.Options == nil {
		return ""
	}
	return f.Options.Target
}

func (f *Field) IsRichText() bool {
	return f.Options != nil && f.Options.RichText
}
