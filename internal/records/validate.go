package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/schema"
)

// validateForCreate checks every declared field against data: required
// fields must be present, values are coerced to their storage
// representation, relation targets must exist, and file fields accept a
// filename placeholder (the upload itself is the storage layer's job).
// Returns the column->storage-value map ready for an INSERT.
func (s *Service) validateForCreate(ctx context.Context, col *schema.Collection, data map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(col.Fields))

	if col.Kind == schema.KindAuth {
		email, _ := data["email"].(string)
		if email == "" {
			return nil, apierr.Validation("email is required")
		}
		password, _ := data["password"].(string)
		if password == "" {
			return nil, apierr.Validation("password is required")
		}
		hash, err := s.hashPassword(password)
		if err != nil {
			return nil, apierr.Validation(err.Error())
		}
		values["email"] = email
		values["password_hash"] = hash
		values["verified"] = boolToInt(false)
	}

	for _, f := range col.OrderedFields() {
		raw, present := data[f.Name]
		if !present || raw == nil {
			if f.Required {
				return nil, apierr.Validation(fmt.Sprintf("field %q is required", f.Name))
			}
			continue
		}
		stored, err := s.coerceField(ctx, f, raw)
		if err != nil {
			return nil, err
		}
		values[f.Name] = stored
	}

	return values, nil
}

// validateForUpdate applies patch on top of the decoded existing record:
// keys absent from patch are left untouched, present keys are revalidated.
func (s *Service) validateForUpdate(ctx context.Context, col *schema.Collection, existing Record, patch map[string]any) (map[string]any, error) {
	values := make(map[string]any)

	if col.Kind == schema.KindAuth {
		if password, ok := patch["password"].(string); ok && password != "" {
			hash, err := s.hashPassword(password)
			if err != nil {
				return nil, apierr.Validation(err.Error())
			}
			values["password_hash"] = hash
		}
		if email, ok := patch["email"]; ok {
			s, _ := email.(string)
			if s == "" {
				return nil, apierr.Validation("email cannot be empty")
			}
			values["email"] = s
		}
	}

	for _, f := range col.OrderedFields() {
		raw, present := patch[f.Name]
		if !present {
			continue
		}
		if raw == nil {
			if f.Required {
				return nil, apierr.Validation(fmt.Sprintf("field %q is required", f.Name))
			}
			values[f.Name] = nil
			continue
		}
		stored, err := s.coerceField(ctx, f, raw)
		if err != nil {
			return nil, err
		}
		values[f.Name] = stored
	}

	return values, nil
}

// coerceField converts a decoded JSON value into the representation stored
// in the column, validating it against the field's type and options along
// the way.
func (s *Service) coerceField(ctx context.Context, f *schema.Field, raw any) (any, error) {
	switch f.Type {
	case schema.FieldTypeText:
		text, ok := raw.(string)
		if !ok {
			return nil, apierr.Validation(fmt.Sprintf("field %q must be a string", f.Name))
		}
		if opts := f.Options; opts != nil {
			if opts.MinLength != nil && len(text) < *opts.MinLength {
				return nil, apierr.Validation(fmt.Sprintf("field %q is shorter than %d characters", f.Name, *opts.MinLength))
			}
			if opts.MaxLength != nil && len(text) > *opts.MaxLength {
				return nil, apierr.Validation(fmt.Sprintf("field %q is longer than %d characters", f.Name, *opts.MaxLength))
			}
		}
		if f.IsRichText() {
			text = schema.SanitizeRichText(text)
		}
		return text, nil

	case schema.FieldTypeNumber:
		num, ok := asNumber(raw)
		if !ok {
			return nil, apierr.Validation(fmt.Sprintf("field %q must be a number", f.Name))
		}
		if opts := f.Options; opts != nil {
			if opts.Min != nil && num < *opts.Min {
				return nil, apierr.Validation(fmt.Sprintf("field %q is below the minimum of %v", f.Name, *opts.Min))
			}
			if opts.Max != nil && num > *opts.Max {
				return nil, apierr.Validation(fmt.Sprintf("field %q is above the maximum of %v", f.Name, *opts.Max))
			}
		}
		return num, nil

	case schema.FieldTypeBoolean:
		b, ok := raw.(bool)
		if !ok {
			return nil, apierr.Validation(fmt.Sprintf("field %q must be a boolean", f.Name))
		}
		return boolToInt(b), nil

	case schema.FieldTypeDatetime:
		str, ok := raw.(string)
		if !ok {
			return nil, apierr.Validation(fmt.Sprintf("field %q must be an RFC3339 datetime string", f.Name))
		}
		return str, nil

	case schema.FieldTypeJSON:
		encoded, err := json.Marshal(raw)
		if err != nil {
			return nil, apierr.Validation(fmt.Sprintf("field %q is not valid JSON: %v", f.Name, err))
		}
		return string(encoded), nil

	case schema.FieldTypeRelation:
		id, ok := raw.(string)
		if !ok || id == "" {
			return nil, apierr.Validation(fmt.Sprintf("field %q must be a record id", f.Name))
		}
		target := f.RelationTarget()
		exists, err := s.recordExists(ctx, target, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apierr.Validation(fmt.Sprintf("field %q references a nonexistent %s record %q", f.Name, target, id))
		}
		return id, nil

	case schema.FieldTypeFile:
		return s.coerceFileField(f, raw)

	default:
		return nil, apierr.Validation(fmt.Sprintf("field %q has unknown type %q", f.Name, f.Type))
	}
}

// coerceFileField accepts a filename (single) or filename array (multi),
// per the field's maxFiles option. The storage layer owns the actual
// multipart ingress and deletes are done from the afterDelete hook; this
// only records which filenames belong to the record.
func (s *Service) coerceFileField(f *schema.Field, raw any) (any, error) {
	maxFiles := f.EffectiveMaxFiles()
	if maxFiles <= 1 {
		name, ok := raw.(string)
		if !ok {
			return nil, apierr.Validation(fmt.Sprintf("field %q must be a filename", f.Name))
		}
		return name, nil
	}

	arr, ok := raw.([]any)
	if !ok {
		return nil, apierr.Validation(fmt.Sprintf("field %q must be a filename array", f.Name))
	}
	if len(arr) > maxFiles {
		return nil, apierr.Validation(fmt.Sprintf("field %q accepts at most %d files", f.Name, maxFiles))
	}
	names := make([]string, 0, len(arr))
	for _, v := range arr {
		name, ok := v.(string)
		if !ok {
			return nil, apierr.Validation(fmt.Sprintf("field %q must be an array of filenames", f.Name))
		}
		names = append(names, name)
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	return string(encoded), nil
}

func (s *Service) hashPassword(password string) (string, error) {
	if s.hasher == nil {
		return "", fmt.Errorf("no password hasher configured")
	}
	return s.hasher.Hash(password)
}

func (s *Service) recordExists(ctx context.Context, collection, id string) (bool, error) {
	if _, ok := s.registry.GetCollection(collection); !ok {
		return false, apierr.Validation(fmt.Sprintf("relation target collection %q does not exist", collection))
	}
	var found string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT id FROM %s WHERE id = ?", database.QuoteIdentifier(collection)), id,
	).Scan(&found)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, apierr.Internal(err)
	}
	return true, nil
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
