package records

import (
	"context"
	"fmt"

	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/schema"
)

// expand looks up, for each relation field named in fields, the referenced
// record and attaches it under an "expand" submap on the owning record.
// Only one level deep (non-goal on transitive expansion).
// Missing referents are silently omitted.
func (s *Service) expand(ctx context.Context, col *schema.Collection, items []Record, fields []string) error {
	wanted := make(map[string]*schema.Field, len(fields))
	for _, name := range fields {
		f, ok := col.Fields[name]
		if !ok || f.Type != schema.FieldTypeRelation {
			continue
		}
		wanted[name] = f
	}
	if len(wanted) == 0 {
		return nil
	}

	// Batch lookups per target collection to avoid one query per row.
	idsByTarget := make(map[string]map[string]bool)
	for _, f := range wanted {
		target := f.RelationTarget()
		if _, ok := idsByTarget[target]; !ok {
			idsByTarget[target] = make(map[string]bool)
		}
	}
	for _, item := range items {
		for name, f := range wanted {
			id, _ := item[name].(string)
			if id == "" {
				continue
			}
			idsByTarget[f.RelationTarget()][id] = true
		}
	}

	fetched := make(map[string]map[string]Record)
	for target, ids := range idsByTarget {
		targetCol, ok := s.registry.GetCollection(target)
		if !ok || len(ids) == 0 {
			continue
		}
		recs, err := s.fetchByIDs(ctx, targetCol, ids)
		if err != nil {
			return err
		}
		fetched[target] = recs
	}

	for _, item := range items {
		sub := make(map[string]any)
		for name, f := range wanted {
			id, _ := item[name].(string)
			if id == "" {
				continue
			}
			if rec, ok := fetched[f.RelationTarget()][id]; ok {
				sub[name] = rec
			}
		}
		if len(sub) > 0 {
			item["expand"] = sub
		}
	}

	return nil
}

func (s *Service) fetchByIDs(ctx context.Context, col *schema.Collection, ids map[string]bool) (map[string]Record, error) {
	idList := make([]any, 0, len(ids))
	placeholders := ""
	for id := range ids {
		if placeholders != "" {
			placeholders += ", "
		}
		placeholders += "?"
		idList = append(idList, id)
	}

	q := fmt.Sprintf("SELECT * FROM %s WHERE id IN (%s)", database.QuoteIdentifier(col.Name), placeholders)
	rows, err := s.db.QueryContext(ctx, q, idList...)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", col.Name, err)
	}
	defer rows.Close()

	raw, err := database.ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning expansion of %s: %w", col.Name, err)
	}

	out := make(map[string]Record, len(raw))
	for _, r := range raw {
		rec := decodeRow(col, database.Row(r))
		if id, ok := rec["id"].(string); ok {
			out[id] = rec
		}
	}
	return out, nil
}
