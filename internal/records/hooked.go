package records

import (
	"context"
	"fmt"
	"log"

	"github.com/bunbase/bunbase/internal/apierr"
	"github.com/bunbase/bunbase/internal/hooks"
)

// CreateWithHooks brackets Create with the beforeCreate/afterCreate chain.
// beforeCreate may mutate hctx.Data; an error from the chain cancels the
// create. afterCreate runs best-effort: its errors are logged and do not
// affect the response.
func (s *Service) CreateWithHooks(ctx context.Context, collection string, data map[string]any, request any) (Record, error) {
	hctx := &hooks.Context{Collection: collection, Data: data, Request: request}
	if s.hooks != nil {
		if err := s.hooks.Trigger(ctx, hooks.BeforeCreate, hctx); err != nil {
			return nil, err
		}
	}

	rec, err := s.Create(ctx, collection, hctx.Data)
	if err != nil {
		return nil, err
	}

	if s.hooks != nil {
		hctx.Record = rec
		hctx.ID, _ = rec["id"].(string)
		if err := s.hooks.Trigger(ctx, hooks.AfterCreate, hctx); err != nil {
			log.Printf("afterCreate hook for %s/%s: %v", collection, hctx.ID, err)
		}
	}

	return rec, nil
}

// UpdateWithHooks brackets Update with the beforeUpdate/afterUpdate chain.
func (s *Service) UpdateWithHooks(ctx context.Context, collection, id string, patch map[string]any, request any) (Record, error) {
	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apierr.NotFound(fmt.Sprintf("%s/%s not found", collection, id))
	}

	hctx := &hooks.Context{Collection: collection, ID: id, Data: patch, Existing: existing, Request: request}
	if s.hooks != nil {
		if err := s.hooks.Trigger(ctx, hooks.BeforeUpdate, hctx); err != nil {
			return nil, err
		}
	}

	rec, err := s.Update(ctx, collection, id, hctx.Data)
	if err != nil {
		return nil, err
	}

	if s.hooks != nil {
		hctx.Record = rec
		if err := s.hooks.Trigger(ctx, hooks.AfterUpdate, hctx); err != nil {
			log.Printf("afterUpdate hook for %s/%s: %v", collection, id, err)
		}
	}

	return rec, nil
}

// DeleteWithHooks brackets Delete with the beforeDelete/afterDelete chain.
// File cleanup is expected to run from an afterDelete handler registered by
// the storage layer, not from this method directly.
func (s *Service) DeleteWithHooks(ctx context.Context, collection, id string, request any) error {
	existing, err := s.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return apierr.NotFound(fmt.Sprintf("%s/%s not found", collection, id))
	}

	hctx := &hooks.Context{Collection: collection, ID: id, Existing: existing, Request: request}
	if s.hooks != nil {
		if err := s.hooks.Trigger(ctx, hooks.BeforeDelete, hctx); err != nil {
			return err
		}
	}

	if err := s.Delete(ctx, collection, id); err != nil {
		return err
	}

	if s.hooks != nil {
		if err := s.hooks.Trigger(ctx, hooks.AfterDelete, hctx); err != nil {
			log.Printf("afterDelete hook for %s/%s: %v", collection, id, err)
		}
	}

	return nil
}
