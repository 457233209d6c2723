package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/bunbase/bunbase/internal/apierr"
)

func TestTriggerRunsMatchingHandlerInOrder(t *testing.T) {
	e := NewEngine()
	var order []int
	e.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		order = append(order, 1)
		return next(ctx, hctx)
	})
	e.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		order = append(order, 2)
		return next(ctx, hctx)
	})

	if err := e.Trigger(context.Background(), BeforeCreate, &Context{Collection: "posts"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected handlers to run in registration order, got %v", order)
	}
}

func TestTriggerFiltersByCollection(t *testing.T) {
	e := NewEngine()
	ran := false
	e.On(BeforeCreate, "comments", func(ctx context.Context, hctx *Context, next Next) error {
		ran = true
		return next(ctx, hctx)
	})

	if err := e.Trigger(context.Background(), BeforeCreate, &Context{Collection: "posts"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("expected handler scoped to another collection not to run")
	}
}

func TestTriggerWrapsUntypedBeforeErrorAsValidation(t *testing.T) {
	e := NewEngine()
	e.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		return errors.New("title is required")
	})

	err := e.Trigger(context.Background(), BeforeCreate, &Context{Collection: "posts"})
	if err == nil {
		t.Fatal("expected an error")
	}

	ve, ok := err.(*apierr.ValidationError)
	if !ok {
		t.Fatalf("expected *apierr.ValidationError, got %T", err)
	}
	if ve.Error() != "title is required" {
		t.Errorf("expected the original message to survive, got %q", ve.Error())
	}
}

func TestTriggerPreservesAlreadyTypedBeforeError(t *testing.T) {
	e := NewEngine()
	e.On(BeforeUpdate, "", func(ctx context.Context, hctx *Context, next Next) error {
		return apierr.Conflict("record is locked")
	})

	err := e.Trigger(context.Background(), BeforeUpdate, &Context{Collection: "posts"})
	if _, ok := err.(*apierr.ConflictError); !ok {
		t.Fatalf("expected the original typed error to pass through unwrapped, got %T", err)
	}
}

func TestTriggerDoesNotWrapAfterEventErrors(t *testing.T) {
	e := NewEngine()
	e.On(AfterDelete, "", func(ctx context.Context, hctx *Context, next Next) error {
		return errors.New("cleanup failed")
	})

	err := e.Trigger(context.Background(), AfterDelete, &Context{Collection: "posts"})
	if _, ok := err.(*apierr.ValidationError); ok {
		t.Error("expected after-event errors to pass through unwrapped")
	}
	if err == nil || err.Error() != "cleanup failed" {
		t.Errorf("expected the raw after-event error to survive, got %v", err)
	}
}

func TestTriggerNoHandlersReturnsNil(t *testing.T) {
	e := NewEngine()
	if err := e.Trigger(context.Background(), BeforeCreate, &Context{Collection: "posts"}); err != nil {
		t.Errorf("expected nil for an event with no registrations, got %v", err)
	}
}

func TestUnregisterRemovesHandler(t *testing.T) {
	e := NewEngine()
	ran := false
	unregister := e.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		ran = true
		return next(ctx, hctx)
	})
	unregister()

	if err := e.Trigger(context.Background(), BeforeCreate, &Context{Collection: "posts"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("expected the unregistered handler not to run")
	}
}

func TestClearRemovesAllRegistrations(t *testing.T) {
	e := NewEngine()
	ran := false
	e.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		ran = true
		return next(ctx, hctx)
	})
	e.Clear()

	if err := e.Trigger(context.Background(), BeforeCreate, &Context{Collection: "posts"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Error("expected no handlers to run after Clear")
	}
}

func TestHandlerCanSoftStopChainWithoutError(t *testing.T) {
	e := NewEngine()
	var ranSecond bool
	e.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		return nil // soft-stop: does not call next
	})
	e.On(BeforeCreate, "", func(ctx context.Context, hctx *Context, next Next) error {
		ranSecond = true
		return next(ctx, hctx)
	})

	if err := e.Trigger(context.Background(), BeforeCreate, &Context{Collection: "posts"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranSecond {
		t.Error("expected the chain to stop when a handler doesn't call next")
	}
}
