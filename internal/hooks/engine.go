// Package hooks implements the single process-wide hook engine: an
// ordered chain of handlers per event, run in-process and synchronously
// on the calling goroutine.
package hooks

import (
	"context"
	"sort"
	"sync"

	"github.com/bunbase/bunbase/internal/apierr"
)

type Event string

const (
	BeforeCreate Event = "beforeCreate"
	AfterCreate  Event = "afterCreate"
	BeforeUpdate Event = "beforeUpdate"
	AfterUpdate  Event = "afterUpdate"
	BeforeDelete Event = "beforeDelete"
	AfterDelete  Event = "afterDelete"
)

// Context is the mutable bag of state threaded through a handler chain for
// one event. Request is kept as `any` so this package doesn't need to
// depend on net/http.
type Context struct {
	Collection string
	ID         string
	Data       map[string]any
	Existing   map[string]any
	Record     map[string]any
	Request    any
}

// Next continues the handler chain.
type Next func(ctx context.Context, hctx *Context) error

// Handler is one link in an event's chain: it must call next to continue,
// may return an error to abort the chain (cancelling the operation for
// before* events), and may omit calling next to soft-stop without error.
type Handler func(ctx context.Context, hctx *Context, next Next) error

type registration struct {
	id         uint64
	event      Event
	collection string
	handler    Handler
}

// Engine is the single registry all collections share.
type Engine struct {
	mu   sync.RWMutex
	regs []*registration
	next uint64
}

func NewEngine() *Engine {
	return &Engine{}
}

// On registers handler for event, optionally filtered to one collection
// (empty string matches every collection). Returns an unregister thunk.
func (e *Engine) On(event Event, collection string, handler Handler) func() {
	e.mu.Lock()
	e.next++
	id := e.next
	e.regs = append(e.regs, &registration{id: id, event: event, collection: collection, handler: handler})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, r := range e.regs {
			if r.id == id {
				e.regs = append(e.regs[:i], e.regs[i+1:]...)
				return
			}
		}
	}
}

// Clear removes every registration.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.regs = nil
}

// Trigger runs the chain of handlers registered for event and matching
// hctx.Collection, in FIFO registration order. No built-in re-entrancy
// guard: a handler that triggers the same event it's reacting to will
// loop, and that risk is the caller's to manage.
func (e *Engine) Trigger(ctx context.Context, event Event, hctx *Context) error {
	e.mu.RLock()
	var matched []*registration
	for _, r := range e.regs {
		if r.event != event {
			continue
		}
		if r.collection != "" && r.collection != hctx.Collection {
			continue
		}
		matched = append(matched, r)
	}
	e.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	err := runChain(ctx, hctx, matched)
	if err != nil && isBefore(event) {
		if _, typed := err.(apierr.Typed); !typed {
			err = apierr.Validation(err.Error())
		}
	}
	return err
}

func isBefore(event Event) bool {
	switch event {
	case BeforeCreate, BeforeUpdate, BeforeDelete:
		return true
	default:
		return false
	}
}

func runChain(ctx context.Context, hctx *Context, regs []*registration) error {
	if len(regs) == 0 {
		return nil
	}
	head, rest := regs[0], regs[1:]
	next := func(ctx context.Context, hctx *Context) error {
		return runChain(ctx, hctx, rest)
	}
	return head.handler(ctx, hctx, next)
}
