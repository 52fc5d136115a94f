// Package bus implements the in-process publish/subscribe fabric.
//
// Dispatch is synchronous on the publishing goroutine: all handlers
// registered at publish time run exactly once, in registration order. A
// failing or panicking handler is logged with the trace ID and does not
// abort the remaining handlers. Handlers that need asynchrony schedule
// their own jobs via the scheduler.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/kirahq/kira/internal/kira/observability"
)

// Payload is the event envelope: a serializable mapping. The bus never
// mutates it; subscribers must treat it as read-only.
type Payload map[string]any

// Handler processes one event. The context carries the publisher's trace ID.
type Handler func(ctx context.Context, payload Payload) error

// Canonical event names. Subscribers match on exact names; wildcards are
// not supported.
const (
	EventMessageReceived = "message.received"
	EventFileDropped     = "file.dropped"
	EventTaskCreated     = "task.created"
	EventTaskUpdated     = "task.updated"
	EventTaskDeleted     = "task.deleted"
	EventEntityCreated   = "entity.created"
	EventEntityUpdated   = "entity.updated"
	EventEntityDeleted   = "entity.deleted"
	EventSyncTick        = "sync.tick"
	EventRollupRequested = "rollup.requested"
	EventRollupCompleted = "rollup.completed"
)

// EnterStateEvent returns the task FSM transition event name for a state,
// e.g. "task.enter_doing".
func EnterStateEvent(state string) string {
	return "task.enter_" + state
}

// TimeboxEvent returns a calendar timebox event name, e.g.
// "calendar.create_timebox". Valid actions: create, close, pause,
// mark_review.
func TimeboxEvent(action string) string {
	return "calendar." + action + "_timebox"
}

type subscription struct {
	token   int
	handler Handler
}

// Bus is the in-process event bus. The zero value is not usable; call New.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]subscription
	nextToken int
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

// Subscribe registers handler for the exact event name and returns a token
// for Unsubscribe. Handlers run in registration order.
func (b *Bus) Subscribe(name string, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextToken++
	token := b.nextToken
	b.subs[name] = append(b.subs[name], subscription{token: token, handler: handler})
	return token
}

// Unsubscribe removes the subscription identified by token. It reports
// whether a subscription was removed.
func (b *Bus) Unsubscribe(token int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, subs := range b.subs {
		for i, s := range subs {
			if s.token == token {
				b.subs[name] = append(subs[:i:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Publish dispatches payload to every handler registered for name at call
// time, in registration order, on the calling goroutine. Handler errors and
// panics are isolated: they are logged with the trace ID and counted, and
// the remaining handlers still run. Publish returns the number of handlers
// that failed.
func (b *Bus) Publish(ctx context.Context, name string, payload Payload) int {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs[name]))
	copy(subs, b.subs[name])
	b.mu.RUnlock()

	log := observability.WithTrace(ctx)

	failed := 0
	for _, s := range subs {
		if err := b.dispatch(ctx, s.handler, payload); err != nil {
			failed++
			log.Error("bus: handler failed", "event", name, "err", err)
		}
	}
	return failed
}

// dispatch runs one handler, converting a panic into an error so a broken
// subscriber cannot take down the publisher.
func (b *Bus) dispatch(ctx context.Context, h Handler, payload Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, payload)
}
