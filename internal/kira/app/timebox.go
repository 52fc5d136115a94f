package app

import (
	"context"
	"strconv"
	"time"

	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/observability"
)

// subscribeTimebox wires the calendar timebox bridge: when a task enters
// "doing" and carries a time_hint (minutes), a timebox is opened right
// away and a one-shot job closes it when the hint elapses. Blocked tasks
// pause their timebox, review marks it.
func (a *App) subscribeTimebox() {
	a.Bus.Subscribe(bus.EnterStateEvent("doing"), func(ctx context.Context, payload bus.Payload) error {
		hint, ok := timeHint(payload)
		if !ok {
			return nil
		}
		entityID, _ := payload["entity_id"].(string)

		a.Bus.Publish(ctx, bus.TimeboxEvent("create"), bus.Payload{
			"entity_id": entityID,
			"minutes":   hint.Minutes(),
			"trace_id":  payload["trace_id"],
		})
		a.Scheduler.Once(hint, func(jobCtx context.Context) {
			if jobCtx.Err() != nil {
				return
			}
			a.Bus.Publish(jobCtx, bus.TimeboxEvent("close"), bus.Payload{
				"entity_id": entityID,
				"trace_id":  payload["trace_id"],
			})
		})
		observability.WithTrace(ctx).Debug("timebox opened",
			"entity_id", entityID, "minutes", hint.Minutes())
		return nil
	})

	a.Bus.Subscribe(bus.EnterStateEvent("blocked"), a.forwardTimebox("pause"))
	a.Bus.Subscribe(bus.EnterStateEvent("review"), a.forwardTimebox("mark_review"))
}

func (a *App) forwardTimebox(action string) bus.Handler {
	return func(ctx context.Context, payload bus.Payload) error {
		a.Bus.Publish(ctx, bus.TimeboxEvent(action), bus.Payload{
			"entity_id": payload["entity_id"],
			"trace_id":  payload["trace_id"],
		})
		return nil
	}
}

// timeHint reads metadata.time_hint as minutes. Both numbers and numeric
// strings are accepted.
func timeHint(payload bus.Payload) (time.Duration, bool) {
	meta, _ := payload["metadata"].(map[string]any)
	if meta == nil {
		return 0, false
	}
	switch v := meta["time_hint"].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Minute)), true
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Minute, true
		}
	case string:
		if n, err := strconv.ParseFloat(v, 64); err == nil && n > 0 {
			return time.Duration(n * float64(time.Minute)), true
		}
	}
	return 0, false
}
