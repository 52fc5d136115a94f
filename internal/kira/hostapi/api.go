// Package hostapi is the sole gateway to the vault. Every component —
// pipelines, plugins, agent tools, the CLI — mutates entities through this
// API, which validates input, guards task state transitions, stamps
// timestamps, and publishes domain events with the caller's trace ID.
//
// Writes never partially apply: validation and FSM checks complete before
// any filesystem mutation.
package hostapi

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/common/trace"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/observability"
	"github.com/kirahq/kira/internal/kira/vault"
)

// API mediates all vault access.
type API struct {
	store *vault.Store
	bus   *bus.Bus
	clock clock.Clock
}

// New wires the Host API over the vault store and event bus.
func New(store *vault.Store, b *bus.Bus, ck clock.Clock) *API {
	return &API{store: store, bus: b, clock: ck}
}

// Store exposes the underlying vault store for read-only collaborators
// (doctor, maintenance). Mutations must go through the API.
func (a *API) Store() *vault.Store { return a.store }

// CreateEntity validates data, allocates an ID when absent, stamps
// created_ts = updated_ts = now, writes the entity, and publishes
// <type>.created.
func (a *API) CreateEntity(ctx context.Context, t vault.Type, data map[string]any, content string) (*vault.Entity, error) {
	if !vault.ValidType(t) {
		return nil, kerrors.Validation("unknown entity type %q", t)
	}
	meta := make(map[string]any, len(data))
	for k, v := range data {
		meta[k] = v
	}

	if err := validateRequired(t, meta); err != nil {
		return nil, err
	}
	if t == vault.TypeTask {
		status, _ := meta["status"].(string)
		if status == "" {
			meta["status"] = StateTodo
		} else if !ValidState(status) {
			return nil, kerrors.Validation("unknown task status %q", status)
		}
	}

	id, _ := meta["id"].(string)
	if id == "" {
		title, _ := meta["title"].(string)
		id = vault.NewID(t, a.clock, title, a.store.Exists)
	} else if vault.TypeOfID(id) != t {
		return nil, kerrors.Validation("id %q does not match entity type %q", id, t)
	} else if a.store.Exists(id) {
		return nil, kerrors.Validation("entity %s already exists", id)
	}
	delete(meta, "id")

	if traceID := trace.FromContext(ctx); traceID != "" {
		meta["trace_id"] = traceID
	}

	now := a.clock.Now()
	e := &vault.Entity{
		ID:        id,
		Type:      t,
		Metadata:  meta,
		Content:   content,
		CreatedTS: now,
		UpdatedTS: now,
	}
	if err := a.store.Put(e); err != nil {
		return nil, err
	}

	a.publish(ctx, eventName(t, "created"), e)
	if t == vault.TypeTask {
		a.publish(ctx, bus.EnterStateEvent(e.Status()), e)
	}
	return e, nil
}

// ReadEntity returns the entity or nil (not an error) when the ID is
// unknown.
func (a *API) ReadEntity(ctx context.Context, id string) (*vault.Entity, error) {
	e, err := a.store.Get(id)
	if err != nil {
		if errors.Is(err, vault.ErrEntityNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// UpdateEntity applies a partial metadata patch: deep merge on nested
// objects, replace on arrays, explicit nil deletes the key. Changing id,
// type, or created_ts is forbidden. A status change on a task is validated
// against the FSM before anything touches disk; done_ts is set or cleared
// on transitions into or out of "done".
func (a *API) UpdateEntity(ctx context.Context, id string, patch map[string]any) (*vault.Entity, error) {
	prev, err := a.store.Get(id)
	if err != nil {
		return nil, err
	}

	for _, forbidden := range []string{"id", "type", "created_ts"} {
		if _, ok := patch[forbidden]; ok {
			return nil, kerrors.Validation("patch must not change %s", forbidden)
		}
	}

	e := prev.Clone()
	content, hasContent := patch["content"].(string)
	meta := make(map[string]any, len(patch))
	for k, v := range patch {
		if k == "content" {
			continue
		}
		meta[k] = v
	}
	mergeMetadata(e.Metadata, meta)
	if hasContent {
		e.Content = content
	}

	var enteredState string
	if e.Type == vault.TypeTask {
		oldStatus, newStatus := prev.Status(), e.Status()
		if newStatus != oldStatus {
			if err := CheckTransition(oldStatus, newStatus); err != nil {
				return nil, err
			}
			enteredState = newStatus
			if newStatus == StateDone {
				done := a.clock.Now()
				e.DoneTS = &done
			} else if prev.DoneTS != nil {
				e.DoneTS = nil
			}
		}
	}

	e.UpdatedTS = a.nextUpdateStamp(prev.UpdatedTS)

	if err := a.store.Put(e); err != nil {
		return nil, err
	}

	a.publish(ctx, eventName(e.Type, "updated"), e)
	if enteredState != "" {
		a.publish(ctx, bus.EnterStateEvent(enteredState), e)
	}
	return e, nil
}

// DeleteEntity removes the entity. Deleting an unknown ID is idempotent:
// it publishes nothing and returns nil.
func (a *API) DeleteEntity(ctx context.Context, id string) error {
	e, err := a.store.Get(id)
	if err != nil {
		if errors.Is(err, vault.ErrEntityNotFound) {
			return nil
		}
		return err
	}
	if err := a.store.Delete(id); err != nil {
		if errors.Is(err, vault.ErrEntityNotFound) {
			return nil
		}
		return err
	}
	a.publish(ctx, eventName(e.Type, "deleted"), e)
	return nil
}

// ListEntities enumerates entities of the given type lazily; an empty type
// enumerates everything.
func (a *API) ListEntities(t vault.Type) iter.Seq2[*vault.Entity, error] {
	return a.store.List(t)
}

// nextUpdateStamp returns now, nudged forward when the clock has not
// advanced past the previous write, so updated_ts is strictly increasing
// per ID.
func (a *API) nextUpdateStamp(prev time.Time) time.Time {
	now := a.clock.Now()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

// publish emits an event carrying the full entity and the trace ID.
func (a *API) publish(ctx context.Context, name string, e *vault.Entity) {
	payload := bus.Payload{
		"entity_id": e.ID,
		"type":      string(e.Type),
		"metadata":  e.Clone().Metadata,
		"content":   e.Content,
		"trace_id":  trace.FromContext(ctx),
	}
	if failed := a.bus.Publish(ctx, name, payload); failed > 0 {
		observability.WithTrace(ctx).Warn("hostapi: event handlers failed",
			"event", name, "entity_id", e.ID, "failed", failed)
	}
}

// eventName maps an entity type and verb to the canonical event name:
// tasks get their own namespace, every other type publishes under entity.*.
func eventName(t vault.Type, verb string) string {
	if t == vault.TypeTask {
		return "task." + verb
	}
	return "entity." + verb
}

// validateRequired enforces type-specific required metadata fields.
func validateRequired(t vault.Type, meta map[string]any) error {
	requireString := func(key string) error {
		if s, ok := meta[key].(string); !ok || s == "" {
			return kerrors.Validation("%s entity requires a non-empty %q field", t, key)
		}
		return nil
	}
	switch t {
	case vault.TypeTask, vault.TypeNote, vault.TypeEvent:
		return requireString("title")
	case vault.TypeRollup:
		return requireString("period")
	case vault.TypeInboxItem:
		return requireString("source")
	}
	return nil
}

// mergeMetadata applies patch onto dst in place: nested maps merge deeply,
// arrays and scalars replace, explicit nil deletes the key.
func mergeMetadata(dst map[string]any, patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(dst, k)
			continue
		}
		if pv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeMetadata(dv, pv)
				continue
			}
		}
		dst[k] = v
	}
}
