package hostapi

import (
	"context"
	"testing"
	"time"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/kerrors"
	"github.com/kirahq/kira/internal/kira/vault"
)

func newTestAPI(t *testing.T) (*API, *bus.Bus) {
	t.Helper()
	store, err := vault.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	b := bus.New()
	ck := clock.Fixed(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))
	return New(store, b, ck), b
}

func recordEvents(b *bus.Bus, names ...string) *[]string {
	var seen []string
	for _, name := range names {
		n := name
		b.Subscribe(n, func(ctx context.Context, p bus.Payload) error {
			seen = append(seen, n)
			return nil
		})
	}
	return &seen
}

func TestCreateEntityDefaultsAndEvents(t *testing.T) {
	api, b := newTestAPI(t)
	seen := recordEvents(b, bus.EventTaskCreated, bus.EnterStateEvent(StateTodo))

	e, err := api.CreateEntity(context.Background(), vault.TypeTask,
		map[string]any{"title": "Write report"}, "body")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	if e.Status() != StateTodo {
		t.Errorf("status = %q, want todo", e.Status())
	}
	if vault.TypeOfID(e.ID) != vault.TypeTask {
		t.Errorf("id = %q, not a task id", e.ID)
	}
	if !e.CreatedTS.Equal(e.UpdatedTS) {
		t.Errorf("created_ts != updated_ts on create")
	}
	if len(*seen) != 2 || (*seen)[0] != bus.EventTaskCreated || (*seen)[1] != "task.enter_todo" {
		t.Errorf("events = %v, want [task.created task.enter_todo]", *seen)
	}
}

func TestCreateEntityValidation(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()

	if _, err := api.CreateEntity(ctx, vault.TypeTask, map[string]any{}, ""); kerrors.KindOf(err) != kerrors.KindValidation {
		t.Errorf("missing title: kind = %v", kerrors.KindOf(err))
	}
	if _, err := api.CreateEntity(ctx, vault.TypeTask, map[string]any{"title": "x", "status": "bogus"}, ""); kerrors.KindOf(err) != kerrors.KindValidation {
		t.Errorf("bad status: kind = %v", kerrors.KindOf(err))
	}
	if _, err := api.CreateEntity(ctx, "widget", map[string]any{"title": "x"}, ""); kerrors.KindOf(err) != kerrors.KindValidation {
		t.Errorf("bad type: kind = %v", kerrors.KindOf(err))
	}
	if _, err := api.CreateEntity(ctx, vault.TypeRollup, map[string]any{"title": "x"}, ""); kerrors.KindOf(err) != kerrors.KindValidation {
		t.Errorf("rollup without period accepted")
	}
}

func TestReadEntityMissingReturnsNil(t *testing.T) {
	api, _ := newTestAPI(t)
	e, err := api.ReadEntity(context.Background(), "task-20250301-0930-missing")
	if err != nil {
		t.Fatalf("ReadEntity: %v", err)
	}
	if e != nil {
		t.Errorf("ReadEntity returned %v for unknown id", e)
	}
}

func TestUpdateEntityMergeSemantics(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	e, err := api.CreateEntity(ctx, vault.TypeNote, map[string]any{
		"title": "Idea",
		"extra": map[string]any{"keep": 1, "drop": 2},
	}, "old body")
	if err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}

	got, err := api.UpdateEntity(ctx, e.ID, map[string]any{
		"title":   "Better idea",
		"extra":   map[string]any{"drop": nil, "add": 3},
		"content": "new body",
	})
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if got.Title() != "Better idea" {
		t.Errorf("title = %q", got.Title())
	}
	if got.Content != "new body" {
		t.Errorf("content = %q", got.Content)
	}
	extra := got.Metadata["extra"].(map[string]any)
	if _, exists := extra["drop"]; exists {
		t.Errorf("nil patch value did not delete key: %#v", extra)
	}
	if extra["keep"] != 1 || extra["add"] != 3 {
		t.Errorf("deep merge broken: %#v", extra)
	}
}

func TestUpdateEntityForbiddenFields(t *testing.T) {
	api, _ := newTestAPI(t)
	ctx := context.Background()
	e, _ := api.CreateEntity(ctx, vault.TypeTask, map[string]any{"title": "x"}, "")

	for _, field := range []string{"id", "type", "created_ts"} {
		_, err := api.UpdateEntity(ctx, e.ID, map[string]any{field: "changed"})
		if kerrors.KindOf(err) != kerrors.KindValidation {
			t.Errorf("patching %s: kind = %v, want validation", field, kerrors.KindOf(err))
		}
	}
}

func TestUpdateEntityStrictlyIncreasingUpdatedTS(t *testing.T) {
	// Fixed clock never advances; the API must still move updated_ts forward.
	api, _ := newTestAPI(t)
	ctx := context.Background()
	e, _ := api.CreateEntity(ctx, vault.TypeTask, map[string]any{"title": "x"}, "")

	prev := e.UpdatedTS
	for i := 0; i < 5; i++ {
		got, err := api.UpdateEntity(ctx, e.ID, map[string]any{"n": i})
		if err != nil {
			t.Fatalf("UpdateEntity %d: %v", i, err)
		}
		if !got.UpdatedTS.After(prev) {
			t.Fatalf("updated_ts not strictly increasing: %v -> %v", prev, got.UpdatedTS)
		}
		prev = got.UpdatedTS
	}
}

func TestDeleteEntityIdempotent(t *testing.T) {
	api, b := newTestAPI(t)
	ctx := context.Background()
	seen := recordEvents(b, bus.EventTaskDeleted)

	e, _ := api.CreateEntity(ctx, vault.TypeTask, map[string]any{"title": "x"}, "")
	if err := api.DeleteEntity(ctx, e.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	if err := api.DeleteEntity(ctx, e.ID); err != nil {
		t.Fatalf("second DeleteEntity: %v", err)
	}
	if len(*seen) != 1 {
		t.Errorf("task.deleted published %d times, want 1", len(*seen))
	}
}
