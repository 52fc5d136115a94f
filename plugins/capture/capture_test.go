package capture

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/kirahq/kira/pkg/sdk"
)

// fakeBus records subscriptions and publishes without dispatching.
type fakeBus struct {
	handlers  map[string]sdk.Handler
	published []publishedEvent
}

type publishedEvent struct {
	name    string
	payload sdk.Payload
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: map[string]sdk.Handler{}}
}

func (b *fakeBus) Publish(ctx context.Context, name string, payload sdk.Payload) int {
	b.published = append(b.published, publishedEvent{name: name, payload: payload})
	return 0
}

func (b *fakeBus) Subscribe(name string, handler sdk.Handler) int {
	b.handlers[name] = handler
	return len(b.handlers)
}

func (b *fakeBus) Unsubscribe(token int) bool { return false }

// fakeVault records Create calls and mints sequential IDs.
type fakeVault struct {
	created []createdEntity
}

type createdEntity struct {
	entityType string
	data       map[string]any
	content    string
}

func (v *fakeVault) Create(ctx context.Context, entityType string, data map[string]any, content string) (*sdk.Entity, error) {
	v.created = append(v.created, createdEntity{entityType: entityType, data: data, content: content})
	return &sdk.Entity{ID: entityType + "-test", Type: entityType, Metadata: data, Content: content}, nil
}

func (v *fakeVault) Read(ctx context.Context, id string) (*sdk.Entity, error)    { return nil, nil }
func (v *fakeVault) Update(ctx context.Context, id string, patch map[string]any) (*sdk.Entity, error) {
	return nil, nil
}
func (v *fakeVault) Delete(ctx context.Context, id string) error { return nil }
func (v *fakeVault) List(ctx context.Context, entityType string) ([]*sdk.Entity, error) {
	return nil, nil
}

type fakeDedupe struct {
	seen map[string]bool
}

func (d *fakeDedupe) Seen(ctx context.Context, source, externalID string, payload map[string]any) (bool, error) {
	key := source + "/" + externalID
	if d.seen[key] {
		return true, nil
	}
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	d.seen[key] = true
	return false, nil
}

type fakeContext struct {
	bus    *fakeBus
	vault  *fakeVault
	dedupe *fakeDedupe
}

func (c *fakeContext) PluginName() string       { return Name }
func (c *fakeContext) Logger() *slog.Logger     { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
func (c *fakeContext) Bus() sdk.Bus             { return c.bus }
func (c *fakeContext) Scheduler() sdk.Scheduler { return nil }
func (c *fakeContext) KV() sdk.KV               { return nil }
func (c *fakeContext) Secrets() sdk.Secrets     { return nil }
func (c *fakeContext) Vault() sdk.Vault         { return c.vault }
func (c *fakeContext) Dedupe() sdk.Dedupe       { return c.dedupe }

func activateForTest(t *testing.T) (*fakeContext, sdk.Handler) {
	t.Helper()
	fc := &fakeContext{bus: newFakeBus(), vault: &fakeVault{}, dedupe: &fakeDedupe{}}
	res, err := Activate(context.Background(), fc)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if res.Status != "ok" || res.Plugin != Name {
		t.Fatalf("activation result = %+v", res)
	}
	h, ok := fc.bus.handlers["message.received"]
	if !ok {
		t.Fatal("plugin did not subscribe to message.received")
	}
	if _, ok := fc.bus.handlers["file.dropped"]; !ok {
		t.Fatal("plugin did not subscribe to file.dropped")
	}
	return fc, h
}

func TestCaptureMessageBecomesTask(t *testing.T) {
	fc, handle := activateForTest(t)

	err := handle(context.Background(), sdk.Payload{
		"source":      "telegram",
		"external_id": "telegram-12345",
		"text":        "Buy milk",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(fc.vault.created) != 1 {
		t.Fatalf("created %d entities, want 1", len(fc.vault.created))
	}
	got := fc.vault.created[0]
	if got.entityType != "task" {
		t.Errorf("type = %s, want task", got.entityType)
	}
	if got.data["title"] != "Buy milk" {
		t.Errorf("title = %v, want \"Buy milk\"", got.data["title"])
	}
	tags, _ := got.data["tags"].([]any)
	if len(tags) != 1 || tags[0] != "telegram" {
		t.Errorf("tags = %v, want [telegram]", tags)
	}

	// The same external id again creates nothing further.
	if err := handle(context.Background(), sdk.Payload{
		"source":      "telegram",
		"external_id": "telegram-12345",
		"text":        "Buy milk",
	}); err != nil {
		t.Fatalf("second handle: %v", err)
	}
	if len(fc.vault.created) != 1 {
		t.Errorf("duplicate publish created a second entity")
	}
}

func TestCaptureDistinctMessagesKeepTitles(t *testing.T) {
	fc, handle := activateForTest(t)

	msgs := map[string]string{
		"201": "Task A",
		"202": "Task B",
		"203": "Task C",
	}
	for id, text := range msgs {
		if err := handle(context.Background(), sdk.Payload{
			"source":      "telegram",
			"external_id": id,
			"text":        text,
		}); err != nil {
			t.Fatalf("handle %s: %v", id, err)
		}
	}

	if len(fc.vault.created) != 3 {
		t.Fatalf("created %d entities, want 3", len(fc.vault.created))
	}
	titles := map[string]bool{}
	for _, c := range fc.vault.created {
		if c.entityType != "task" {
			t.Errorf("type = %s, want task", c.entityType)
		}
		titles[c.data["title"].(string)] = true
	}
	for _, want := range []string{"Task A", "Task B", "Task C"} {
		if !titles[want] {
			t.Errorf("no task titled %q; got %v", want, titles)
		}
	}
}

func TestCaptureFileBecomesNote(t *testing.T) {
	fc, handle := activateForTest(t)

	err := handle(context.Background(), sdk.Payload{
		"source":      "file",
		"external_id": "scratch.txt",
		"text":        "\n\nan idea worth keeping\nwith some detail",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(fc.vault.created) != 1 {
		t.Fatalf("created %d entities, want 1", len(fc.vault.created))
	}
	got := fc.vault.created[0]
	if got.entityType != "note" {
		t.Errorf("type = %s, want note", got.entityType)
	}
	if got.data["title"] != "an idea worth keeping" {
		t.Errorf("title = %v, want first non-empty line", got.data["title"])
	}
	if got.content != "with some detail" {
		t.Errorf("content = %q", got.content)
	}
}

func TestCaptureEmptyTextEscalates(t *testing.T) {
	fc, handle := activateForTest(t)

	err := handle(context.Background(), sdk.Payload{
		"source":      "email",
		"external_id": "msg-9",
		"text":        "   \n\t\n",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(fc.vault.created) != 0 {
		t.Errorf("entity created from empty payload: %v", fc.vault.created)
	}
	if len(fc.bus.published) != 1 || fc.bus.published[0].name != EventClarificationNeeded {
		t.Fatalf("published = %v, want one clarification event", fc.bus.published)
	}
	src, _ := fc.bus.published[0].payload["source_event"].(map[string]any)
	if src["external_id"] != "msg-9" {
		t.Errorf("clarification payload = %v", fc.bus.published[0].payload)
	}
}

func TestCaptureSkipsDuplicates(t *testing.T) {
	fc, handle := activateForTest(t)

	payload := sdk.Payload{
		"source":      "telegram",
		"external_id": "m1",
		"text":        "water plants",
	}
	for i := 0; i < 3; i++ {
		if err := handle(context.Background(), payload); err != nil {
			t.Fatalf("handle #%d: %v", i+1, err)
		}
	}
	if len(fc.vault.created) != 1 {
		t.Errorf("created %d entities from one message, want 1", len(fc.vault.created))
	}
}

func TestCaptureMultilineMessage(t *testing.T) {
	fc, handle := activateForTest(t)

	err := handle(context.Background(), sdk.Payload{
		"source":      "email",
		"external_id": "msg-1",
		"text":        "Renew the passport\nbring photos and the old one",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(fc.vault.created) != 1 {
		t.Fatalf("created = %v", fc.vault.created)
	}
	got := fc.vault.created[0]
	if got.entityType != "task" || got.data["title"] != "Renew the passport" {
		t.Errorf("got %s %q", got.entityType, got.data["title"])
	}
	if got.content != "bring photos and the old one" {
		t.Errorf("content = %q", got.content)
	}
}
