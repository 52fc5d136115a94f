package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/hostapi"
	"github.com/kirahq/kira/internal/kira/vault"
)

func newRunLog(t *testing.T) (*RunLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.log")
	return NewRunLog(path), path
}

func readRunRecords(t *testing.T, path string) []RunRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read run log: %v", err)
	}
	var recs []RunRecord
	for _, line := range splitNonEmptyLines(data) {
		var r RunRecord
		if err := json.Unmarshal(line, &r); err != nil {
			t.Fatalf("corrupt run log line %q: %v", line, err)
		}
		recs = append(recs, r)
	}
	return recs
}

func splitNonEmptyLines(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				out = append(out, data[start:i])
			}
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}

func fastInboxConfig() InboxConfig {
	return InboxConfig{MaxRetries: 2, InitialDelay: time.Millisecond}
}

func TestInboxScanPublishesAndRemoves(t *testing.T) {
	b := bus.New()
	log, logPath := newRunLog(t)
	inboxDir := t.TempDir()
	quarantineDir := filepath.Join(t.TempDir(), "quarantine")

	var payloads []bus.Payload
	b.Subscribe(bus.EventFileDropped, func(ctx context.Context, p bus.Payload) error {
		payloads = append(payloads, p)
		return nil
	})

	for name, content := range map[string]string{
		"note.txt":  "remember the milk",
		".hidden":   "skipped",
		"other.txt": "second item",
	} {
		if err := os.WriteFile(filepath.Join(inboxDir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	p := NewInbox(b, log, inboxDir, quarantineDir, fastInboxConfig())
	rec, err := p.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}

	if rec.ItemsScanned != 2 || rec.ItemsProcessed != 2 || rec.ItemsFailed != 0 {
		t.Errorf("record = %+v", rec)
	}
	if len(payloads) != 2 {
		t.Fatalf("published %d events, want 2", len(payloads))
	}
	for _, p := range payloads {
		if p["source"] != "file" || p["text"] == "" {
			t.Errorf("payload = %v", p)
		}
		if p["trace_id"] != rec.TraceID {
			t.Errorf("event trace %v does not match run trace %s", p["trace_id"], rec.TraceID)
		}
	}

	// Processed files are removed, the dotfile is untouched.
	entries, _ := os.ReadDir(inboxDir)
	if len(entries) != 1 || entries[0].Name() != ".hidden" {
		t.Errorf("inbox contents after scan: %v", entries)
	}

	recs := readRunRecords(t, logPath)
	if len(recs) != 2 || recs[0].Event != "pipeline_started" || recs[1].Event != "pipeline_completed" {
		t.Errorf("run log = %+v", recs)
	}
}

func TestInboxScanQuarantinesFailedItems(t *testing.T) {
	b := bus.New()
	log, _ := newRunLog(t)
	inboxDir := t.TempDir()
	quarantineDir := filepath.Join(t.TempDir(), "quarantine")

	b.Subscribe(bus.EventFileDropped, func(ctx context.Context, p bus.Payload) error {
		return errors.New("handler always fails")
	})

	if err := os.WriteFile(filepath.Join(inboxDir, "poison.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := NewInbox(b, log, inboxDir, quarantineDir, fastInboxConfig())
	rec, err := p.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if rec.ItemsFailed != 1 || rec.ItemsProcessed != 0 {
		t.Errorf("record = %+v", rec)
	}
	if _, err := os.Stat(filepath.Join(quarantineDir, "poison.txt")); err != nil {
		t.Errorf("failed item not quarantined: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inboxDir, "poison.txt")); !os.IsNotExist(err) {
		t.Errorf("failed item still in the inbox")
	}
}

func TestInboxScanRetriesTransientFailure(t *testing.T) {
	b := bus.New()
	log, _ := newRunLog(t)
	inboxDir := t.TempDir()

	attempts := 0
	b.Subscribe(bus.EventFileDropped, func(ctx context.Context, p bus.Payload) error {
		attempts++
		if attempts == 1 {
			return errors.New("transient")
		}
		return nil
	})

	if err := os.WriteFile(filepath.Join(inboxDir, "item.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p := NewInbox(b, log, inboxDir, filepath.Join(t.TempDir(), "q"), fastInboxConfig())
	rec, err := p.RunScan(context.Background())
	if err != nil {
		t.Fatalf("RunScan: %v", err)
	}
	if rec.ItemsProcessed != 1 || attempts != 2 {
		t.Errorf("record = %+v, attempts = %d", rec, attempts)
	}
}

func TestInboxRunMessages(t *testing.T) {
	b := bus.New()
	log, _ := newRunLog(t)

	var got []bus.Payload
	b.Subscribe(bus.EventMessageReceived, func(ctx context.Context, p bus.Payload) error {
		got = append(got, p)
		return nil
	})

	p := NewInbox(b, log, t.TempDir(), t.TempDir(), fastInboxConfig())
	rec, err := p.RunMessages(context.Background(), []Message{
		{Source: "telegram", ExternalID: "m1", Text: "todo: buy milk"},
		{Source: "email", ExternalID: "m2", Text: "meeting notes"},
	})
	if err != nil {
		t.Fatalf("RunMessages: %v", err)
	}
	if rec.ItemsProcessed != 2 {
		t.Errorf("record = %+v", rec)
	}
	if len(got) != 2 || got[0]["source"] != "telegram" || got[0]["external_id"] != "m1" {
		t.Errorf("payloads = %v", got)
	}
}

func TestSyncRunTick(t *testing.T) {
	b := bus.New()
	log, _ := newRunLog(t)

	var adapters []string
	b.Subscribe(bus.EventSyncTick, func(ctx context.Context, p bus.Payload) error {
		adapters = append(adapters, p["adapter"].(string))
		return nil
	})

	p := NewSync(b, log, SyncConfig{
		Adapters:     []string{"caldav", "imap"},
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
	})
	rec, err := p.RunTick(context.Background())
	if err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if rec.ItemsProcessed != 2 || rec.ItemsFailed != 0 {
		t.Errorf("record = %+v", rec)
	}
	if len(adapters) != 2 || adapters[0] != "caldav" || adapters[1] != "imap" {
		t.Errorf("adapters ticked = %v", adapters)
	}
}

func TestRollupRunContributorsUpdateEntity(t *testing.T) {
	store, err := vault.Open(t.TempDir(), false)
	if err != nil {
		t.Fatalf("vault.Open: %v", err)
	}
	b := bus.New()
	ck := clock.Fixed(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC))
	api := hostapi.New(store, b, ck)
	log, _ := newRunLog(t)

	// A contributor fills in its section during rollup.requested dispatch.
	b.Subscribe(bus.EventRollupRequested, func(ctx context.Context, p bus.Payload) error {
		id := p["entity_id"].(string)
		_, err := api.UpdateEntity(ctx, id, map[string]any{
			"sections": map[string]any{"tasks": "3 done, 1 open"},
		})
		return err
	})
	completed := 0
	b.Subscribe(bus.EventRollupCompleted, func(ctx context.Context, p bus.Payload) error {
		completed++
		return nil
	})

	p := NewRollup(api, b, log, ck)
	if got := p.DailyPeriod(); got != "2025-03-01" {
		t.Errorf("DailyPeriod = %q", got)
	}
	if got := p.WeeklyPeriod(); got != "2025-W09" {
		t.Errorf("WeeklyPeriod = %q", got)
	}

	final, err := p.Run(context.Background(), p.DailyPeriod())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sections, ok := final.Metadata["sections"].(map[string]any)
	if !ok || sections["tasks"] != "3 done, 1 open" {
		t.Errorf("contributor section lost: %#v", final.Metadata)
	}
	if completed != 1 {
		t.Errorf("rollup.completed published %d times, want 1", completed)
	}
	if final.Metadata["period"] != "2025-03-01" {
		t.Errorf("period = %v", final.Metadata["period"])
	}
}
