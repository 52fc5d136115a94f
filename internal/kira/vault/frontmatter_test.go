package vault

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func sampleEntity() *Entity {
	created := time.Date(2025, 3, 1, 9, 30, 0, 123456789, time.UTC)
	updated := created.Add(42 * time.Minute)
	done := updated.Add(time.Hour)
	return &Entity{
		ID:   "task-20250301-0930-write-report",
		Type: TypeTask,
		Metadata: map[string]any{
			"title":  "Write report",
			"status": "done",
			"tags":   []any{"work", "q1"},
			"nested": map[string]any{"b": 2, "a": 1},
		},
		Content:   "First line.\n\nSecond paragraph.\n",
		CreatedTS: created,
		UpdatedTS: updated,
		DoneTS:    &done,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := sampleEntity()
	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if got.ID != e.ID || got.Type != e.Type {
		t.Errorf("identity changed: got %s/%s, want %s/%s", got.ID, got.Type, e.ID, e.Type)
	}
	if got.Content != e.Content {
		t.Errorf("content changed: got %q, want %q", got.Content, e.Content)
	}
	if !got.CreatedTS.Equal(e.CreatedTS) || !got.UpdatedTS.Equal(e.UpdatedTS) {
		t.Errorf("timestamps changed: got %v/%v, want %v/%v",
			got.CreatedTS, got.UpdatedTS, e.CreatedTS, e.UpdatedTS)
	}
	if got.DoneTS == nil || !got.DoneTS.Equal(*e.DoneTS) {
		t.Errorf("done_ts changed: got %v, want %v", got.DoneTS, e.DoneTS)
	}
	if title, _ := got.Metadata["title"].(string); title != "Write report" {
		t.Errorf("metadata title = %q", title)
	}
	nested, ok := got.Metadata["nested"].(map[string]any)
	if !ok || nested["a"] != 1 || nested["b"] != 2 {
		t.Errorf("nested metadata = %#v", got.Metadata["nested"])
	}
}

func TestEncodeDeterministic(t *testing.T) {
	// Same metadata inserted in different orders must encode byte-identically.
	a := sampleEntity()
	b := sampleEntity()
	b.Metadata = map[string]any{
		"nested": map[string]any{"a": 1, "b": 2},
		"tags":   []any{"work", "q1"},
		"status": "done",
		"title":  "Write report",
	}

	dataA, err := Encode(a)
	if err != nil {
		t.Fatalf("Encode a: %v", err)
	}
	dataB, err := Encode(b)
	if err != nil {
		t.Fatalf("Encode b: %v", err)
	}
	if !bytes.Equal(dataA, dataB) {
		t.Errorf("encodings differ:\n%s\n----\n%s", dataA, dataB)
	}
}

func TestEncodeSecondRoundTripStable(t *testing.T) {
	e := sampleEntity()
	first, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(first)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	second, err := Encode(decoded)
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("second encode not byte-identical:\n%s\n----\n%s", first, second)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"no front matter", "just text\n"},
		{"no closing sentinel", "---\nid: task-20250301-0930-x\n"},
		{"missing id", "---\ntype: task\ncreated_ts: 2025-03-01T09:30:00Z\nupdated_ts: 2025-03-01T09:30:00Z\n---\nbody"},
		{"unknown type", "---\nid: task-20250301-0930-x\ntype: widget\ncreated_ts: 2025-03-01T09:30:00Z\nupdated_ts: 2025-03-01T09:30:00Z\n---\nbody"},
		{"bad created_ts", "---\nid: task-20250301-0930-x\ntype: task\ncreated_ts: yesterday\nupdated_ts: 2025-03-01T09:30:00Z\n---\nbody"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode([]byte(tc.data)); err == nil {
				t.Errorf("Decode accepted malformed input")
			}
		})
	}
}

func TestDecodePreservesBodySentinels(t *testing.T) {
	e := sampleEntity()
	e.Content = "before\n---\nafter\n"
	data, err := Encode(e)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Content != e.Content {
		t.Errorf("body with sentinel line mangled: got %q", got.Content)
	}
	if !strings.HasPrefix(string(data), "---\n") {
		t.Errorf("encoded form does not start with sentinel")
	}
}
