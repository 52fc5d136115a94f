package trace

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateID()
		if !strings.HasPrefix(id, "t_") {
			t.Fatalf("id = %q, want t_ prefix", id)
		}
		if seen[id] {
			t.Fatalf("duplicate trace id %q", id)
		}
		seen[id] = true
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "t_abc")
	if got := FromContext(ctx); got != "t_abc" {
		t.Errorf("FromContext = %q", got)
	}
	if got := FromContext(context.Background()); got != "" {
		t.Errorf("empty context trace = %q, want \"\"", got)
	}
}

func TestEnsureID(t *testing.T) {
	// An existing ID wins over anything supplied.
	ctx := WithTraceID(context.Background(), "t_existing")
	ctx2, id := EnsureID(ctx, "t_supplied")
	if id != "t_existing" || ctx2 != ctx {
		t.Errorf("EnsureID overrode existing id: %q", id)
	}

	// A supplied ID is adopted when the context has none.
	ctx3, id := EnsureID(context.Background(), "t_supplied")
	if id != "t_supplied" || FromContext(ctx3) != "t_supplied" {
		t.Errorf("supplied id not adopted: %q", id)
	}

	// With neither, a fresh ID is minted and stored.
	ctx4, id := EnsureID(context.Background(), "")
	if id == "" || FromContext(ctx4) != id {
		t.Errorf("generated id not stored: %q", id)
	}
}
