package clarify

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirahq/kira/internal/kira/kerrors"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clarifications.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestAddAndPending(t *testing.T) {
	s, _ := newTestStore(t)

	item, err := s.Add("ev_abc", "task", map[string]any{"raw": "???"}, 0.3, []string{"note"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !strings.HasPrefix(item.ClarificationID, "clr_") {
		t.Errorf("id = %q, want clr_ prefix", item.ClarificationID)
	}
	if item.Status != StatusPending {
		t.Errorf("status = %q, want pending", item.Status)
	}

	pending := s.Pending()
	if len(pending) != 1 || pending[0].ClarificationID != item.ClarificationID {
		t.Errorf("Pending = %v", pending)
	}
}

func TestResolveAndReject(t *testing.T) {
	s, _ := newTestStore(t)
	a, _ := s.Add("ev_a", "task", nil, 0.5, nil)
	b, _ := s.Add("ev_b", "note", nil, 0.4, nil)

	if err := s.Resolve(a.ClarificationID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := s.Reject(b.ClarificationID); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	if len(s.Pending()) != 0 {
		t.Errorf("items still pending after resolve/reject")
	}
	all := s.All()
	if all[0].Status != StatusResolved || all[1].Status != StatusRejected {
		t.Errorf("statuses = %s, %s", all[0].Status, all[1].Status)
	}

	// Terminal items cannot transition again.
	err := s.Resolve(a.ClarificationID)
	if kerrors.KindOf(err) != kerrors.KindValidation {
		t.Errorf("double resolve kind = %v, want validation", kerrors.KindOf(err))
	}
}

func TestSetStatusUnknownID(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.Resolve("clr_missing")
	if kerrors.KindOf(err) != kerrors.KindNotFound {
		t.Errorf("unknown id kind = %v, want not_found", kerrors.KindOf(err))
	}
}

func TestPersistsAcrossOpens(t *testing.T) {
	s, path := newTestStore(t)
	a, _ := s.Add("ev_a", "task", map[string]any{"title": "maybe"}, 0.6, nil)
	s.Add("ev_b", "note", nil, 0.2, nil)
	if err := s.Resolve(a.ClarificationID); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	all := reopened.All()
	if len(all) != 2 {
		t.Fatalf("All after reopen = %d items, want 2", len(all))
	}
	if all[0].Status != StatusResolved {
		t.Errorf("resolved status lost across reopen")
	}
	if len(reopened.Pending()) != 1 {
		t.Errorf("pending count after reopen = %d, want 1", len(reopened.Pending()))
	}
}

func TestCreationOrderStable(t *testing.T) {
	s, _ := newTestStore(t)
	for _, ev := range []string{"ev_1", "ev_2", "ev_3"} {
		s.Add(ev, "task", nil, 0.5, nil)
	}
	all := s.All()
	for i, ev := range []string{"ev_1", "ev_2", "ev_3"} {
		if all[i].SourceEventID != ev {
			t.Fatalf("order broken: %v", all)
		}
	}
}
