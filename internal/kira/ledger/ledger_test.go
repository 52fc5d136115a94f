package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "sync_ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestGetUnknownPairReturnsNil(t *testing.T) {
	l := newTestLedger(t)
	e, err := l.Get(context.Background(), "task-20250301-0930-x", "caldav")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e != nil {
		t.Errorf("Get unknown pair = %#v, want nil", e)
	}
}

func TestRecordAndUpsert(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	if err := l.RecordLocalWrite(ctx, "task-20250301-0930-x", "caldav", "v1", "etag-1", ts); err != nil {
		t.Fatalf("RecordLocalWrite: %v", err)
	}
	e, err := l.Get(ctx, "task-20250301-0930-x", "caldav")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.RemoteVersion != "v1" || e.Origin != OriginLocal || e.RemoteETag != "etag-1" {
		t.Errorf("entry = %#v", e)
	}

	if err := l.RecordRemoteWrite(ctx, "task-20250301-0930-x", "caldav", "v2", "etag-2", ts.Add(time.Minute)); err != nil {
		t.Fatalf("RecordRemoteWrite: %v", err)
	}
	e, err = l.Get(ctx, "task-20250301-0930-x", "caldav")
	if err != nil {
		t.Fatalf("Get after upsert: %v", err)
	}
	if e.RemoteVersion != "v2" || e.Origin != OriginRemote {
		t.Errorf("upsert did not replace: %#v", e)
	}
}

func TestShouldImportRemoteUpdateEchoBreak(t *testing.T) {
	ts := time.Now()

	if !ShouldImportRemoteUpdate(nil, "v1", ts) {
		t.Errorf("first sight of a pair must import")
	}

	localEcho := &Entry{RemoteVersion: "v1", Origin: OriginLocal}
	if ShouldImportRemoteUpdate(localEcho, "v1", ts) {
		t.Errorf("own write echoed back was imported")
	}
	if !ShouldImportRemoteUpdate(localEcho, "v2", ts) {
		t.Errorf("genuinely new remote version was suppressed")
	}

	remoteLast := &Entry{RemoteVersion: "v1", Origin: OriginRemote}
	if !ShouldImportRemoteUpdate(remoteLast, "v1", ts) {
		t.Errorf("remote-origin entry must not suppress redelivery")
	}
}

func TestResolveConflictLastWriteWins(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

	if w := ResolveConflict(base, base.Add(time.Second)); w != WinnerRemote {
		t.Errorf("newer remote lost: %v", w)
	}
	if w := ResolveConflict(base.Add(time.Second), base); w != WinnerLocal {
		t.Errorf("newer local lost: %v", w)
	}
	// Ties break to local.
	if w := ResolveConflict(base, base); w != WinnerLocal {
		t.Errorf("tie did not break to local: %v", w)
	}
}
