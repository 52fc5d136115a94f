package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirahq/kira/common/retry"
	"github.com/kirahq/kira/common/trace"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/observability"
)

// Message is an in-memory inbound message handed to the inbox pipeline by
// an external adapter.
type Message struct {
	Source     string
	ExternalID string
	Text       string
}

// InboxConfig bounds per-item retries.
type InboxConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
}

// Inbox scans <vault>/inbox for dropped files and routes in-memory messages,
// publishing file.dropped and message.received events. It performs no
// parsing and no domain logic.
type Inbox struct {
	bus           *bus.Bus
	log           *RunLog
	inboxDir      string
	quarantineDir string
	cfg           InboxConfig
}

// NewInbox wires the inbox pipeline. Failed items are moved to
// quarantineDir after retries are exhausted.
func NewInbox(b *bus.Bus, log *RunLog, inboxDir, quarantineDir string, cfg InboxConfig) *Inbox {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	return &Inbox{bus: b, log: log, inboxDir: inboxDir, quarantineDir: quarantineDir, cfg: cfg}
}

// RunScan performs one inbox scan. All events published during the run
// share one trace ID. It returns the completed run record.
func (p *Inbox) RunScan(ctx context.Context) (RunRecord, error) {
	ctx, traceID := trace.EnsureID(ctx, "")
	started := time.Now()
	p.logStart("inbox", traceID)

	rec := RunRecord{Pipeline: "inbox", TraceID: traceID}

	entries, err := os.ReadDir(p.inboxDir)
	if err != nil && !os.IsNotExist(err) {
		return rec, fmt.Errorf("scan inbox: %w", err)
	}

	log := observability.WithTrace(ctx)
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		rec.ItemsScanned++
		path := filepath.Join(p.inboxDir, entry.Name())

		if err := p.dispatchFile(ctx, path, entry.Name()); err != nil {
			rec.ItemsFailed++
			log.Error("inbox: item failed after retries", "file", entry.Name(), "err", err)
			p.quarantine(path, entry.Name())
			continue
		}
		rec.ItemsProcessed++
		// The item's content now lives in an entity; drop the source file.
		if err := os.Remove(path); err != nil {
			log.Warn("inbox: could not remove processed file", "file", entry.Name(), "err", err)
		}
	}

	p.logComplete(&rec, started)
	return rec, nil
}

// RunMessages routes a batch of in-memory messages through the bus under a
// single trace ID.
func (p *Inbox) RunMessages(ctx context.Context, msgs []Message) (RunRecord, error) {
	ctx, traceID := trace.EnsureID(ctx, "")
	started := time.Now()
	p.logStart("inbox", traceID)

	rec := RunRecord{Pipeline: "inbox", TraceID: traceID}
	log := observability.WithTrace(ctx)

	for _, msg := range msgs {
		rec.ItemsScanned++
		payload := bus.Payload{
			"source":      msg.Source,
			"external_id": msg.ExternalID,
			"text":        msg.Text,
			"trace_id":    traceID,
		}
		if err := p.publishWithRetry(ctx, bus.EventMessageReceived, payload); err != nil {
			rec.ItemsFailed++
			log.Error("inbox: message failed after retries", "external_id", msg.ExternalID, "err", err)
			continue
		}
		rec.ItemsProcessed++
	}

	p.logComplete(&rec, started)
	return rec, nil
}

// dispatchFile publishes one dropped file. The payload carries the file
// content: subscribers (plugins in particular) have no filesystem access.
func (p *Inbox) dispatchFile(ctx context.Context, path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read inbox file: %w", err)
	}
	payload := bus.Payload{
		"source":      "file",
		"external_id": name,
		"filename":    name,
		"text":        string(data),
		"trace_id":    trace.FromContext(ctx),
	}
	return p.publishWithRetry(ctx, bus.EventFileDropped, payload)
}

// publishWithRetry re-publishes with exponential backoff while any handler
// keeps failing, up to MaxRetries attempts.
func (p *Inbox) publishWithRetry(ctx context.Context, event string, payload bus.Payload) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts:  p.cfg.MaxRetries,
		InitialDelay: p.cfg.InitialDelay,
	}, func() error {
		if failed := p.bus.Publish(ctx, event, payload); failed > 0 {
			return fmt.Errorf("%d handler(s) failed for %s", failed, event)
		}
		return nil
	})
}

// quarantine moves a failed item out of the inbox so subsequent scans do
// not reprocess it.
func (p *Inbox) quarantine(path, name string) {
	if err := os.MkdirAll(p.quarantineDir, 0o755); err != nil {
		return
	}
	dest := filepath.Join(p.quarantineDir, name)
	_ = os.Rename(path, dest)
}

func (p *Inbox) logStart(pipeline, traceID string) {
	_ = p.log.Append(RunRecord{
		Timestamp: time.Now().UTC(),
		Event:     "pipeline_started",
		Pipeline:  pipeline,
		TraceID:   traceID,
	})
}

func (p *Inbox) logComplete(rec *RunRecord, started time.Time) {
	rec.Timestamp = time.Now().UTC()
	rec.Event = "pipeline_completed"
	rec.ElapsedMS = time.Since(started).Milliseconds()
	_ = p.log.Append(*rec)
}
