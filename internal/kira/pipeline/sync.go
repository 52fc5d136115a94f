package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kirahq/kira/common/retry"
	"github.com/kirahq/kira/common/trace"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/observability"
	"github.com/kirahq/kira/internal/kira/scheduler"
)

// SyncConfig names the sync adapters to tick and how often.
type SyncConfig struct {
	Adapters     []string
	Interval     time.Duration
	MaxRetries   int
	InitialDelay time.Duration
}

// Sync publishes sync.tick events on a schedule, one per configured
// adapter. Adapters subscribe to sync.tick, check the payload's adapter
// name, and do their own remote I/O; the pipeline only drives the cadence.
type Sync struct {
	bus *bus.Bus
	log *RunLog
	cfg SyncConfig
}

// NewSync wires the sync pipeline.
func NewSync(b *bus.Bus, log *RunLog, cfg SyncConfig) *Sync {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	return &Sync{bus: b, log: log, cfg: cfg}
}

// Schedule registers the periodic tick job and returns its ID.
func (p *Sync) Schedule(sched *scheduler.Scheduler) string {
	return sched.Periodic(p.cfg.Interval, func(ctx context.Context) {
		if _, err := p.RunTick(ctx); err != nil {
			observability.WithTrace(ctx).Error("sync: tick run failed", "err", err)
		}
	})
}

// RunTick publishes one sync.tick per adapter under a single trace ID and
// returns the completed run record. A tick whose handlers keep failing is
// retried with backoff and then counted as failed.
func (p *Sync) RunTick(ctx context.Context) (RunRecord, error) {
	ctx, traceID := trace.EnsureID(ctx, "")
	started := time.Now()
	_ = p.log.Append(RunRecord{
		Timestamp: time.Now().UTC(),
		Event:     "pipeline_started",
		Pipeline:  "sync",
		TraceID:   traceID,
	})

	rec := RunRecord{Pipeline: "sync", TraceID: traceID}
	log := observability.WithTrace(ctx)

	for _, adapter := range p.cfg.Adapters {
		rec.ItemsScanned++
		payload := bus.Payload{
			"adapter":  adapter,
			"trace_id": traceID,
		}
		err := retry.Do(ctx, retry.Config{
			MaxAttempts:  p.cfg.MaxRetries,
			InitialDelay: p.cfg.InitialDelay,
		}, func() error {
			if failed := p.bus.Publish(ctx, bus.EventSyncTick, payload); failed > 0 {
				return fmt.Errorf("%d handler(s) failed for adapter %s", failed, adapter)
			}
			return nil
		})
		if err != nil {
			rec.ItemsFailed++
			log.Error("sync: adapter tick failed after retries", "adapter", adapter, "err", err)
			continue
		}
		rec.ItemsProcessed++
	}

	rec.Timestamp = time.Now().UTC()
	rec.Event = "pipeline_completed"
	rec.ElapsedMS = time.Since(started).Milliseconds()
	_ = p.log.Append(rec)
	return rec, nil
}
