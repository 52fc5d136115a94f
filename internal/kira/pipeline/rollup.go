package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kirahq/kira/common/clock"
	"github.com/kirahq/kira/common/trace"
	"github.com/kirahq/kira/internal/kira/bus"
	"github.com/kirahq/kira/internal/kira/hostapi"
	"github.com/kirahq/kira/internal/kira/observability"
	"github.com/kirahq/kira/internal/kira/vault"
)

// Rollup drives periodic summary generation. It creates the rollup entity,
// publishes rollup.requested, and lets subscribed plugins contribute their
// sections by updating the entity through the Host API during dispatch.
// Once dispatch returns it re-reads the entity and publishes
// rollup.completed. The pipeline itself writes no summary content.
type Rollup struct {
	api   *hostapi.API
	bus   *bus.Bus
	log   *RunLog
	clock clock.Clock
}

// NewRollup wires the rollup pipeline.
func NewRollup(api *hostapi.API, b *bus.Bus, log *RunLog, ck clock.Clock) *Rollup {
	return &Rollup{api: api, bus: b, log: log, clock: ck}
}

// DailyPeriod returns the rollup period label for the current local day,
// e.g. "2026-08-24".
func (p *Rollup) DailyPeriod() string {
	return p.clock.Now().Format("2006-01-02")
}

// WeeklyPeriod returns the ISO week label for the current local week, e.g.
// "2026-W34".
func (p *Rollup) WeeklyPeriod() string {
	year, week := p.clock.Now().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// Run generates the rollup for the given period label and returns the
// finished entity. All events published during the run share one trace ID.
func (p *Rollup) Run(ctx context.Context, period string) (*vault.Entity, error) {
	ctx, traceID := trace.EnsureID(ctx, "")
	started := time.Now()
	_ = p.log.Append(RunRecord{
		Timestamp: time.Now().UTC(),
		Event:     "pipeline_started",
		Pipeline:  "rollup",
		TraceID:   traceID,
	})

	rec := RunRecord{Pipeline: "rollup", TraceID: traceID, ItemsScanned: 1}
	defer func() {
		rec.Timestamp = time.Now().UTC()
		rec.Event = "pipeline_completed"
		rec.ElapsedMS = time.Since(started).Milliseconds()
		_ = p.log.Append(rec)
	}()

	e, err := p.api.CreateEntity(ctx, vault.TypeRollup, map[string]any{
		"title":  "Rollup " + period,
		"period": period,
	}, "")
	if err != nil {
		rec.ItemsFailed++
		return nil, fmt.Errorf("create rollup entity: %w", err)
	}

	payload := bus.Payload{
		"entity_id": e.ID,
		"period":    period,
		"trace_id":  traceID,
	}
	if failed := p.bus.Publish(ctx, bus.EventRollupRequested, payload); failed > 0 {
		observability.WithTrace(ctx).Warn("rollup: section contributors failed",
			"entity_id", e.ID, "failed", failed)
	}

	// Contributors updated the entity during dispatch; pick up their work.
	final, err := p.api.ReadEntity(ctx, e.ID)
	if err != nil {
		rec.ItemsFailed++
		return nil, fmt.Errorf("reread rollup entity: %w", err)
	}
	if final == nil {
		rec.ItemsFailed++
		return nil, fmt.Errorf("rollup entity %s disappeared during generation", e.ID)
	}

	p.bus.Publish(ctx, bus.EventRollupCompleted, bus.Payload{
		"entity_id": final.ID,
		"period":    period,
		"trace_id":  traceID,
	})
	rec.ItemsProcessed++
	return final, nil
}
