// Package scheduler runs single-shot and periodic jobs on worker
// goroutines.
//
// Periodic jobs skip a tick while the previous tick is still running, so a
// slow handler never overlaps itself. Cancel removes future ticks but does
// not interrupt a running handler; handlers receive a context that is
// cancelled alongside the job and are responsible for checking it.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Job is the function executed by the scheduler. The context is cancelled
// when the job is cancelled or the scheduler stops.
type Job func(ctx context.Context)

type job struct {
	id       string
	cancel   context.CancelFunc
	inFlight bool // guarded by Scheduler.mu; true while a tick runs
}

// Scheduler owns all scheduled jobs. The zero value is not usable; call
// New.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
	stopped bool
}

// New returns a running Scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:    make(map[string]*job),
		baseCtx: ctx,
		stop:    cancel,
	}
}

// Once schedules fn to run a single time after delay and returns the job ID.
func (s *Scheduler) Once(delay time.Duration, fn Job) string {
	j, ctx := s.register()
	if j == nil {
		return ""
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.remove(j.id)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		s.runTick(ctx, j, fn)
	}()
	return j.id
}

// Periodic schedules fn to run every interval until cancelled and returns
// the job ID. Ticks that fire while the previous run is still executing are
// skipped, so execution is serial per job ID.
func (s *Scheduler) Periodic(interval time.Duration, fn Job) string {
	j, ctx := s.register()
	if j == nil {
		return ""
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !s.tryClaim(j) {
					slog.Debug("scheduler: tick skipped, previous run still active", "job_id", j.id)
					continue
				}
				s.runTick(ctx, j, fn)
			}
		}
	}()
	return j.id
}

// Cancel removes the job's future ticks. It reports whether the job existed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	if ok {
		j.cancel()
	}
	return ok
}

// Stop cancels every job and waits for running handlers to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.stop()
	s.wg.Wait()
}

func (s *Scheduler) register() (*job, context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	j := &job{id: uuid.NewString(), cancel: cancel}
	s.jobs[j.id] = j
	return j, ctx
}

func (s *Scheduler) remove(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// tryClaim marks the job in-flight; it fails when a previous tick is still
// running.
func (s *Scheduler) tryClaim(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.inFlight {
		return false
	}
	j.inFlight = true
	return true
}

func (s *Scheduler) runTick(ctx context.Context, j *job, fn Job) {
	defer func() {
		s.mu.Lock()
		j.inFlight = false
		s.mu.Unlock()
		if r := recover(); r != nil {
			slog.Error("scheduler: job panicked", "job_id", j.id, "panic", r)
		}
	}()
	fn(ctx)
}
