package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestOnceRuns(t *testing.T) {
	s := New()
	defer s.Stop()

	done := make(chan struct{})
	id := s.Once(10*time.Millisecond, func(ctx context.Context) {
		close(done)
	})
	if id == "" {
		t.Fatalf("Once returned empty job id")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("one-shot job never ran")
	}
}

func TestCancelBeforeFire(t *testing.T) {
	s := New()
	defer s.Stop()

	var ran atomic.Bool
	id := s.Once(100*time.Millisecond, func(ctx context.Context) {
		ran.Store(true)
	})
	if !s.Cancel(id) {
		t.Fatalf("Cancel returned false for live job")
	}
	time.Sleep(200 * time.Millisecond)
	if ran.Load() {
		t.Errorf("cancelled job still ran")
	}
	if s.Cancel(id) {
		t.Errorf("Cancel returned true for removed job")
	}
}

func TestPeriodicSkipsOverlappingTicks(t *testing.T) {
	s := New()
	defer s.Stop()

	var runs atomic.Int32
	block := make(chan struct{})
	s.Periodic(20*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
		<-block
	})

	// Let several ticks fire while the first run is blocked.
	time.Sleep(150 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("overlapping ticks ran %d times, want 1", got)
	}
	close(block)
}

func TestPeriodicRunsRepeatedly(t *testing.T) {
	s := New()
	defer s.Stop()

	var runs atomic.Int32
	s.Periodic(10*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})

	deadline := time.After(2 * time.Second)
	for runs.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("periodic job ran %d times, want at least 3", runs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStopWaitsAndRejectsNewJobs(t *testing.T) {
	s := New()

	started := make(chan struct{})
	var finished atomic.Bool
	s.Once(0, func(ctx context.Context) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	})
	<-started
	s.Stop()
	if !finished.Load() {
		t.Errorf("Stop returned before running handler finished")
	}

	if id := s.Once(time.Millisecond, func(ctx context.Context) {}); id != "" {
		t.Errorf("Once accepted a job after Stop")
	}
	if id := s.Periodic(time.Millisecond, func(ctx context.Context) {}); id != "" {
		t.Errorf("Periodic accepted a job after Stop")
	}
}

func TestJobPanicIsContained(t *testing.T) {
	s := New()
	defer s.Stop()

	done := make(chan struct{})
	s.Once(0, func(ctx context.Context) {
		defer close(done)
		panic("broken job")
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("panicking job never completed")
	}
	// The scheduler must still accept and run jobs.
	ok := make(chan struct{})
	s.Once(0, func(ctx context.Context) { close(ok) })
	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler dead after job panic")
	}
}
