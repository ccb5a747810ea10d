package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRunsAfterDelayAndRepeats(t *testing.T) {
	s := New()
	var runs atomic.Int32
	s.Register(Job{
		Name:   "counter",
		Period: 25 * time.Millisecond,
		Delay:  5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(120 * time.Millisecond)
	cancel()
	s.Wait(time.Second)

	if n := runs.Load(); n < 3 {
		t.Errorf("expected at least 3 runs (initial + ticks), got %d", n)
	}
}

func TestRegisterDefaultsTimeoutToPeriod(t *testing.T) {
	s := New()
	s.Register(Job{Name: "a", Period: time.Minute, Run: func(ctx context.Context) error { return nil }})
	s.Register(Job{Name: "b", Period: time.Minute, Timeout: time.Second, Run: func(ctx context.Context) error { return nil }})

	if s.jobs[0].Timeout != time.Minute {
		t.Errorf("zero timeout should default to the period, got %s", s.jobs[0].Timeout)
	}
	if s.jobs[1].Timeout != time.Second {
		t.Errorf("explicit timeout must be kept, got %s", s.jobs[1].Timeout)
	}
}

func TestFireSkipsWhileRunning(t *testing.T) {
	s := New()
	release := make(chan struct{})
	var runs atomic.Int32
	j := Job{
		Name:    "slow",
		Period:  time.Minute,
		Timeout: time.Minute,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			<-release
			return nil
		},
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.fire(ctx, j)
	}()

	// Wait for the first invocation to be in flight, then fire again: the
	// overlap must be skipped, not queued.
	for runs.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	s.fire(ctx, j)
	if n := runs.Load(); n != 1 {
		t.Errorf("overlapping fire must skip, got %d runs", n)
	}

	close(release)
	wg.Wait()

	// After the first run finishes the job is eligible again.
	release = make(chan struct{})
	close(release)
	s.fire(ctx, j)
	if n := runs.Load(); n != 2 {
		t.Errorf("expected job to run again after completion, got %d runs", n)
	}
}

func TestRunObservesTimeout(t *testing.T) {
	s := New()
	var sawDeadline atomic.Bool
	j := Job{
		Name:    "bounded",
		Period:  time.Minute,
		Timeout: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			sawDeadline.Store(true)
			return ctx.Err()
		},
	}

	done := make(chan struct{})
	go func() {
		s.fire(context.Background(), j)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not return after its timeout")
	}
	if !sawDeadline.Load() {
		t.Errorf("run context was never cancelled")
	}
}
