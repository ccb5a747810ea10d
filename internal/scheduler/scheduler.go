package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Scheduler runs the background job set: indexers, aggregation, cache
// refresh, calibration, publishing, webhook dispatch, retention. Each job
// is single-flight — a tick that arrives while the previous run is still
// going is skipped — and every job gets a startup delay so a cold boot
// does not slam the RPC provider and the store at once.

// Job is one registered periodic task.
type Job struct {
	Name    string
	Period  time.Duration
	Delay   time.Duration // startup delay before the first run
	Run     func(ctx context.Context) error
	Timeout time.Duration // per-run bound; 0 means the period
}

// Scheduler owns the job goroutines and their shutdown.
type Scheduler struct {
	jobs []Job

	mu      sync.Mutex
	running map[string]bool
	wg      sync.WaitGroup
}

func New() *Scheduler {
	return &Scheduler{running: make(map[string]bool)}
}

// Register adds a job before Start.
func (s *Scheduler) Register(j Job) {
	if j.Timeout == 0 {
		j.Timeout = j.Period
	}
	s.jobs = append(s.jobs, j)
}

// Start launches one goroutine per job. The context cancels all loops.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	log.Printf("[Scheduler] %d jobs started", len(s.jobs))
}

// Wait blocks until every loop exits or the drain timeout elapses.
// In-flight runs observe the cancelled context and are expected to stop
// cooperatively; a job still running at the deadline is abandoned.
func (s *Scheduler) Wait(drain time.Duration) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[Scheduler] all jobs drained")
	case <-time.After(drain):
		log.Printf("[Scheduler] drain timeout after %s, abandoning stragglers", drain)
	}
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()

	select {
	case <-time.After(j.Delay):
	case <-ctx.Done():
		return
	}
	s.fire(ctx, j)

	ticker := time.NewTicker(j.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.fire(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

// fire runs one job invocation under its timeout, skipping if the
// previous invocation has not finished.
func (s *Scheduler) fire(ctx context.Context, j Job) {
	s.mu.Lock()
	if s.running[j.Name] {
		s.mu.Unlock()
		log.Printf("[Scheduler] %s still running, skipping tick", j.Name)
		return
	}
	s.running[j.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[j.Name] = false
		s.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()
	if err := j.Run(runCtx); err != nil && ctx.Err() == nil {
		log.Printf("[Scheduler] %s failed: %v", j.Name, err)
	}
}
