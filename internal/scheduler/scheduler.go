// Package scheduler runs the periodic jobs. Each job gets its own goroutine
// and ticker; runs of the same job never overlap because the goroutine only
// reads the ticker between runs.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns the job goroutines.
type Scheduler struct {
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []Job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{logger: logger.With("component", "scheduler")}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

// Start launches one goroutine per job. The first run happens after the
// job's interval, not immediately; run anything needed at startup before
// calling Start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, job)
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("job failed", "job", job.Name, "err", err)
			continue
		}
		s.logger.Debug("job finished", "job", job.Name, "took", time.Since(start).String())
	}
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}
