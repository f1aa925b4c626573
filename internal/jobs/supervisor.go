package jobs

import (
	"context"
	"sync"
	"time"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"
	"collection-viewer/internal/metrics"
	"collection-viewer/internal/models"
)

// Supervisor polls the job queue and runs claimed jobs under a bounded
// worker pool. It is the fallback path: jobs normally arrive through the
// bus consumers, but anything the bus misses (publish failure, consumer
// downtime) is picked up here on the next poll.
type Supervisor struct {
	runner  *Runner
	poll    time.Duration
	errPoll time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup
	jobs    sync.WaitGroup
}

// NewSupervisor sizes the worker pool. A poll interval at or below zero
// falls back to 30 seconds; the post-error cadence is double the normal one.
func NewSupervisor(runner *Runner, workers int, poll time.Duration) *Supervisor {
	if workers < 1 {
		workers = 1
	}
	if poll <= 0 {
		poll = 30 * time.Second
	}
	return &Supervisor{
		runner:  runner,
		poll:    poll,
		errPoll: 2 * poll,
		sem:     make(chan struct{}, workers),
	}
}

// Start launches the poll loop. Cancel ctx to stop polling; Wait blocks
// until the loop and every in-flight job have finished.
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	logging.Info("Job supervisor started (workers=%d, poll=%s)", cap(s.sem), s.poll)
}

// Wait blocks until the supervisor has fully drained.
func (s *Supervisor) Wait() {
	s.wg.Wait()
	s.jobs.Wait()
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		interval := s.poll
		if err := s.pollOnce(ctx); err != nil {
			logging.Error("Job poll failed: %v (next poll in %s)", err, s.errPoll)
			interval = s.errPoll
		}
		select {
		case <-ctx.Done():
			logging.Info("Job supervisor stopping")
			return
		case <-time.After(interval):
		}
	}
}

// pollOnce claims as many pending jobs as there are free workers. An empty
// queue is a normal outcome; anything else is a poll error and slows the
// cadence.
func (s *Supervisor) pollOnce(ctx context.Context) error {
	if n, err := s.runner.queue.CountPending(ctx); err == nil {
		metrics.JobsPending.Set(float64(n))
	}

	for {
		select {
		case s.sem <- struct{}{}:
		default:
			return nil // all workers busy
		}

		job, err := s.runner.queue.ClaimPending(ctx)
		if err != nil {
			<-s.sem
			if errs.IsNotFound(err) {
				return nil
			}
			return err
		}

		s.jobs.Add(1)
		go func(job *models.BackgroundJob) {
			defer s.jobs.Done()
			defer func() { <-s.sem }()
			s.runner.Execute(ctx, job)
		}(job)
	}
}
