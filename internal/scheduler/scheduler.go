// Package scheduler runs periodic maintenance jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// JobFunc is one unit of periodic work.
type JobFunc func(ctx context.Context) error

type job struct {
	name       string
	expression string
	schedule   cron.Schedule
	run        JobFunc
}

// Scheduler runs registered jobs. A job never overlaps with itself: the next
// run is computed after the previous one returns.
type Scheduler struct {
	parser  *CronParser
	jobs    []*job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		parser: NewCronParser(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn to run on the cron expression. Jobs must be added before
// Start.
func (s *Scheduler) Add(name, expression string, fn JobFunc) error {
	schedule, err := s.parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("job %s: scheduler already started", name)
	}

	s.jobs = append(s.jobs, &job{
		name:       name,
		expression: expression,
		schedule:   schedule,
		run:        fn,
	})
	return nil
}

// Start begins background processing. Jobs run once immediately, then on
// their schedules until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	runCtx, cancel := context.WithCancel(s.ctx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(runCtx, j)
	}

	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop cancels all jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Scheduler stopped")
}

// RunAll runs every job once, synchronously, and returns the first error.
func (s *Scheduler) RunAll(ctx context.Context) error {
	s.mu.Lock()
	jobs := append([]*job(nil), s.jobs...)
	s.mu.Unlock()

	var first error
	for _, j := range jobs {
		if err := s.execute(ctx, j); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *Scheduler) loop(ctx context.Context, j *job) {
	defer s.wg.Done()

	_ = s.execute(ctx, j)

	for {
		next := j.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_ = s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) error {
	start := time.Now()
	err := j.run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.Error().
			Err(err).
			Str("job", j.name).
			Str("schedule", j.expression).
			Msg("Scheduled job failed")
		return err
	}

	log.Debug().
		Str("job", j.name).
		Dur("duration", time.Since(start)).
		Msg("Scheduled job finished")
	return nil
}
