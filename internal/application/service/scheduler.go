package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Job is one fixed-cadence sweep.
type Job struct {
	Name    string
	Every   time.Duration
	AtStart bool // run once immediately on scheduler start
	Run     func(ctx context.Context) error
}

// TickerFunc supplies the periodic signal; injectable so tests drive jobs
// without wall-clock sleeps. The returned stop func releases the ticker.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func defaultTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Scheduler runs each job on its own cadence until the context is cancelled.
type Scheduler struct {
	jobs   []Job
	ticker TickerFunc
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, ticker: defaultTicker}
}

// WithTicker replaces the ticker source. For tests.
func (s *Scheduler) WithTicker(t TickerFunc) *Scheduler {
	s.ticker = t
	return s
}

// Run blocks until ctx is cancelled. A failing job run is logged and the
// cadence continues; one bad sweep never stops the schedule.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Every <= 0 || job.Run == nil {
			continue
		}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			s.runJob(ctx, j)
		}(job)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	log.Info().Str("job", j.Name).Dur("every", j.Every).Msg("sweep scheduled")

	if j.AtStart {
		s.runOnce(ctx, j)
	}

	ch, stop := s.ticker(j.Every)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j Job) {
	start := time.Now()
	if err := j.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("job", j.Name).Msg("sweep run failed")
		return
	}
	log.Debug().Str("job", j.Name).Dur("took", time.Since(start)).Msg("sweep run done")
}
