// Package scheduler runs the recurring background jobs: backend health
// polling, nightly backups and mirror cleanup.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler wraps a cron runner with logged, panic-safe job execution.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// AddJob registers a job under a cron spec ("@every 30s", "0 4 * * *", ...).
// Each run gets its own context and panics are contained to the run.
func (s *Scheduler) AddJob(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Str("job", name).Interface("panic", r).Msg("Job panicked")
			}
		}()

		start := time.Now()
		if err := fn(context.Background()); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("Job failed")
			return
		}
		s.log.Debug().Str("job", name).Dur("duration_ms", time.Since(start)).Msg("Job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().Str("job", name).Str("spec", spec).Msg("Job scheduled")
	return nil
}

// Start begins running scheduled jobs in their own goroutines.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}
