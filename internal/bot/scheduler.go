package bot

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a scheduled unit of work.
type Job interface {
	Run() error
	Name() string
}

// Scheduler runs the bot's periodic jobs. Job errors go through the
// onError callback so fatal classifications can halt the bot instead of
// being swallowed by the cron runner.
type Scheduler struct {
	cron    *cron.Cron
	log     zerolog.Logger
	onError func(job string, err error)
}

// NewScheduler creates a scheduler. onError receives every job failure.
func NewScheduler(log zerolog.Logger, onError func(job string, err error)) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		log:     log.With().Str("component", "scheduler").Logger(),
		onError: onError,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule ("@every 30s",
// "0 */5 * * * *", and so on).
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
			if s.onError != nil {
				s.onError(job.Name(), err)
			}
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("Job completed")
	})
	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run()
}
