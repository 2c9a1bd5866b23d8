// Package scheduler runs periodic and time-of-day jobs next to the voice
// pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"blueberry-voice/metrics"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type JobID = cron.EntryID

// Job is run either every Every or daily at At ("HH:MM"). Tag groups jobs
// that are cancelled or replaced together.
type Job struct {
	Name  string
	Tag   string
	Every time.Duration
	At    string
	Run   func(ctx context.Context)
}

func (j Job) spec() (string, error) {
	switch {
	case j.Every > 0 && j.At != "":
		return "", errors.New("job sets both every and at")
	case j.Every > 0:
		return "@every " + j.Every.String(), nil
	case j.At != "":
		t, err := time.Parse("15:04", j.At)
		if err != nil {
			return "", fmt.Errorf("invalid time of day %q: %w", j.At, err)
		}
		return fmt.Sprintf("0 %d %d * * *", t.Minute(), t.Hour()), nil
	default:
		return "", errors.New("job needs every or at")
	}
}

type Scheduler struct {
	cron       *cron.Cron
	jobTimeout time.Duration
	logger     zerolog.Logger

	mu   sync.Mutex
	jobs map[JobID]Job
	base context.Context
}

type Config struct {
	// Location for At jobs. Nil means local time.
	Location *time.Location
	// JobTimeout bounds the context of every job run. 0 means one minute.
	JobTimeout time.Duration
	Logger     zerolog.Logger
}

const DefaultJobTimeout = time.Minute

func New(cfg *Config) (*Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	logger := cronLogger{logger: cfg.Logger}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		jobTimeout: timeout,
		logger:     cfg.Logger,
		jobs:       make(map[JobID]Job),
		base:       context.Background(),
	}, nil
}

// Add registers job. A running job is never started again until it returns.
func (s *Scheduler) Add(job Job) (JobID, error) {
	if job.Run == nil {
		return 0, fmt.Errorf("job %q has no run func", job.Name)
	}

	spec, err := job.spec()
	if err != nil {
		return 0, fmt.Errorf("job %q: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, s.wrap(job))
	if err != nil {
		return 0, fmt.Errorf("job %q: %w", job.Name, err)
	}
	s.jobs[id] = job

	s.logger.Debug().Str("job", job.Name).Str("tag", job.Tag).Str("spec", spec).Msg("job added")

	return id, nil
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		s.mu.Lock()
		base := s.base
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(base, s.jobTimeout)
		defer cancel()

		metrics.ScheduledJobs.WithLabelValues(job.Tag).Inc()
		start := time.Now()

		job.Run(ctx)

		s.logger.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job ran")
	}
}

// Cancel removes a job. Its next trigger does not fire.
func (s *Scheduler) Cancel(id JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}

	s.remove(id)
	return true
}

// CancelTag removes every job with tag and returns how many there were.
func (s *Scheduler) CancelTag(tag string) int {
	return s.cancelWhere(func(j Job) bool { return j.Tag == tag })
}

// CancelName removes every job called name.
func (s *Scheduler) CancelName(name string) int {
	return s.cancelWhere(func(j Job) bool { return j.Name == name })
}

func (s *Scheduler) cancelWhere(match func(Job) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, j := range s.jobs {
		if match(j) {
			s.remove(id)
			n++
		}
	}
	return n
}

// remove is called with mu held.
func (s *Scheduler) remove(id JobID) {
	s.cron.Remove(id)

	s.logger.Debug().Str("job", s.jobs[id].Name).Msg("job cancelled")
	delete(s.jobs, id)
}

// Replace cancels the jobs tagged tag and adds jobs under that tag. It is
// how a resynchronized calendar supersedes its earlier alerts.
func (s *Scheduler) Replace(tag string, jobs []Job) error {
	s.CancelTag(tag)

	var errs []error
	for _, j := range jobs {
		j.Tag = tag
		if _, err := s.Add(j); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Jobs returns the registered jobs by id.
func (s *Scheduler) Jobs() map[JobID]Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[JobID]Job, len(s.jobs))
	for id, j := range s.jobs {
		out[id] = j
	}
	return out
}

// Next returns the next activation of a job, zero when unknown.
func (s *Scheduler) Next(id JobID) time.Time {
	return s.cron.Entry(id).Next
}

// Run starts the scheduler and blocks until ctx is done. Jobs get contexts
// derived from ctx. Running jobs are waited for before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.Jobs())).Msg("scheduler started")

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("scheduler stopped")

	return nil
}

type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
