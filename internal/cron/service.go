package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/metrics"
)

const defaultTick = time.Minute

var scheduleParser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow,
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
	Tick     time.Duration
	Now      func() time.Time
}

// Service fires registered jobs when their schedules come due. Each job
// carries its own cron expression; the service checks once per tick.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	now      func() time.Time
}

type scheduledJob struct {
	job      Job
	schedule robfig.Schedule
	next     time.Time
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	tick := params.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
		tick:     tick,
		now:      now,
	}, nil
}

// Run starts the scheduling loop until the context is canceled. It fails
// fast when any registered job carries an unparsable schedule.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	jobs, err := s.scheduleJobs()
	if err != nil {
		return err
	}
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.runDue(ctx, jobs, s.now())
		}
	}
}

func (s *Service) scheduleJobs() ([]*scheduledJob, error) {
	registered := s.registry.Jobs()
	jobs := make([]*scheduledJob, 0, len(registered))
	now := s.now()
	for _, job := range registered {
		schedule, err := scheduleParser.Parse(job.Schedule())
		if err != nil {
			return nil, fmt.Errorf("parse schedule for %s: %w", job.Name(), err)
		}
		jobs = append(jobs, &scheduledJob{
			job:      job,
			schedule: schedule,
			next:     schedule.Next(now),
		})
	}
	return jobs, nil
}

func (s *Service) runDue(ctx context.Context, jobs []*scheduledJob, now time.Time) {
	for _, entry := range jobs {
		if now.Before(entry.next) {
			continue
		}
		s.runJob(ctx, entry.job)
		entry.next = entry.schedule.Next(now)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	if lock := s.lockFor(job.Name()); lock != nil {
		acquired, err := lock.Acquire(jobCtx)
		if err != nil {
			s.logg.Error(jobCtx, "job lock acquire failed", err)
			s.recordFailure(job.Name())
			return
		}
		if !acquired {
			s.logg.Info(jobCtx, "job already running elsewhere, skipped")
			return
		}
		defer func() {
			if relErr := lock.Release(jobCtx); relErr != nil {
				s.logg.Error(jobCtx, "failed to release job lock", relErr)
			}
		}()
	}

	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.observeDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.recordFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.recordSuccess(job.Name())
}

func (s *Service) lockFor(job string) Lock {
	if s.locks == nil {
		return nil
	}
	return s.locks(job)
}

func (s *Service) observeDuration(job string, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveDuration(job, duration)
}

func (s *Service) recordSuccess(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncSuccess(job)
}

func (s *Service) recordFailure(job string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncFailure(job)
}
