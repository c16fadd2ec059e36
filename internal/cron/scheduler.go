package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/settlement-backend/pkg/logger"
	"github.com/angelmondragon/settlement-backend/pkg/metrics"
	"github.com/angelmondragon/settlement-backend/pkg/redis"
)

const defaultInterval = 5 * time.Minute

// Job is one unit of periodic work. Name labels metrics and logs, so it must
// be unique within a scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Lock elects the single replica allowed to sweep.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

var _ Lock = (*redis.Lock)(nil)

type SchedulerParams struct {
	Logger   *logger.Logger
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	Jobs     []Job
}

// Scheduler runs its jobs in order every interval while it holds the lock.
type Scheduler struct {
	logg     *logger.Logger
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	jobs     []Job
}

func NewScheduler(params SchedulerParams) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock required")
	}
	seen := make(map[string]bool, len(params.Jobs))
	for i, job := range params.Jobs {
		if job == nil {
			return nil, fmt.Errorf("job %d is nil", i)
		}
		if seen[job.Name()] {
			return nil, fmt.Errorf("job %q registered twice", job.Name())
		}
		seen[job.Name()] = true
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Scheduler{
		logg:     params.Logger,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		jobs:     append([]Job(nil), params.Jobs...),
	}, nil
}

// Run sweeps at once and then on every tick. It returns ctx's error.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "cron.cycle.failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.scheduler.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single locked cycle. A replica that loses the election
// returns nil without running anything. Job failures are combined; one failing
// job does not stop the rest.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	held, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring cron lock: %w", err)
	}
	if !held {
		s.metrics.IncLockSkipped()
		s.logg.Debug(ctx, "cron.cycle.skipped_locked")
		return nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "cron.lock.release_failed", err)
		}
	}()

	// bounded by the interval so the lock cannot lapse mid-cycle
	cycleCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	var errs error
	for _, job := range s.jobs {
		err := cycleCtx.Err()
		if err == nil {
			err = s.runJob(cycleCtx, job)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	return errs
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	ctx = s.logg.WithField(ctx, "job", job.Name())
	started := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(started)
	s.metrics.ObserveRun(job.Name(), err, elapsed, time.Now())

	ctx = s.logg.WithField(ctx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(ctx, "cron.job.failed", err)
		return err
	}
	s.logg.Info(ctx, "cron.job.completed")
	return nil
}
