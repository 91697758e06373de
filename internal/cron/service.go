package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/metrics"
)

const (
	defaultInterval     = 15 * time.Minute
	defaultCycleTimeout = 10 * time.Minute
)

// ErrUnknownJob is returned by RunJob for names missing from the registry.
var ErrUnknownJob = errors.New("unknown cron job")

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// CycleTimeout bounds a whole cycle so the leader lock is released
	// before another replica could reasonably take over.
	CycleTimeout time.Duration
}

// Service runs the settlement cycle (account sync, payout scheduling, outbox
// retention) on one replica at a time.
type Service struct {
	logg         *logger.Logger
	registry     *Registry
	lock         Lock
	metrics      *metrics.CronJobMetrics
	interval     time.Duration
	cycleTimeout time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	case params.Registry == nil:
		return nil, errors.New("job registry required")
	}
	s := &Service{
		logg:         params.Logger,
		registry:     params.Registry,
		lock:         params.Lock,
		metrics:      params.Metrics,
		interval:     params.Interval,
		cycleTimeout: params.CycleTimeout,
		now:          time.Now,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.cycleTimeout <= 0 {
		s.cycleTimeout = defaultCycleTimeout
	}
	return s, nil
}

// Run executes a cycle immediately and then once per interval until ctx ends.
// Cycle errors are logged; only cancellation stops the loop.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logg.Error(ctx, "settlement cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every registered job under the leader lock. It reports false
// when another replica holds the lock. Job failures do not stop the cycle and
// are joined into the returned error.
func (s *Service) RunOnce(ctx context.Context) (bool, error) {
	release, ok, err := s.lead(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer release()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	started := s.now()
	s.logg.Info(cycleCtx, "settlement cycle starting")
	var errs []error
	for _, job := range s.registry.Jobs() {
		if cycleCtx.Err() != nil {
			s.logg.Warn(s.logg.WithField(cycleCtx, "job", job.Name()), "cycle deadline reached, job not started")
			errs = append(errs, fmt.Errorf("%s: %w", job.Name(), cycleCtx.Err()))
			continue
		}
		if err := s.runJob(cycleCtx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name(), err))
		}
	}
	doneCtx := s.logg.WithFields(cycleCtx, map[string]any{
		"duration_ms": s.now().Sub(started).Milliseconds(),
		"failed_jobs": len(errs),
	})
	s.logg.Info(doneCtx, "settlement cycle complete")
	return true, errors.Join(errs...)
}

// RunJob runs a single named job under the leader lock, for manual reruns.
func (s *Service) RunJob(ctx context.Context, name string) (bool, error) {
	job, found := s.registry.Lookup(name)
	if !found {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	release, ok, err := s.lead(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer release()

	jobCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()
	return true, s.runJob(jobCtx, job)
}

func (s *Service) lead(ctx context.Context) (func(), bool, error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.metrics.IncCycle(metrics.CycleErrored)
		return nil, false, fmt.Errorf("acquire leader lock: %w", err)
	}
	if !locked {
		s.metrics.IncCycle(metrics.CycleSkipped)
		s.logg.Info(ctx, "leader lock held elsewhere, skipping cycle")
		return nil, false, nil
	}
	s.metrics.IncCycle(metrics.CycleRan)
	return func() {
		// ctx may already be canceled on shutdown; release regardless.
		if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "leader lock release failed", err)
		}
	}, true, nil
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	s.logg.Info(jobCtx, "job start")

	started := s.now()
	err := job.Run(jobCtx)
	finished := s.now()
	took := finished.Sub(started)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())

	switch {
	case err == nil:
		s.metrics.ObserveRun(name, metrics.JobResultSucceeded, took, finished)
		s.logg.Info(jobCtx, "job completed")
	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.ObserveRun(name, metrics.JobResultTimedOut, took, finished)
		s.logg.Error(jobCtx, "job exceeded cycle deadline", err)
	default:
		s.metrics.ObserveRun(name, metrics.JobResultFailed, took, finished)
		s.logg.Error(jobCtx, "job failed", err)
	}
	return err
}
