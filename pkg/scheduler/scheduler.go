// Package scheduler runs recurring background tasks on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Task is one execution of a scheduled job.
type Task func(ctx context.Context) error

// JobOptions configures a cron job.
type JobOptions struct {
	Name string
	Cron string
	// Timeout bounds a single execution. Zero means one hour.
	Timeout time.Duration
	// RunImmediately executes the task once on Start, before the first cron tick.
	RunImmediately bool
}

// Scheduler wraps a gocron scheduler. Jobs never overlap with themselves.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger

	mu      sync.Mutex
	started bool
}

// New builds a scheduler evaluating cron expressions in UTC.
func New(logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s, logger: logger}, nil
}

// AddCron registers a task on a standard five-field cron expression.
func (s *Scheduler) AddCron(opts JobOptions, task Task) error {
	if opts.Name == "" {
		return fmt.Errorf("scheduler job name is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}

	jobOpts := []gocron.JobOption{
		gocron.WithName(opts.Name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if opts.RunImmediately {
		jobOpts = append(jobOpts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(opts.Cron, false),
		gocron.NewTask(func() {
			s.execute(opts, task)
		}),
		jobOpts...,
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", opts.Name, err)
	}
	s.logger.Info("scheduled job registered", zap.String("job", opts.Name), zap.String("cron", opts.Cron))
	return nil
}

// Start begins executing registered jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.scheduler.Start()
	s.started = true
}

// Stop waits for running jobs and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("shutdown scheduler: %w", err)
	}
	s.started = false
	return nil
}

// JobNames lists registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.scheduler.Jobs()
	names := make([]string, 0, len(jobs))
	for _, job := range jobs {
		names = append(names, job.Name())
	}
	return names
}

func (s *Scheduler) execute(opts JobOptions, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", zap.String("job", opts.Name), zap.Any("panic", r))
		}
	}()
	if err := task(ctx); err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", opts.Name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Debug("scheduled job finished", zap.String("job", opts.Name), zap.Duration("duration", time.Since(start)))
}
