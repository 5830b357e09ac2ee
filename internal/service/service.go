package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"validator-watch/internal/scheduler"
	"validator-watch/internal/storage"
)

// ErrLockHeld is returned when another instance owns the advisory lock.
var ErrLockHeld = errors.New("advisory lock held by another instance")

// Job is a periodic unit of work.
type Job struct {
	Name      string
	Interval  time.Duration
	Immediate bool
	Tick      scheduler.TickFunc
}

// Task is a long-running component that returns when ctx ends.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Options tune the service.
type Options struct {
	StartupDelay time.Duration
	// LockKey enables the single-owner guard when non-zero.
	LockKey int64
	OnTick  func(name string, elapsed time.Duration, err error)
}

// Service orchestrates the periodic monitors and the long-running components.
type Service struct {
	opts   Options
	locker storage.AdvisoryLocker
	jobs   []Job
	tasks  []Task
	logger zerolog.Logger
}

// New constructs the monitoring service.
func New(opts Options, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		opts:   opts,
		locker: locker,
		logger: logger.With().Str("component", "service").Logger(),
	}
}

// AddJob registers a periodic job.
func (s *Service) AddJob(job Job) {
	s.jobs = append(s.jobs, job)
}

// AddTask registers a long-running component.
func (s *Service) AddTask(name string, run func(ctx context.Context) error) {
	s.tasks = append(s.tasks, Task{Name: name, Run: run})
}

// Jobs returns the registered job names.
func (s *Service) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.Name
	}
	return names
}

// Run holds the advisory lock for its whole lifetime and runs every task and
// job until ctx is cancelled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if len(s.jobs) == 0 && len(s.tasks) == 0 {
		return fmt.Errorf("no jobs registered")
	}

	unlock, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		g.Go(func() error {
			s.logger.Debug().Str("task", task.Name).Msg("task started")
			if err := task.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", task.Name, err)
			}
			return nil
		})
	}
	for _, job := range s.jobs {
		sched := scheduler.New(scheduler.Options{
			Name:         job.Name,
			Interval:     job.Interval,
			Immediate:    job.Immediate,
			StartupDelay: s.opts.StartupDelay,
			OnTick:       s.opts.OnTick,
		}, s.logger)
		g.Go(func() error {
			if err := sched.Run(gctx, job.Tick); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", job.Name, err)
			}
			return nil
		})
	}

	s.logger.Info().Int("jobs", len(s.jobs)).Int("tasks", len(s.tasks)).Msg("service running")
	return g.Wait()
}

func (s *Service) acquireLock(ctx context.Context) (func(), error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return func() {}, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, ErrLockHeld
	}
	s.logger.Info().Int64("key", s.opts.LockKey).Msg("advisory lock acquired")
	return unlock, nil
}
