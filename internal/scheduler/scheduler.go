package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context, at time.Time) error

// Options tune a periodic job.
type Options struct {
	// Name labels log lines and metrics for the job.
	Name     string
	Interval time.Duration
	// AlignToStart aligns ticks to multiples of Interval.
	AlignToStart bool
	// Immediate runs the first tick right after StartupDelay.
	Immediate    bool
	StartupDelay time.Duration
	// OnTick is called after each tick with its duration and result.
	OnTick func(name string, elapsed time.Duration, err error)
}

// Scheduler drives one periodic job.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.Name == "" {
		opts.Name = "job"
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Str("job", opts.Name).Logger(),
	}
}

// Name returns the job name.
func (s *Scheduler) Name() string { return s.opts.Name }

// Run blocks, invoking the tick function at each interval until ctx is cancelled.
// A failing tick is logged and never stops the loop.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if s.opts.Immediate {
		s.execute(ctx, tick, time.Now().UTC())
	}

	next := s.nextTick(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextTick(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		s.execute(ctx, tick, s.bucketStart(next))
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, at time.Time) {
	started := time.Now()
	s.logger.Debug().Time("at", at).Msg("executing tick")

	err := tick(ctx, at)
	if err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Time("at", at).Msg("tick execution failed")
	}
	if s.opts.OnTick != nil {
		s.opts.OnTick(s.opts.Name, time.Since(started), err)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

func (s *Scheduler) bucketStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
