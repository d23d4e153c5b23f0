package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	appLog "calmirror/internal/log"
)

// RunFunc performs one pass.
type RunFunc func(ctx context.Context) error

// Scheduler repeats a pass forever, one at a time. A failed pass is logged
// and the next one waits for the same schedule; there is no backoff.
type Scheduler struct {
	schedule cron.Schedule
	run      RunFunc
	logger   *appLog.Logger
	now      func() time.Time
	passes   int
}

// Every returns a fixed-interval schedule.
func Every(d time.Duration) cron.Schedule {
	return cron.Every(d)
}

// ParseSchedule accepts a standard 5-field cron expression or a descriptor
// such as "@every 15m" or "@hourly".
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("scheduler: empty schedule")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse %q: %w", expr, err)
	}
	return sched, nil
}

// New creates a Scheduler.
func New(schedule cron.Schedule, run RunFunc, logger *appLog.Logger) *Scheduler {
	if logger == nil {
		logger = appLog.Nop()
	}
	return &Scheduler{
		schedule: schedule,
		run:      run,
		logger:   logger,
		now:      time.Now,
	}
}

// Passes returns how many passes have started.
func (s *Scheduler) Passes() int {
	return s.passes
}

// Run executes a pass immediately, then one per schedule tick, until ctx is
// cancelled. Cancellation is only observed between passes: a running pass
// gets a context that is never cancelled and is allowed to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("continuous sync starting")

	for {
		if ctx.Err() != nil {
			s.logger.Info("continuous sync stopped", "passes", s.passes)
			return nil
		}

		s.pass(ctx)

		next := s.schedule.Next(s.now())
		wait := next.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		s.logger.Info("sleeping until next sync", "next", next, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("continuous sync stopped", "passes", s.passes)
			return nil
		case <-timer.C:
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	s.passes++
	n := s.passes
	s.logger.Info("sync pass", "number", n, "at", s.now())

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sync pass panicked", fmt.Errorf("%v", r), "number", n)
		}
	}()

	if err := s.run(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("sync pass failed", err, "number", n)
		return
	}
	s.logger.Info("sync pass completed successfully", "number", n)
}
