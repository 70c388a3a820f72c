package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultFaultCooldown is the pause after an unexpected fault in the loop body.
const DefaultFaultCooldown = 60 * time.Second

// RunObserver is notified after every completed invocation.
type RunObserver interface {
	RunCompleted(ctx context.Context, run *Run) error
}

// RunObserverFunc adapts a function to RunObserver.
type RunObserverFunc func(ctx context.Context, run *Run) error

// RunCompleted implements RunObserver.
func (f RunObserverFunc) RunCompleted(ctx context.Context, run *Run) error {
	return f(ctx, run)
}

var errStopped = errors.New("scheduler stopped")

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithObservers registers observers for completed runs.
func WithObservers(observers ...RunObserver) SchedulerOption {
	return func(s *Scheduler) {
		s.observers = append(s.observers, observers...)
	}
}

// WithIntervalUnit scales RunConfig.IntervalMinutes. Defaults to time.Minute.
func WithIntervalUnit(unit time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.unit = unit
	}
}

// WithFaultCooldown sets the pause applied after a loop fault.
func WithFaultCooldown(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.cooldown = d
	}
}

// WithOutput sets where scheduling notices are printed.
func WithOutput(out io.Writer) SchedulerOption {
	return func(s *Scheduler) {
		s.out = out
	}
}

// WithLocation sets the zone used for cron schedules and notices.
func WithLocation(loc *time.Location) SchedulerOption {
	return func(s *Scheduler) {
		s.location = loc
	}
}

// Scheduler drives an Action either once or repeatedly until its context is cancelled.
// At most one invocation is in flight at any time.
type Scheduler struct {
	action    Action
	logger    *slog.Logger
	out       io.Writer
	observers []RunObserver
	unit      time.Duration
	cooldown  time.Duration
	location  *time.Location

	mu    sync.Mutex
	state ScheduleState
}

// NewScheduler constructs a scheduler around the given action.
func NewScheduler(action Action, logger *slog.Logger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		action:   action,
		logger:   logger,
		out:      os.Stdout,
		unit:     time.Minute,
		cooldown: DefaultFaultCooldown,
		location: time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes cfg until completion (one-shot) or until ctx is cancelled (periodic).
// Cancelling ctx never interrupts an invocation already in flight.
func (s *Scheduler) Run(ctx context.Context, cfg RunConfig) {
	s.mu.Lock()
	s.state = ScheduleState{Mode: cfg.Mode()}
	s.mu.Unlock()
	defer s.finish(ctx)

	if !cfg.Periodic() {
		s.invoke(ctx, cfg, time.Now())
		return
	}

	schedule, err := ScheduleFor(cfg, s.unit)
	if err != nil {
		s.logger.Error("build schedule", "err", err)
		return
	}

	// The first run happens immediately so the operator sees a result without
	// waiting a full interval.
	err = s.protect(func() error {
		s.invoke(ctx, cfg, time.Now())
		return nil
	})

	for {
		if err != nil {
			if errors.Is(err, errStopped) {
				return
			}
			s.logger.Error("scheduling loop fault", "err", err, "cooldown", s.cooldown)
			fmt.Fprintf(s.out, "[ERROR] Error in redemption loop: %v\n", err)
			if !s.sleepUntil(ctx, time.Now().Add(s.cooldown)) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		err = s.protect(func() error {
			return s.cycle(ctx, cfg, schedule)
		})
	}
}

// Snapshot returns a copy of the current schedule state.
func (s *Scheduler) Snapshot() ScheduleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state
	if s.state.LastRunAt != nil {
		t := *s.state.LastRunAt
		snap.LastRunAt = &t
	}
	if s.state.NextRunAt != nil {
		t := *s.state.NextRunAt
		snap.NextRunAt = &t
	}
	return snap
}

// protect converts a panic in the loop body into an error.
func (s *Scheduler) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Debug("recovered panic", "stack", string(debug.Stack()))
			s.mu.Lock()
			s.state.Running = false
			s.mu.Unlock()
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// cycle waits for the next scheduled time and performs one invocation.
func (s *Scheduler) cycle(ctx context.Context, cfg RunConfig, schedule cron.Schedule) error {
	if ctx.Err() != nil {
		return errStopped
	}
	now := time.Now().In(s.location)
	next := schedule.Next(now)
	if next.IsZero() || !next.After(now) {
		return fmt.Errorf("schedule produced no future run after %s", now.Format(time.RFC3339))
	}

	s.mu.Lock()
	s.state.NextRunAt = &next
	s.mu.Unlock()
	s.announce(cfg, next)

	if !s.sleepUntil(ctx, next) {
		return errStopped
	}
	s.invoke(ctx, cfg, next)
	return nil
}

// invoke runs the action once and reports the result to observers.
func (s *Scheduler) invoke(ctx context.Context, cfg RunConfig, scheduledAt time.Time) {
	// In-flight work outlives a stop request; the action bounds itself.
	runCtx := context.WithoutCancel(ctx)

	startedAt := time.Now()
	s.mu.Lock()
	s.state.Running = true
	s.state.LastRunAt = &startedAt
	s.state.NextRunAt = nil
	s.mu.Unlock()

	s.logger.Debug("invoking action", "mode", cfg.Mode(), "check_only", cfg.CheckOnly)
	outcome := s.action.Invoke(runCtx, cfg)
	endedAt := time.Now()

	s.mu.Lock()
	s.state.Running = false
	s.state.Runs++
	s.state.LastStatus = outcome.Status()
	s.mu.Unlock()

	run := &Run{
		ID:          NewID(),
		Mode:        cfg.Mode(),
		CheckOnly:   cfg.CheckOnly,
		Status:      outcome.Status(),
		ScheduledAt: scheduledAt.UTC(),
		StartedAt:   startedAt.UTC(),
		EndedAt:     endedAt.UTC(),
		ExitCode:    outcome.StatusCode,
		Output:      outcome.Output,
		CreatedAt:   endedAt.UTC(),
	}
	if outcome.Succeeded() {
		s.logger.Info("run completed", "run_id", run.ID, "duration", run.Duration())
	} else {
		s.logger.Warn("run failed", "run_id", run.ID, "status", run.Status, "exit_code", run.ExitCode, "duration", run.Duration())
	}

	for _, observer := range s.observers {
		if err := observer.RunCompleted(runCtx, run); err != nil {
			s.logger.Warn("run observer", "run_id", run.ID, "err", err)
		}
	}
}

func (s *Scheduler) announce(cfg RunConfig, next time.Time) {
	if cfg.CronExpr != "" {
		fmt.Fprintf(s.out, "\nNext run scheduled at %s...\n", next.In(s.location).Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Fprintf(s.out, "\nNext run scheduled in %d minute(s)...\n", cfg.IntervalMinutes)
	}
	fmt.Fprintln(s.out, strings.Repeat("-", 55))
	s.logger.Debug("next run scheduled", "next_run_at", next)
}

// sleepUntil blocks until t or until ctx is cancelled. It reports false when
// the caller should stop, including the case where both happen together.
func (s *Scheduler) sleepUntil(ctx context.Context, t time.Time) bool {
	timer := time.NewTimer(time.Until(t))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return ctx.Err() == nil
	}
}

func (s *Scheduler) finish(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.StopRequested = ctx.Err() != nil
	s.state.Running = false
	s.state.NextRunAt = nil
}
