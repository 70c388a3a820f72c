package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// StopNotice is printed once a running loop has been stopped.
const StopNotice = "Redemption CLI stopped."

// ErrAlreadyRunning is returned by Start when a run is already active.
var ErrAlreadyRunning = errors.New("runner is already running")

// Runner executes a RunConfig until it completes or ctx is cancelled.
type Runner interface {
	Run(ctx context.Context, cfg RunConfig)
}

// Controller exposes start/stop semantics around a Runner.
type Controller struct {
	runner Runner
	cfg    RunConfig
	out    io.Writer
	logger *slog.Logger

	mu     sync.Mutex
	active *activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewController creates a controller for cfg.
func NewController(runner Runner, cfg RunConfig, out io.Writer, logger *slog.Logger) *Controller {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		runner: runner,
		cfg:    cfg,
		out:    out,
		logger: logger,
	}
}

// Start runs the configured schedule and blocks until it finishes: after one
// invocation in one-shot mode, or after Stop (or ctx cancellation) in periodic mode.
func (c *Controller) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	run := &activeRun{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		cancel()
		return ErrAlreadyRunning
	}
	c.active = run
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.active == run {
			c.active = nil
		}
		c.mu.Unlock()
		close(run.done)
	}()

	c.logger.Info("runner started", "mode", c.cfg.Mode(), "interval_minutes", c.cfg.IntervalMinutes, "cron", c.cfg.CronExpr, "check_only", c.cfg.CheckOnly)
	c.runner.Run(runCtx, c.cfg)
	return nil
}

// Stop signals the active run to stop, waits for it to exit, including any
// invocation already in flight, then prints the termination notice.
// It is a no-op when nothing is running and safe to call concurrently.
func (c *Controller) Stop() {
	c.mu.Lock()
	run := c.active
	c.mu.Unlock()
	if run == nil {
		return
	}
	run.once.Do(func() {
		run.cancel()
		<-run.done
		c.logger.Info("runner stopped")
		fmt.Fprintf(c.out, "\n%s\n", StopNotice)
	})
}

// Done returns a channel closed when the active run exits, or nil when idle.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	return c.active.done
}
