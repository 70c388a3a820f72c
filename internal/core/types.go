package core

import (
	"time"
)

// StatusInternalFailure is the status code reported when the action could not
// be launched, timed out, or was otherwise abandoned.
const StatusInternalFailure = -1

// RunConfig is the immutable configuration for one runner process.
type RunConfig struct {
	// IntervalMinutes selects periodic mode when positive. Zero means run once.
	IntervalMinutes int
	// CronExpr selects periodic mode on a 5-field cron schedule.
	CronExpr  string
	CheckOnly bool
	// Credential is overlaid onto the action environment. Never logged.
	Credential string
}

// Periodic reports whether the configuration describes a repeating run.
func (c RunConfig) Periodic() bool {
	return c.IntervalMinutes > 0 || c.CronExpr != ""
}

// Mode returns a short label for logs and the run journal.
func (c RunConfig) Mode() RunMode {
	switch {
	case c.CronExpr != "":
		return RunModeCron
	case c.IntervalMinutes > 0:
		return RunModeInterval
	default:
		return RunModeOnce
	}
}

// RunMode describes how the scheduler drives invocations.
type RunMode string

const (
	RunModeOnce     RunMode = "once"
	RunModeInterval RunMode = "interval"
	RunModeCron     RunMode = "cron"
)

// RunStatus describes the final state of an individual invocation.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusTimedOut  RunStatus = "timed_out"
)

// RunOutcome is the result of one action invocation.
type RunOutcome struct {
	Output     string
	StatusCode int
	TimedOut   bool
}

// Succeeded reports whether the action exited with status zero.
func (o RunOutcome) Succeeded() bool {
	return o.StatusCode == 0
}

// Status maps the outcome onto a RunStatus.
func (o RunOutcome) Status() RunStatus {
	switch {
	case o.TimedOut:
		return RunStatusTimedOut
	case o.Succeeded():
		return RunStatusSucceeded
	default:
		return RunStatusFailed
	}
}

// Run captures a single completed invocation for observers.
type Run struct {
	ID          string
	Mode        RunMode
	CheckOnly   bool
	Status      RunStatus
	ScheduledAt time.Time
	StartedAt   time.Time
	EndedAt     time.Time
	ExitCode    int
	Output      string
	CreatedAt   time.Time
}

// Duration returns how long the invocation took.
func (r *Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// ScheduleState is a point-in-time copy of the scheduler's mutable state.
type ScheduleState struct {
	Mode          RunMode
	Running       bool
	StopRequested bool
	LastRunAt     *time.Time
	NextRunAt     *time.Time
	LastStatus    RunStatus
	Runs          int
}
