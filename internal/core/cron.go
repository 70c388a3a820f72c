package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseCron ensures the expression is a valid 5-field cron definition and returns the underlying schedule.
func ParseCron(expr string) (cron.Schedule, error) {
	if strings.HasPrefix(strings.TrimSpace(expr), "@") {
		return nil, fmt.Errorf("only 5-field cron expressions are supported")
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

// FixedDelay schedules the next run a constant delay after the given time.
// Unlike cron.Every it keeps sub-second precision.
type FixedDelay time.Duration

// Next implements cron.Schedule.
func (d FixedDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

var _ cron.Schedule = FixedDelay(0)

// ScheduleFor builds the schedule for a periodic RunConfig. unit scales IntervalMinutes.
func ScheduleFor(cfg RunConfig, unit time.Duration) (cron.Schedule, error) {
	if cfg.CronExpr != "" {
		return ParseCron(cfg.CronExpr)
	}
	if cfg.IntervalMinutes < 1 {
		return nil, fmt.Errorf("interval must be at least 1 minute, got %d", cfg.IntervalMinutes)
	}
	return FixedDelay(time.Duration(cfg.IntervalMinutes) * unit), nil
}

// NextOccurrences returns the next n execution times from a base time.
func NextOccurrences(schedule cron.Schedule, base time.Time, n int) []time.Time {
	times := make([]time.Time, 0, n)
	next := base
	for i := 0; i < n; i++ {
		next = schedule.Next(next)
		if next.IsZero() {
			break
		}
		times = append(times, next)
	}
	return times
}
