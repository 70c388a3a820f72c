package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"autoredeem/internal/core"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// MultiNotifier fans a notification out to several notifiers.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier and joins their errors.
func (m *MultiNotifier) Send(ctx context.Context, title, body string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, title, body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const maxBodyLines = 20

// FailureObserver sends a notification for every run that did not succeed.
type FailureObserver struct {
	Notifier Notifier
}

var _ core.RunObserver = (*FailureObserver)(nil)

// RunCompleted implements core.RunObserver.
func (f *FailureObserver) RunCompleted(ctx context.Context, run *core.Run) error {
	if run.Status == core.RunStatusSucceeded {
		return nil
	}
	title := "Redemption failed"
	if run.Status == core.RunStatusTimedOut {
		title = "Redemption timed out"
	}
	body := fmt.Sprintf("exit code %d after %s\n%s", run.ExitCode, run.Duration().Round(time.Millisecond), tail(run.Output, maxBodyLines))
	if err := f.Notifier.Send(ctx, title, strings.TrimSpace(body)); err != nil {
		return fmt.Errorf("notify failure: %w", err)
	}
	return nil
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
