package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"autoredeem/internal/core"
)

func TestCollectorRunCompleted(t *testing.T) {
	c := New()
	start := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	runs := []*core.Run{
		{Status: core.RunStatusSucceeded, Mode: core.RunModeInterval, StartedAt: start, EndedAt: start.Add(2 * time.Second)},
		{Status: core.RunStatusFailed, Mode: core.RunModeInterval, ExitCode: 3, StartedAt: start, EndedAt: start.Add(time.Second)},
		{Status: core.RunStatusSucceeded, Mode: core.RunModeInterval, StartedAt: start, EndedAt: start.Add(3 * time.Second)},
	}
	for _, run := range runs {
		if err := c.RunCompleted(ctx, run); err != nil {
			t.Fatalf("RunCompleted() error: %v", err)
		}
	}

	if got := testutil.ToFloat64(c.runs.WithLabelValues("succeeded", "interval")); got != 2 {
		t.Errorf("succeeded runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.runs.WithLabelValues("failed", "interval")); got != 1 {
		t.Errorf("failed runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.lastExit); got != 0 {
		t.Errorf("last exit = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.lastSuccess); got != float64(start.Add(3*time.Second).Unix()) {
		t.Errorf("last success = %v", got)
	}
}

func TestCollectorHandler(t *testing.T) {
	c := New()
	start := time.Now()
	_ = c.RunCompleted(context.Background(), &core.Run{Status: core.RunStatusTimedOut, Mode: core.RunModeOnce, StartedAt: start, EndedAt: start})

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `autoredeem_runs_total{mode="once",status="timed_out"} 1`) {
		t.Errorf("metrics output missing runs_total:\n%s", body)
	}
}
