// Package metrics exposes run outcomes as Prometheus collectors.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"autoredeem/internal/core"
)

const namespace = "autoredeem"

// Collector records every completed run.
type Collector struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	lastExit    prometheus.Gauge
	lastSuccess prometheus.Gauge
}

var _ core.RunObserver = (*Collector)(nil)

// New creates a collector registered on its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed action invocations by status.",
		}, []string{"status", "mode"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of action invocations.",
			Buckets:   []float64{1, 5, 10, 30, 60, 90, 120},
		}),
		lastExit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_exit_code",
			Help:      "Status code of the most recent invocation.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the most recent successful invocation.",
		}),
	}
	c.registry.MustRegister(
		c.runs,
		c.duration,
		c.lastExit,
		c.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// RunCompleted implements core.RunObserver.
func (c *Collector) RunCompleted(_ context.Context, run *core.Run) error {
	c.runs.WithLabelValues(string(run.Status), string(run.Mode)).Inc()
	c.duration.Observe(run.Duration().Seconds())
	c.lastExit.Set(float64(run.ExitCode))
	if run.Status == core.RunStatusSucceeded {
		c.lastSuccess.Set(float64(run.EndedAt.Unix()))
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
