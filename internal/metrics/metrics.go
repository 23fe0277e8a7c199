// Package metrics records run statistics in a Prometheus registry and writes
// them in the node_exporter textfile format at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/emaileria/internal/models"
)

const namespace = "emaileria"

// Recorder implements the status publisher contract and accumulates counters.
type Recorder struct {
	registry *prometheus.Registry

	events    *prometheus.CounterVec
	results   *prometheus.CounterVec
	attempts  prometheus.Counter
	backoff   prometheus.Counter
	duration  prometheus.Histogram
	lastRunAt prometheus.Gauge
}

// NewRecorder registers the run metrics on a fresh registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_events_total",
			Help:      "Delivery lifecycle events by type.",
		}, []string{"event"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Final delivery outcomes by result.",
		}, []string{"result"}), // result: sent|failed|skipped|dry_run
		attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_attempts_total",
			Help:      "Transport send attempts.",
		}),
		backoff: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_backoff_seconds_total",
			Help:      "Time spent waiting between retries.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_duration_seconds",
			Help:      "Time from first attempt to final outcome per recipient.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		lastRunAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_event_timestamp_seconds",
			Help:      "Unix time of the latest status event.",
		}),
	}
	r.registry.MustRegister(r.events, r.results, r.attempts, r.backoff, r.duration, r.lastRunAt)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// PublishStatus updates counters for event. It never fails.
func (r *Recorder) PublishStatus(_ context.Context, event models.StatusEvent) error {
	r.events.WithLabelValues(event.EventType).Inc()
	if !event.Timestamp.IsZero() {
		r.lastRunAt.Set(float64(event.Timestamp.UnixNano()) / 1e9)
	}

	switch event.EventType {
	case models.StatusEventAttempt:
		r.attempts.Inc()
	case models.StatusEventRetry:
		r.backoff.Add(event.Backoff.Seconds())
	case models.StatusEventSent, models.StatusEventFailed:
		r.results.WithLabelValues(event.EventType).Inc()
		r.duration.Observe(event.Duration.Seconds())
	case models.StatusEventSkipped:
		r.results.WithLabelValues(event.EventType).Inc()
	case models.StatusEventPrepared:
		if event.DryRun {
			r.results.WithLabelValues("dry_run").Inc()
		}
	}
	return nil
}

// WriteTextfile writes the registry to path in the textfile collector format.
// The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("metrics: create dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("metrics: write textfile: %w", err)
	}
	return nil
}
