// Package metrics exports sync pass and status-server metrics to Prometheus.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"calmirror/internal/mirror"
)

const namespace = "calmirror"

// Recorder owns the collectors and the registry they are registered on.
type Recorder struct {
	registry *prometheus.Registry

	passes        *prometheus.CounterVec
	passDuration  prometheus.Histogram
	actions       *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDurations *prometheus.HistogramVec
}

var _ mirror.Observer = (*Recorder)(nil)

// New creates a Recorder on a fresh registry that also carries the Go and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "passes_total",
				Help:      "Sync passes by outcome.",
			},
			[]string{"outcome"},
		),
		passDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "pass_duration_seconds",
				Help:      "Sync pass duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "actions_total",
				Help:      "Destination actions applied, by kind.",
			},
			[]string{"action"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sync",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last pass that completed without aborting.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpDurations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.passes,
		r.passDuration,
		r.actions,
		r.lastSuccess,
		r.httpRequests,
		r.httpDurations,
	)
	return r
}

// Registry exposes the registry for the /metrics handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObservePass records one finished pass.
func (r *Recorder) ObservePass(res mirror.PassResult) {
	r.passes.WithLabelValues(outcome(res.Err)).Inc()
	r.passDuration.Observe(res.Duration.Seconds())

	r.actions.WithLabelValues("create").Add(float64(res.Summary.Created))
	r.actions.WithLabelValues("update").Add(float64(res.Summary.Updated))
	r.actions.WithLabelValues("delete").Add(float64(res.Summary.Deleted))
	r.actions.WithLabelValues("failed").Add(float64(res.Summary.Failed))

	if res.Err == nil {
		r.lastSuccess.Set(float64(res.Started.Add(res.Duration).Unix()))
	}
}

// RecordHTTPRequest records one status-server request.
func (r *Recorder) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	r.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	r.httpDurations.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func outcome(err error) string {
	var fetchErr *mirror.FetchError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, mirror.ErrSourceUnavailable), errors.As(err, &fetchErr):
		return "source_error"
	case errors.Is(err, mirror.ErrAuthentication):
		return "auth_error"
	default:
		return "error"
	}
}
