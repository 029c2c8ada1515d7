// Package prom exports outbox metrics to Prometheus.
package prom

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	outbox "github.com/velmie/mutation-outbox"
)

const defaultNamespace = "outbox"

// Metrics implements outbox.Metrics with Prometheus collectors.
type Metrics struct {
	flushDuration prometheus.Histogram
	enqueued      prometheus.Counter
	succeeded     prometheus.Counter
	retries       prometheus.Counter
	dropped       prometheus.Counter
	pending       prometheus.Gauge
}

var _ outbox.Metrics = (*Metrics)(nil)

// New creates the collectors and registers them with reg. An empty namespace defaults to "outbox";
// a nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = defaultNamespace
	}

	m := &Metrics{
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of one flush pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Mutations queued or merged into a queued record.",
		}),
		succeeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_succeeded_total",
			Help:      "Queued mutations applied to the remote and removed.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_retries_total",
			Help:      "Transient flush failures that were rescheduled.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_dropped_total",
			Help:      "Queued mutations dropped after a non-retryable failure.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_records",
			Help:      "Queued records of the current actor.",
		}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{m.flushDuration, m.enqueued, m.succeeded, m.retries, m.dropped, m.pending} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveFlushDuration implements outbox.Metrics.
func (m *Metrics) ObserveFlushDuration(d time.Duration) {
	m.flushDuration.Observe(d.Seconds())
}

// AddEnqueued implements outbox.Metrics.
func (m *Metrics) AddEnqueued(n int) {
	m.enqueued.Add(float64(n))
}

// AddSucceeded implements outbox.Metrics.
func (m *Metrics) AddSucceeded(n int) {
	m.succeeded.Add(float64(n))
}

// AddRetries implements outbox.Metrics.
func (m *Metrics) AddRetries(n int) {
	m.retries.Add(float64(n))
}

// AddDropped implements outbox.Metrics.
func (m *Metrics) AddDropped(n int) {
	m.dropped.Add(float64(n))
}

// SetPending implements outbox.Metrics.
func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}
