package outbox

import "time"

// Metrics captures outbox-level counters for an external metrics system.
type Metrics interface {
	// ObserveFlushDuration records the time taken by one flush pass.
	ObserveFlushDuration(duration time.Duration)
	// AddEnqueued increments the count of queued or merged mutations.
	AddEnqueued(count int)
	// AddSucceeded increments the count of records applied and removed.
	AddSucceeded(count int)
	// AddRetries increments the count of transient failures that were rescheduled.
	AddRetries(count int)
	// AddDropped increments the count of records dropped after a non-retryable failure.
	AddDropped(count int)
	// SetPending updates the current pending record count of the active actor.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveFlushDuration implements Metrics.
func (NopMetrics) ObserveFlushDuration(time.Duration) {}

// AddEnqueued implements Metrics.
func (NopMetrics) AddEnqueued(int) {}

// AddSucceeded implements Metrics.
func (NopMetrics) AddSucceeded(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDropped implements Metrics.
func (NopMetrics) AddDropped(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
