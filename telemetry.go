package outbox

import (
	"context"
	"errors"
	"sync"
	"time"
)

// TelemetryEventCap bounds the ring buffer of recent telemetry events.
const TelemetryEventCap = 40

// TelemetryEventKind names a discrete telemetry event.
type TelemetryEventKind string

const (
	EventEnqueue       TelemetryEventKind = "enqueue"
	EventFlushStart    TelemetryEventKind = "flush_start"
	EventFlushComplete TelemetryEventKind = "flush_complete"
	EventFlushError    TelemetryEventKind = "flush_error"
)

// TelemetryEvent is one entry of the recent-events ring buffer.
type TelemetryEvent struct {
	Kind         TelemetryEventKind `json:"kind"`
	At           time.Time          `json:"at"`
	MutationType MutationType       `json:"mutationType,omitempty"`
	DedupeKey    string             `json:"dedupeKey,omitempty"`
	Message      string             `json:"message,omitempty"`
	Result       *FlushResult       `json:"result,omitempty"`
}

// Telemetry is the process-wide aggregate outbox state.
type Telemetry struct {
	Enqueued           int64            `json:"enqueued"`
	FlushRuns          int64            `json:"flushRuns"`
	FlushedProcessed   int64            `json:"flushedProcessed"`
	FlushedSucceeded   int64            `json:"flushedSucceeded"`
	FlushedFailed      int64            `json:"flushedFailed"`
	PendingCount       int              `json:"pendingCount"`
	LastEnqueueAt      time.Time        `json:"lastEnqueueAt,omitzero"`
	LastFlushAt        time.Time        `json:"lastFlushAt,omitzero"`
	LastFailureAt      time.Time        `json:"lastFailureAt,omitzero"`
	LastFailureMessage string           `json:"lastFailureMessage,omitempty"`
	Events             []TelemetryEvent `json:"events"`
}

// Clone returns a copy that does not share the events buffer.
func (t Telemetry) Clone() Telemetry {
	events := make([]TelemetryEvent, len(t.Events))
	for i, ev := range t.Events {
		if ev.Result != nil {
			res := *ev.Result
			ev.Result = &res
		}
		events[i] = ev
	}
	t.Events = events

	return t
}

func (t *Telemetry) appendEvent(ev TelemetryEvent) {
	t.Events = append(t.Events, ev)
	if over := len(t.Events) - TelemetryEventCap; over > 0 {
		t.Events = append(t.Events[:0:0], t.Events[over:]...)
	}
}

type telemetryRecorder struct {
	mu     sync.Mutex
	state  Telemetry
	store  TelemetryStore
	clock  Clock
	logger Logger
	stream *Broadcaster[Telemetry]
}

func newTelemetryRecorder(cfg Config) *telemetryRecorder {
	return &telemetryRecorder{
		state:  Telemetry{Events: []TelemetryEvent{}},
		store:  cfg.TelemetryStore,
		clock:  cfg.Clock,
		logger: cfg.Logger,
		stream: NewReplayBroadcaster(Telemetry{Events: []TelemetryEvent{}}),
	}
}

func (r *telemetryRecorder) load(ctx context.Context) {
	if r.store == nil {
		return
	}
	loaded, err := r.store.LoadTelemetry(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			r.logger.Warn("outbox telemetry load failed", "err", err)
		}

		return
	}
	if loaded.Events == nil {
		loaded.Events = []TelemetryEvent{}
	}

	r.mu.Lock()
	r.state = loaded
	snapshot := r.state.Clone()
	r.mu.Unlock()
	r.stream.Publish(snapshot)
}

func (r *telemetryRecorder) get() Telemetry {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state.Clone()
}

// update applies fn, persists the result and notifies subscribers. Persist failures are logged only.
func (r *telemetryRecorder) update(ctx context.Context, fn func(t *Telemetry)) {
	r.mu.Lock()
	fn(&r.state)
	snapshot := r.state.Clone()
	if r.store != nil {
		if err := r.store.SaveTelemetry(ctx, snapshot); err != nil {
			r.logger.Warn("outbox telemetry persist failed", "err", err)
		}
	}
	r.mu.Unlock()

	r.stream.Publish(snapshot)
}

func (r *telemetryRecorder) recordEnqueue(ctx context.Context, record Record, pending int) {
	now := r.clock.Now()
	r.update(ctx, func(t *Telemetry) {
		t.Enqueued++
		t.LastEnqueueAt = now
		if pending >= 0 {
			t.PendingCount = pending
		}
		t.appendEvent(TelemetryEvent{
			Kind:         EventEnqueue,
			At:           now,
			MutationType: record.Type,
			DedupeKey:    record.DedupeKey,
		})
	})
}

func (r *telemetryRecorder) recordFlushStart(ctx context.Context) {
	now := r.clock.Now()
	r.update(ctx, func(t *Telemetry) {
		t.FlushRuns++
		t.appendEvent(TelemetryEvent{Kind: EventFlushStart, At: now})
	})
}

// recordFailure stores the failure details; event is false for drops, which are reported elsewhere.
func (r *telemetryRecorder) recordFailure(ctx context.Context, record Record, err error, event bool) {
	now := r.clock.Now()
	msg := truncateError(err)
	r.update(ctx, func(t *Telemetry) {
		t.LastFailureAt = now
		t.LastFailureMessage = msg
		if event {
			t.appendEvent(TelemetryEvent{
				Kind:         EventFlushError,
				At:           now,
				MutationType: record.Type,
				DedupeKey:    record.DedupeKey,
				Message:      msg,
			})
		}
	})
}

// setPending records the current pending count. An unchanged count is neither persisted nor published.
func (r *telemetryRecorder) setPending(ctx context.Context, pending int) {
	r.mu.Lock()
	same := r.state.PendingCount == pending
	r.mu.Unlock()
	if same {
		return
	}
	r.update(ctx, func(t *Telemetry) {
		t.PendingCount = pending
	})
}

func (r *telemetryRecorder) recordFlushComplete(ctx context.Context, res FlushResult, pending int) {
	now := r.clock.Now()
	r.update(ctx, func(t *Telemetry) {
		t.FlushedProcessed += int64(res.Processed)
		t.FlushedSucceeded += int64(res.Succeeded)
		t.FlushedFailed += int64(res.Failed)
		t.LastFlushAt = now
		if pending >= 0 {
			t.PendingCount = pending
		}
		summary := res
		t.appendEvent(TelemetryEvent{Kind: EventFlushComplete, At: now, Result: &summary})
	})
}

// recordFlushAborted adds the partial counts of an aborted pass and records its cause.
func (r *telemetryRecorder) recordFlushAborted(ctx context.Context, res FlushResult, err error) {
	now := r.clock.Now()
	msg := truncateError(err)
	r.update(ctx, func(t *Telemetry) {
		t.FlushedProcessed += int64(res.Processed)
		t.FlushedSucceeded += int64(res.Succeeded)
		t.FlushedFailed += int64(res.Failed)
		t.LastFailureAt = now
		t.LastFailureMessage = msg
		summary := res
		t.appendEvent(TelemetryEvent{Kind: EventFlushError, At: now, Message: msg, Result: &summary})
	})
}

func (r *telemetryRecorder) reset(ctx context.Context, pending int) {
	r.update(ctx, func(t *Telemetry) {
		*t = Telemetry{Events: []TelemetryEvent{}, PendingCount: max(pending, 0)}
	})
}
