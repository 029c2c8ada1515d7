package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Outbox owns the queue state: the store, the applier registry, the flush guard, the worker and the
// observer streams.
type Outbox struct {
	store    Store
	registry *Registry
	cfg      Config

	telemetry    *telemetryRecorder
	pendingCount *Broadcaster[int]
	pendingState *Broadcaster[PendingState]

	// recordMu serializes read-modify-write sequences on records so a merge by Enqueue is never
	// overwritten or deleted by a concurrent flush.
	recordMu sync.Mutex

	flushMu  sync.Mutex
	flushing bool
	runAgain bool

	workerMu sync.Mutex
	worker   *worker
}

// New constructs an Outbox, loads persisted telemetry and publishes the initial pending state.
func New(ctx context.Context, store Store, registry *Registry, opts ...Option) (*Outbox, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if registry == nil {
		return nil, ErrRegistryRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults(store)

	o := &Outbox{
		store:        store,
		registry:     registry,
		cfg:          cfg,
		telemetry:    newTelemetryRecorder(cfg),
		pendingCount: NewReplayBroadcaster(0),
		pendingState: NewReplayBroadcaster(PendingState{Items: []PendingItem{}}),
	}
	o.telemetry.load(ctx)
	if _, err := o.refreshPending(ctx); err != nil {
		return nil, err
	}

	return o, nil
}

// Actor returns the currently authenticated actor.
func (o *Outbox) Actor() string {
	return o.cfg.Identity.CurrentActor()
}

// Telemetry returns a snapshot of the aggregate telemetry.
func (o *Outbox) Telemetry() Telemetry {
	return o.telemetry.get()
}

// SubscribeTelemetry registers fn for telemetry updates; fn receives the current snapshot immediately.
func (o *Outbox) SubscribeTelemetry(fn func(Telemetry)) func() {
	return o.telemetry.stream.Subscribe(fn)
}

// ResetTelemetry clears counters and events. The pending count is recomputed, not cleared.
func (o *Outbox) ResetTelemetry(ctx context.Context) error {
	pending, err := o.refreshPending(ctx)
	if err != nil {
		o.telemetry.reset(ctx, -1)

		return err
	}
	o.telemetry.reset(ctx, pending)

	return nil
}

// Purge deletes every queued record of actorUID and returns how many were removed.
func (o *Outbox) Purge(ctx context.Context, actorUID string) (int, error) {
	if actorUID == "" {
		return 0, ErrActorRequired
	}

	o.recordMu.Lock()
	records, err := o.store.GetAllByIndex(ctx, IndexActorUID, actorUID)
	if err != nil {
		o.recordMu.Unlock()

		return 0, fmt.Errorf("outbox: load records: %w", err)
	}
	var (
		removed int
		errs    []error
	)
	for _, record := range records {
		if err := o.store.Delete(ctx, record.ID); err != nil {
			errs = append(errs, fmt.Errorf("outbox: delete %s: %w", record.ID, err))

			continue
		}
		removed++
	}
	o.recordMu.Unlock()

	if _, err := o.refreshPending(ctx); err != nil {
		errs = append(errs, err)
	}

	return removed, errors.Join(errs...)
}

func (o *Outbox) nudge() {
	o.workerMu.Lock()
	w := o.worker
	o.workerMu.Unlock()
	if w != nil {
		w.scheduleNudge(o.cfg.NudgeDelay)
	}
}
