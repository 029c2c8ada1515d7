package outbox

import (
	"context"
	"fmt"
	"time"
)

// PendingSummaryLimit bounds PendingState.Items.
const PendingSummaryLimit = 25

// PendingItem summarizes one queued record for display.
type PendingItem struct {
	ID            string       `json:"id"`
	Type          MutationType `json:"type"`
	DedupeKey     string       `json:"dedupeKey"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt time.Time    `json:"nextAttemptAt"`
	LastError     string       `json:"lastError,omitempty"`
}

// PendingState is the queued work of the current actor. Items holds the oldest PendingSummaryLimit
// records; Count is the full total.
type PendingState struct {
	ActorUID string        `json:"actorUid,omitempty"`
	Count    int           `json:"count"`
	Items    []PendingItem `json:"items"`
}

// SubscribePendingCount registers fn for pending count updates; fn receives the current count immediately.
func (o *Outbox) SubscribePendingCount(fn func(count int)) func() {
	return o.pendingCount.Subscribe(fn)
}

// SubscribePendingState registers fn for pending state updates; fn receives the current state immediately.
func (o *Outbox) SubscribePendingState(fn func(state PendingState)) func() {
	return o.pendingState.Subscribe(fn)
}

// Pending recomputes and returns the pending state of the current actor.
func (o *Outbox) Pending(ctx context.Context) (PendingState, error) {
	if _, err := o.refreshPending(ctx); err != nil {
		return PendingState{}, err
	}
	state, _ := o.pendingState.Last()

	return state, nil
}

// refreshPending recomputes the pending state of the current actor and publishes it.
// Queued records are never published across identity boundaries: without an actor the empty state is
// published, and a result loaded for an actor that signed out meanwhile is discarded.
func (o *Outbox) refreshPending(ctx context.Context) (int, error) {
	actor := o.cfg.Identity.CurrentActor()
	if actor == "" {
		o.publishPending(ctx, PendingState{Items: []PendingItem{}})

		return 0, nil
	}

	records, err := o.store.GetAllByIndex(ctx, IndexActorUID, actor)
	if err != nil {
		return 0, fmt.Errorf("outbox: load pending records: %w", err)
	}
	if o.cfg.Identity.CurrentActor() != actor {
		return len(records), nil
	}

	SortRecords(records)
	items := make([]PendingItem, 0, min(len(records), PendingSummaryLimit))
	for _, record := range records[:min(len(records), PendingSummaryLimit)] {
		items = append(items, PendingItem{
			ID:            record.ID,
			Type:          record.Type,
			DedupeKey:     record.DedupeKey,
			CreatedAt:     record.CreatedAt,
			UpdatedAt:     record.UpdatedAt,
			Attempts:      record.Attempts,
			NextAttemptAt: record.NextAttemptAt,
			LastError:     record.LastError,
		})
	}
	o.publishPending(ctx, PendingState{ActorUID: actor, Count: len(records), Items: items})

	return len(records), nil
}

// publishPending fans state out to subscribers, the pending gauge and the telemetry pending count.
func (o *Outbox) publishPending(ctx context.Context, state PendingState) {
	o.cfg.Metrics.SetPending(state.Count)
	o.telemetry.setPending(ctx, state.Count)
	o.pendingCount.Publish(state.Count)
	o.pendingState.Publish(state)
}
