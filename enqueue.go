package outbox

import (
	"context"
	"fmt"
)

// Enqueue queues m for actorUID under dedupeKey, merging into an existing record for the same pair.
func (o *Outbox) Enqueue(ctx context.Context, actorUID, dedupeKey string, m Mutation) (Record, error) {
	entry, err := NewEntry(actorUID, dedupeKey, m)
	if err != nil {
		return Record{}, err
	}

	return o.EnqueueEntry(ctx, entry)
}

// EnqueueEntry queues a pre-encoded entry.
//
// When records already exist for (ActorUID, DedupeKey) the oldest survives: it takes the new type and
// payload, its backoff is reset and its CreatedAt is kept, so flush order reflects the first intent.
// Any further duplicates are deleted.
func (o *Outbox) EnqueueEntry(ctx context.Context, entry Entry) (Record, error) {
	if err := entry.Validate(); err != nil {
		return Record{}, err
	}
	if !o.registry.Has(entry.Type) {
		return Record{}, fmt.Errorf("%w: %s", ErrUnknownMutationType, entry.Type)
	}

	record, err := o.upsert(ctx, entry)
	if err != nil {
		return Record{}, err
	}

	pending, err := o.refreshPending(ctx)
	if err != nil {
		o.cfg.Logger.Warn("outbox pending refresh failed", "err", err)
		pending = -1
	}
	o.telemetry.recordEnqueue(ctx, record, pending)
	o.cfg.Metrics.AddEnqueued(1)
	o.cfg.Logger.Debug("outbox mutation queued", recordArgs(record)...)
	o.nudge()

	return record, nil
}

func (o *Outbox) upsert(ctx context.Context, entry Entry) (Record, error) {
	o.recordMu.Lock()
	defer o.recordMu.Unlock()

	now := o.cfg.Clock.Now()
	existing, err := o.store.GetAllByIndex(ctx, IndexDedupeKey, entry.DedupeKey)
	if err != nil {
		return Record{}, fmt.Errorf("outbox: lookup dedupe key: %w", err)
	}
	owned := existing[:0]
	for _, record := range existing {
		if record.ActorUID == entry.ActorUID {
			owned = append(owned, record)
		}
	}

	if len(owned) == 0 {
		id, err := o.cfg.IDGenerator.New()
		if err != nil {
			return Record{}, err
		}
		record := Record{
			ID:            id,
			Type:          entry.Type,
			ActorUID:      entry.ActorUID,
			Payload:       entry.Payload,
			DedupeKey:     entry.DedupeKey,
			CreatedAt:     now,
			UpdatedAt:     now,
			Attempts:      0,
			NextAttemptAt: now,
		}
		if err := o.store.Put(ctx, record); err != nil {
			return Record{}, fmt.Errorf("outbox: insert record: %w", err)
		}

		return record, nil
	}

	SortRecords(owned)
	survivor := owned[0]
	survivor.Type = entry.Type
	survivor.Payload = entry.Payload
	survivor.UpdatedAt = now
	survivor.NextAttemptAt = now
	survivor.LastError = ""
	if err := o.store.Put(ctx, survivor); err != nil {
		return Record{}, fmt.Errorf("outbox: merge record: %w", err)
	}
	for _, dup := range owned[1:] {
		if err := o.store.Delete(ctx, dup.ID); err != nil {
			return Record{}, fmt.Errorf("outbox: delete duplicate %s: %w", dup.ID, err)
		}
		o.cfg.Logger.Warn("outbox duplicate record removed", recordArgs(dup, "survivor", survivor.ID)...)
	}

	return survivor, nil
}
