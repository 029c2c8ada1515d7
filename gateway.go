package outbox

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WriteResult reports how a gateway write was handled.
type WriteResult struct {
	// Queued is true when the write was persisted for a later flush instead of applied directly.
	// It is a hint for "pending sync" UI, never an error state.
	Queued bool
	// Record is the queued record when Queued is true.
	Record *Record
}

// AttemptDirectWriteElseQueue applies m for the current actor immediately and queues it only when the
// remote is offline or the write fails transiently. Any other failure is returned unmodified.
//
// A successful direct write deletes any record already queued under the same dedupe key, so that a
// stale payload cannot later overwrite the state the direct write established.
func (o *Outbox) AttemptDirectWriteElseQueue(ctx context.Context, m Mutation, dedupeKey string) (WriteResult, error) {
	actor := o.cfg.Identity.CurrentActor()
	if actor == "" {
		return WriteResult{}, ErrNoActor
	}
	entry, err := NewEntry(actor, dedupeKey, m)
	if err != nil {
		return WriteResult{}, err
	}
	if err := entry.Validate(); err != nil {
		return WriteResult{}, err
	}

	ctx, span := o.cfg.Tracer.Start(ctx, "outbox.direct_write", trace.WithAttributes(
		attribute.String("outbox.type", string(entry.Type)),
		attribute.String("outbox.dedupe_key", entry.DedupeKey),
	))
	defer span.End()

	if !o.cfg.Connectivity.Online() {
		span.SetAttributes(attribute.Bool("outbox.queued", true))

		return o.queue(ctx, entry)
	}

	err = o.apply(ctx, Record{
		Type:      entry.Type,
		ActorUID:  entry.ActorUID,
		Payload:   entry.Payload,
		DedupeKey: entry.DedupeKey,
	})
	if err == nil {
		if err := o.discardQueued(ctx, actor, dedupeKey); err != nil {
			o.cfg.Logger.Error("outbox stale record cleanup failed", "dedupe_key", dedupeKey, "err", err)
			span.RecordError(err)
		}

		return WriteResult{}, nil
	}

	if o.cfg.Classifier(err) == ClassTransient {
		o.cfg.Logger.Debug("outbox direct write failed, queueing", "type", entry.Type, "dedupe_key", dedupeKey, "err", err)
		span.SetAttributes(attribute.Bool("outbox.queued", true))

		return o.queue(ctx, entry)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "direct write failed")

	return WriteResult{}, err
}

func (o *Outbox) queue(ctx context.Context, entry Entry) (WriteResult, error) {
	record, err := o.EnqueueEntry(ctx, entry)
	if err != nil {
		return WriteResult{}, err
	}

	return WriteResult{Queued: true, Record: &record}, nil
}

// discardQueued deletes every record queued for (actorUID, dedupeKey).
func (o *Outbox) discardQueued(ctx context.Context, actorUID, dedupeKey string) error {
	o.recordMu.Lock()
	records, err := o.store.GetAllByIndex(ctx, IndexDedupeKey, dedupeKey)
	if err != nil {
		o.recordMu.Unlock()

		return fmt.Errorf("outbox: lookup dedupe key: %w", err)
	}
	removed := 0
	for _, record := range records {
		if record.ActorUID != actorUID {
			continue
		}
		if err := o.store.Delete(ctx, record.ID); err != nil {
			o.recordMu.Unlock()

			return fmt.Errorf("outbox: delete %s: %w", record.ID, err)
		}
		removed++
		o.cfg.Logger.Debug("outbox queued record superseded by direct write", recordArgs(record)...)
	}
	o.recordMu.Unlock()

	if removed > 0 {
		if _, err := o.refreshPending(ctx); err != nil {
			return err
		}
	}

	return nil
}
