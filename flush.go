package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// FlushResult counts the outcome of a flush.
type FlushResult struct {
	// Processed counts due records that were attempted.
	Processed int `json:"processed"`
	// Succeeded counts records applied and removed.
	Succeeded int `json:"succeeded"`
	// Failed counts attempted records that did not succeed (Retried + Dropped).
	Failed int `json:"failed"`
	// Skipped counts records whose NextAttemptAt is still in the future.
	Skipped int `json:"skipped"`
	// Retried counts transient failures that were rescheduled.
	Retried int `json:"retried"`
	// Dropped counts records removed after a non-retryable failure.
	Dropped int `json:"dropped"`
	// Coalesced is true when the call found a flush in progress and only requested a follow-up pass.
	Coalesced bool `json:"coalesced,omitempty"`
}

func (r FlushResult) add(other FlushResult) FlushResult {
	r.Processed += other.Processed
	r.Succeeded += other.Succeeded
	r.Failed += other.Failed
	r.Skipped += other.Skipped
	r.Retried += other.Retried
	r.Dropped += other.Dropped

	return r
}

// Flush drains due records of the current actor.
//
// Only one flush runs at a time. A call made while a flush is running returns a Coalesced result at once
// and makes the running flush perform exactly one more pass when it finishes; the running call returns
// the sum of its passes. Without an actor, or while offline, Flush does nothing.
//
// A store failure aborts the pass and is returned; the remaining records are drained by the next trigger.
func (o *Outbox) Flush(ctx context.Context) (FlushResult, error) {
	o.flushMu.Lock()
	if o.flushing {
		o.runAgain = true
		o.flushMu.Unlock()

		return FlushResult{Coalesced: true}, nil
	}
	o.flushing = true
	o.flushMu.Unlock()

	var (
		total FlushResult
		errs  []error
	)
	for {
		res, err := o.safeFlushPass(ctx)
		total = total.add(res)
		if err != nil {
			errs = append(errs, err)
		}

		o.flushMu.Lock()
		if !o.runAgain || ctx.Err() != nil {
			o.runAgain = false
			o.flushing = false
			o.flushMu.Unlock()

			break
		}
		o.runAgain = false
		o.flushMu.Unlock()
	}

	return total, errors.Join(errs...)
}

func (o *Outbox) safeFlushPass(ctx context.Context) (res FlushResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.cfg.Logger.Error("outbox flush panic", "panic", rec)
			err = fmt.Errorf("%w: %v", ErrFlushPanic, rec)
		}
	}()

	return o.flushPass(ctx)
}

func (o *Outbox) flushPass(ctx context.Context) (FlushResult, error) {
	var res FlushResult
	actor := o.cfg.Identity.CurrentActor()
	if actor == "" || !o.cfg.Connectivity.Online() {
		return res, nil
	}

	ctx, span := o.cfg.Tracer.Start(ctx, "outbox.flush", trace.WithAttributes(attribute.String("outbox.actor", actor)))
	defer span.End()
	start := time.Now()
	defer func() {
		o.cfg.Metrics.ObserveFlushDuration(time.Since(start))
	}()

	o.telemetry.recordFlushStart(ctx)

	records, err := o.store.GetAllByIndex(ctx, IndexActorUID, actor)
	if err != nil {
		return o.abortFlush(ctx, span, res, fmt.Errorf("outbox: load records: %w", err))
	}
	SortRecords(records)

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return o.abortFlush(ctx, span, res, err)
		}

		now := o.cfg.Clock.Now()
		if !record.Due(now) {
			res.Skipped++

			continue
		}

		res.Processed++
		applyErr := o.apply(ctx, record)
		if applyErr == nil {
			if err := o.settle(ctx, record); err != nil {
				return o.abortFlush(ctx, span, res, err)
			}
			res.Succeeded++
			o.cfg.Metrics.AddSucceeded(1)

			continue
		}

		res.Failed++
		class := o.cfg.Classifier(applyErr)
		if class == ClassTransient {
			updated, err := o.reschedule(ctx, record, applyErr, now)
			if err != nil {
				return o.abortFlush(ctx, span, res, err)
			}
			res.Retried++
			o.cfg.Metrics.AddRetries(1)
			o.telemetry.recordFailure(ctx, updated, applyErr, true)
			o.cfg.Logger.Warn("outbox mutation rescheduled",
				recordArgs(updated, "next_attempt_at", updated.NextAttemptAt, "err", applyErr)...)

			continue
		}

		o.cfg.Reporter.Report(ctx, applyErr, ErrorContext{
			RecordID:     record.ID,
			MutationType: record.Type,
			DedupeKey:    record.DedupeKey,
			ActorUID:     record.ActorUID,
			Attempts:     record.Attempts,
			Class:        class,
		})
		if err := o.settle(ctx, record); err != nil {
			return o.abortFlush(ctx, span, res, err)
		}
		res.Dropped++
		o.cfg.Metrics.AddDropped(1)
		o.telemetry.recordFailure(ctx, record, applyErr, false)
	}

	pending, err := o.refreshPending(ctx)
	if err != nil {
		o.cfg.Logger.Warn("outbox pending refresh failed", "err", err)
		pending = -1
	}
	o.telemetry.recordFlushComplete(ctx, res, pending)
	span.SetAttributes(
		attribute.Int("outbox.processed", res.Processed),
		attribute.Int("outbox.succeeded", res.Succeeded),
		attribute.Int("outbox.failed", res.Failed),
		attribute.Int("outbox.skipped", res.Skipped),
	)
	if res.Processed > 0 {
		o.cfg.Logger.Info("outbox flush complete",
			"processed", res.Processed, "succeeded", res.Succeeded, "failed", res.Failed, "skipped", res.Skipped)
	}

	return res, nil
}

// abortFlush ends a pass early. Records settled before the failure still count towards the telemetry
// aggregates.
func (o *Outbox) abortFlush(ctx context.Context, span trace.Span, res FlushResult, err error) (FlushResult, error) {
	o.cfg.Logger.Error("outbox flush aborted", "err", err,
		"processed", res.Processed, "succeeded", res.Succeeded, "failed", res.Failed)
	span.RecordError(err)
	span.SetStatus(codes.Error, "flush aborted")
	span.SetAttributes(
		attribute.Int("outbox.processed", res.Processed),
		attribute.Int("outbox.succeeded", res.Succeeded),
		attribute.Int("outbox.failed", res.Failed),
	)
	ctx = context.WithoutCancel(ctx)
	if _, perr := o.refreshPending(ctx); perr != nil {
		o.cfg.Logger.Warn("outbox pending refresh failed", "err", perr)
	}
	o.telemetry.recordFlushAborted(ctx, res, err)

	return res, err
}

// apply runs the registered applier with the configured timeout, turning a panic into an error.
func (o *Outbox) apply(ctx context.Context, record Record) (err error) {
	if o.cfg.ApplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ApplyTimeout)
		defer cancel()
	}
	defer func() {
		if rec := recover(); rec != nil {
			o.cfg.Logger.Error("outbox applier panic", recordArgs(record, "panic", rec)...)
			err = fmt.Errorf("%w: %v", ErrApplierPanic, rec)
		}
	}()

	return o.registry.Apply(ctx, record)
}

// settle deletes a record that was applied or dropped, unless Enqueue merged a newer intent into it
// while it was being applied; that intent stays queued.
func (o *Outbox) settle(ctx context.Context, record Record) error {
	o.recordMu.Lock()
	defer o.recordMu.Unlock()

	current, err := o.store.Get(ctx, record.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}

		return fmt.Errorf("outbox: reload %s: %w", record.ID, err)
	}
	if !sameIntent(current, record) {
		o.cfg.Logger.Debug("outbox record merged during flush, keeping", recordArgs(current)...)

		return nil
	}
	if err := o.store.Delete(ctx, record.ID); err != nil {
		return fmt.Errorf("outbox: delete %s: %w", record.ID, err)
	}

	return nil
}

// reschedule records a transient failure: attempts+1 and a backoff from now. A record merged meanwhile
// already had its backoff reset and is left untouched.
func (o *Outbox) reschedule(ctx context.Context, record Record, cause error, now time.Time) (Record, error) {
	o.recordMu.Lock()
	defer o.recordMu.Unlock()

	current, err := o.store.Get(ctx, record.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return record, nil
		}

		return Record{}, fmt.Errorf("outbox: reload %s: %w", record.ID, err)
	}
	if !sameIntent(current, record) {
		return current, nil
	}

	current.Attempts++
	current.NextAttemptAt = now.Add(o.cfg.Backoff.Delay(current.Attempts))
	current.LastError = truncateError(cause)
	if err := o.store.Put(ctx, current); err != nil {
		return Record{}, fmt.Errorf("outbox: reschedule %s: %w", record.ID, err)
	}

	return current, nil
}
