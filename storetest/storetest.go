// Package storetest holds the conformance suite every outbox.Store implementation must pass.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outbox "github.com/velmie/mutation-outbox"
)

// Factory returns a fresh, empty store. Cleanup belongs to the factory (t.Cleanup).
type Factory func(t *testing.T) outbox.Store

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Record builds a record with deterministic timestamps offset by n seconds.
func Record(id, actor, dedupeKey string, n int) outbox.Record {
	at := base.Add(time.Duration(n) * time.Second)

	return outbox.Record{
		ID:            id,
		Type:          "test.mutation",
		ActorUID:      actor,
		Payload:       json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)),
		DedupeKey:     dedupeKey,
		CreatedAt:     at,
		UpdatedAt:     at,
		NextAttemptAt: at,
	}
}

// Run executes the suite against stores produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("GetMissing", func(t *testing.T) {
		store := factory(t)
		_, err := store.Get(context.Background(), "missing")
		require.ErrorIs(t, err, outbox.ErrNotFound)
	})

	t.Run("PutGetRoundTrip", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)
		want := Record("r1", "alice", "prefs", 0)
		want.Attempts = 3
		want.LastError = "upstream unavailable"
		want.NextAttemptAt = base.Add(40 * time.Second)
		require.NoError(t, store.Put(ctx, want))

		got, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		assertRecord(t, want, got)
	})

	t.Run("PutReplacesAndReindexes", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)
		rec := Record("r1", "alice", "prefs", 0)
		require.NoError(t, store.Put(ctx, rec))

		rec.DedupeKey = "profile"
		rec.ActorUID = "bob"
		rec.Payload = json.RawMessage(`{"n":99}`)
		require.NoError(t, store.Put(ctx, rec))

		old, err := store.GetAllByIndex(ctx, outbox.IndexDedupeKey, "prefs")
		require.NoError(t, err)
		assert.Empty(t, old)
		old, err = store.GetAllByIndex(ctx, outbox.IndexActorUID, "alice")
		require.NoError(t, err)
		assert.Empty(t, old)

		byKey, err := store.GetAllByIndex(ctx, outbox.IndexDedupeKey, "profile")
		require.NoError(t, err)
		require.Len(t, byKey, 1)
		assert.JSONEq(t, `{"n":99}`, string(byKey[0].Payload))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)
		require.NoError(t, store.Put(ctx, Record("r1", "alice", "prefs", 0)))
		require.NoError(t, store.Delete(ctx, "r1"))
		require.NoError(t, store.Delete(ctx, "r1"))

		_, err := store.Get(ctx, "r1")
		require.ErrorIs(t, err, outbox.ErrNotFound)
		byActor, err := store.GetAllByIndex(ctx, outbox.IndexActorUID, "alice")
		require.NoError(t, err)
		assert.Empty(t, byActor)
	})

	t.Run("IndexesMatchExactly", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)
		require.NoError(t, store.Put(ctx, Record("r1", "alice", "prefs", 0)))
		require.NoError(t, store.Put(ctx, Record("r2", "alice", "profile", 1)))
		require.NoError(t, store.Put(ctx, Record("r3", "bob", "prefs", 2)))
		require.NoError(t, store.Put(ctx, Record("r4", "alice2", "prefs2", 3)))

		assertIDs(t, store, outbox.IndexActorUID, "alice", "r1", "r2")
		assertIDs(t, store, outbox.IndexActorUID, "bob", "r3")
		assertIDs(t, store, outbox.IndexDedupeKey, "prefs", "r1", "r3")
		assertIDs(t, store, outbox.IndexDedupeKey, "pref")
		assertIDs(t, store, outbox.IndexActorUID, "nobody")
	})

	t.Run("NextAttemptAtIsUpperBound", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)
		for i, id := range []string{"r1", "r2", "r3"} {
			rec := Record(id, "alice", id, 0)
			rec.NextAttemptAt = base.Add(time.Duration(i) * time.Minute)
			require.NoError(t, store.Put(ctx, rec))
		}

		assertIDs(t, store, outbox.IndexNextAttemptAt, outbox.FormatIndexTime(base.Add(time.Minute)), "r1", "r2")
		assertIDs(t, store, outbox.IndexNextAttemptAt, outbox.FormatIndexTime(base.Add(-time.Second)))
	})

	t.Run("InvalidIndex", func(t *testing.T) {
		store := factory(t)
		_, err := store.GetAllByIndex(context.Background(), outbox.Index("payload"), "x")
		require.ErrorIs(t, err, outbox.ErrInvalidIndex)
		_, err = store.GetAllByIndex(context.Background(), outbox.IndexNextAttemptAt, "yesterday")
		require.ErrorIs(t, err, outbox.ErrInvalidIndex)
	})

	t.Run("ReturnedRecordsAreCopies", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)
		require.NoError(t, store.Put(ctx, Record("r1", "alice", "prefs", 1)))

		got, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		got.Payload[0] = '['

		again, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(again.Payload))
	})

	t.Run("Telemetry", func(t *testing.T) {
		ctx := context.Background()
		store := factory(t)
		ts, ok := store.(outbox.TelemetryStore)
		if !ok {
			t.Skip("store does not persist telemetry")
		}

		_, err := ts.LoadTelemetry(ctx)
		require.ErrorIs(t, err, outbox.ErrNotFound)

		want := outbox.Telemetry{
			Enqueued:           4,
			FlushRuns:          2,
			FlushedSucceeded:   3,
			PendingCount:       1,
			LastFlushAt:        base,
			LastFailureMessage: "boom",
			Events: []outbox.TelemetryEvent{
				{Kind: outbox.EventEnqueue, At: base, MutationType: "test.mutation", DedupeKey: "prefs"},
				{Kind: outbox.EventFlushComplete, At: base, Result: &outbox.FlushResult{Processed: 1, Succeeded: 1}},
			},
		}
		require.NoError(t, ts.SaveTelemetry(ctx, want))

		got, err := ts.LoadTelemetry(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Enqueued, got.Enqueued)
		assert.Equal(t, want.PendingCount, got.PendingCount)
		assert.True(t, want.LastFlushAt.Equal(got.LastFlushAt))
		assert.Equal(t, want.LastFailureMessage, got.LastFailureMessage)
		require.Len(t, got.Events, 2)
		require.NotNil(t, got.Events[1].Result)
		assert.Equal(t, 1, got.Events[1].Result.Succeeded)
	})
}

func assertIDs(t *testing.T, store outbox.Store, index outbox.Index, value string, want ...string) {
	t.Helper()
	records, err := store.GetAllByIndex(context.Background(), index, value)
	require.NoError(t, err)
	got := make([]string, 0, len(records))
	for _, r := range records {
		got = append(got, r.ID)
	}
	assert.ElementsMatch(t, want, got, "index %s=%q", index, value)
}

func assertRecord(t *testing.T, want, got outbox.Record) {
	t.Helper()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Type, got.Type)
	assert.Equal(t, want.ActorUID, got.ActorUID)
	assert.Equal(t, want.DedupeKey, got.DedupeKey)
	assert.JSONEq(t, string(want.Payload), string(got.Payload))
	assert.Equal(t, want.Attempts, got.Attempts)
	assert.Equal(t, want.LastError, got.LastError)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "createdAt %s != %s", want.CreatedAt, got.CreatedAt)
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt), "updatedAt %s != %s", want.UpdatedAt, got.UpdatedAt)
	assert.True(t, want.NextAttemptAt.Equal(got.NextAttemptAt), "nextAttemptAt %s != %s", want.NextAttemptAt, got.NextAttemptAt)
}
