package bolt_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/bolt"
	"github.com/velmie/mutation-outbox/storetest"
)

func openStore(t *testing.T, path string) *bolt.Store {
	t.Helper()
	store, err := bolt.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) outbox.Store {
		return openStore(t, filepath.Join(t.TempDir(), "outbox.db"))
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := bolt.Open("  ")
	require.Error(t, err)
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")

	store, err := bolt.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, storetest.Record("r1", "alice", "prefs", 0)))
	require.NoError(t, store.SaveTelemetry(ctx, outbox.Telemetry{Enqueued: 7}))
	require.NoError(t, store.Close())

	reopened := openStore(t, path)
	got, err := reopened.Get(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "prefs", got.DedupeKey)

	byActor, err := reopened.GetAllByIndex(ctx, outbox.IndexActorUID, "alice")
	require.NoError(t, err)
	require.Len(t, byActor, 1)

	telemetry, err := reopened.LoadTelemetry(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 7, telemetry.Enqueued)
}

func TestPutRejectsSeparatorInID(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "outbox.db"))
	rec := storetest.Record("r\x001", "alice", "prefs", 0)
	require.ErrorIs(t, store.Put(context.Background(), rec), outbox.ErrInvalidKey)
}

func TestGetAllByIndexMatchesBoundUnderConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "outbox.db"))
	due := storetest.Record("r1", "alice", "prefs", 0)
	require.NoError(t, store.Put(ctx, due))
	later := due
	later.NextAttemptAt = due.NextAttemptAt.Add(time.Hour)
	bound := outbox.FormatIndexTime(due.NextAttemptAt)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			next := due
			if i%2 == 0 {
				next = later
			}
			if err := store.Put(ctx, next); err != nil {
				t.Errorf("put: %v", err)

				return
			}
		}
	}()

	for i := 0; i < 200; i++ {
		records, err := store.GetAllByIndex(ctx, outbox.IndexNextAttemptAt, bound)
		require.NoError(t, err)
		for _, record := range records {
			require.False(t, record.NextAttemptAt.After(due.NextAttemptAt),
				"record %s returned past the bound: %s", record.ID, record.NextAttemptAt)
		}
	}
	wg.Wait()
}
