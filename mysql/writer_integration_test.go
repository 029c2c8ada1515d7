//go:build integration

package mysql_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/internal/testutil"
	"github.com/velmie/mutation-outbox/memory"
	"github.com/velmie/mutation-outbox/mutation"
	"github.com/velmie/mutation-outbox/mysql"
)

func newWriter(t *testing.T, ctx context.Context) *mysql.Writer {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	container := testutil.StartMySQLContainer(t, ctx)
	writer, err := mysql.NewWriter(container.DB)
	require.NoError(t, err)
	require.NoError(t, writer.EnsureSchema(ctx))
	require.NoError(t, writer.EnsureSchema(ctx))

	return writer
}

func TestWriterUpsertIsIdempotentIntegration(t *testing.T) {
	ctx := context.Background()
	writer := newWriter(t, ctx)

	_, err := writer.NotificationPreferences(ctx, "u1")
	require.ErrorIs(t, err, mysql.ErrNotFound)

	prefs := mutation.NotificationPreferences{Email: true, Digest: mutation.DigestWeekly}
	require.NoError(t, writer.WriteNotificationPreferences(ctx, "u1", prefs))
	require.NoError(t, writer.WriteNotificationPreferences(ctx, "u1", prefs))

	got, err := writer.NotificationPreferences(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, prefs, got)

	prefs.SMS = true
	prefs.Digest = ""
	require.NoError(t, writer.WriteNotificationPreferences(ctx, "u1", prefs))
	got, err = writer.NotificationPreferences(ctx, "u1")
	require.NoError(t, err)
	require.True(t, got.SMS)
	require.Equal(t, mutation.DigestOff, got.Digest)
}

func TestWriterDataTooLongIsPermanentIntegration(t *testing.T) {
	ctx := context.Background()
	writer := newWriter(t, ctx)

	err := writer.WriteProfile(ctx, "u1", mutation.ProfileUpdate{
		DisplayName: "Ada",
		Timezone:    strings.Repeat("x", 100),
	})
	require.Error(t, err)
	require.True(t, outbox.IsPermanent(err), "expected permanent, got %v", err)
}

func TestOutboxFlushesIntoMySQLIntegration(t *testing.T) {
	ctx := context.Background()
	writer := newWriter(t, ctx)

	registry := outbox.NewRegistry()
	mutation.Register(registry, writer)
	conn := outbox.NewConnectivityFlag(false)
	ob, err := outbox.New(ctx, memory.New(), registry,
		outbox.WithConnectivity(conn),
		outbox.WithIdentity(outbox.NewIdentityHolder("u1")),
	)
	require.NoError(t, err)

	res, err := mutation.UpdateProfile(ctx, ob, mutation.ProfileUpdate{DisplayName: "Ada"})
	require.NoError(t, err)
	require.True(t, res.Queued)
	res, err = mutation.UpdateProfile(ctx, ob, mutation.ProfileUpdate{DisplayName: "Ada Lovelace", Locale: "en-GB"})
	require.NoError(t, err)
	require.True(t, res.Queued)

	conn.SetOnline(true)
	flushed, err := ob.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, flushed.Succeeded)

	profile, err := writer.Profile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, mutation.ProfileUpdate{DisplayName: "Ada Lovelace", Locale: "en-GB"}, profile)

	pending, err := ob.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending.Count)
}
