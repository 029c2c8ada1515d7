package devserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/memory"
	"github.com/velmie/mutation-outbox/mutation"
	"github.com/velmie/mutation-outbox/remote/devserver"
	"github.com/velmie/mutation-outbox/remote/httpapi"
)

func TestRoundTripThroughClient(t *testing.T) {
	srv := devserver.New("tok")
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := httpapi.NewClient(ts.URL, "tok", nil)

	require.NoError(t, client.WriteProfile(context.Background(), "u1", mutation.ProfileUpdate{DisplayName: "Ada"}))
	got, ok := srv.Profile("u1")
	require.True(t, ok)
	assert.Equal(t, "Ada", got.DisplayName)

	resp, err := http.Get(ts.URL + "/v1/users/u1/profile")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRejectsInvalidDocument(t *testing.T) {
	srv := devserver.New("")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	err := httpapi.NewClient(ts.URL, "", nil).WriteNotificationPreferences(context.Background(), "u1",
		mutation.NotificationPreferences{Digest: "hourly"})
	require.Error(t, err)
	assert.True(t, outbox.IsPermanent(err))
	assert.Zero(t, srv.Writes())
}

// End to end: an outage queues the write, recovery drains it exactly once.
func TestOutboxSurvivesOutage(t *testing.T) {
	ctx := context.Background()
	srv := devserver.New("")
	ts := httptest.NewServer(srv)
	defer ts.Close()

	registry := outbox.NewRegistry()
	mutation.Register(registry, httpapi.NewClient(ts.URL, "", nil))
	o, err := outbox.New(ctx, memory.New(), registry, outbox.WithIdentity(outbox.NewIdentityHolder("u1")))
	require.NoError(t, err)

	srv.SetOffline(true)
	res, err := mutation.UpdateNotificationPreferences(ctx, o, mutation.NotificationPreferences{Email: true})
	require.NoError(t, err)
	require.True(t, res.Queued)
	res, err = mutation.UpdateNotificationPreferences(ctx, o, mutation.NotificationPreferences{SMS: true})
	require.NoError(t, err)
	require.True(t, res.Queued)

	srv.SetOffline(false)
	flushed, err := o.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, flushed.Succeeded)
	assert.Equal(t, 1, srv.Writes())

	prefs, ok := srv.Preferences("u1")
	require.True(t, ok)
	assert.Equal(t, mutation.NotificationPreferences{SMS: true}, prefs)
}

func TestInjectedFailures(t *testing.T) {
	srv := devserver.New("")
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := httpapi.NewClient(ts.URL, "", nil)
	srv.Fail(http.StatusTooManyRequests, http.StatusForbidden)

	err := client.WriteProfile(context.Background(), "u1", mutation.ProfileUpdate{DisplayName: "Ada"})
	assert.True(t, outbox.IsTransient(err))
	err = client.WriteProfile(context.Background(), "u1", mutation.ProfileUpdate{DisplayName: "Ada"})
	assert.True(t, outbox.IsPermanent(err))
	require.NoError(t, client.WriteProfile(context.Background(), "u1", mutation.ProfileUpdate{DisplayName: "Ada"}))
}
