package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/mutation"
	"github.com/velmie/mutation-outbox/remote/devserver"
)

type harness struct {
	configPath string
	server     *devserver.Server
}

func newHarness(t *testing.T, driver string) harness {
	t.Helper()
	srv := devserver.New("tok")
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`store:
  driver: %s
  path: %s
remote:
  base_url: %s
  token: tok
log:
  level: error
`, driver, filepath.Join(dir, "outbox."+driver), ts.URL)
	path := filepath.Join(dir, "outbox.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	return harness{configPath: path, server: srv}
}

func (h harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append(args, "--config", h.configPath))
	err := cmd.Execute()

	return out.String(), err
}

func (h harness) records(t *testing.T, args ...string) []outbox.Record {
	t.Helper()
	out, err := h.run(t, append(args, "--out", "json")...)
	require.NoError(t, err)
	var records []outbox.Record
	require.NoError(t, json.Unmarshal([]byte(out), &records))

	return records
}

func TestEnqueueListFlush(t *testing.T) {
	for _, driver := range []string{"bolt", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			h := newHarness(t, driver)

			_, err := h.run(t, "enqueue", "preferences", "--actor", "u1", "--email")
			require.NoError(t, err)
			_, err = h.run(t, "enqueue", "preferences", "--actor", "u1", "--sms", "--digest", "daily")
			require.NoError(t, err)

			records := h.records(t, "list", "--actor", "u1")
			require.Len(t, records, 1)
			assert.Equal(t, mutation.TypeNotificationPreferences, records[0].Type)
			assert.JSONEq(t, `{"email":false,"sms":true,"push":false,"digest":"daily"}`, string(records[0].Payload))

			out, err := h.run(t, "flush", "--actor", "u1", "--out", "json")
			require.NoError(t, err)
			var res outbox.FlushResult
			require.NoError(t, json.Unmarshal([]byte(out), &res))
			assert.Equal(t, 1, res.Succeeded)

			prefs, ok := h.server.Preferences("u1")
			require.True(t, ok)
			assert.Equal(t, mutation.NotificationPreferences{SMS: true, Digest: mutation.DigestDaily}, prefs)
			assert.Empty(t, h.records(t, "list", "--actor", "u1"))

			out, err = h.run(t, "telemetry", "--out", "json")
			require.NoError(t, err)
			var tel outbox.Telemetry
			require.NoError(t, json.Unmarshal([]byte(out), &tel))
			assert.EqualValues(t, 2, tel.Enqueued)
			assert.EqualValues(t, 1, tel.FlushedSucceeded)

			_, err = h.run(t, "reset-telemetry", "--actor", "u1")
			require.NoError(t, err)
			out, err = h.run(t, "telemetry", "--out", "json")
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal([]byte(out), &tel))
			assert.Zero(t, tel.Enqueued)
			assert.Empty(t, tel.Events)
		})
	}
}

func TestFlushKeepsRecordWhileRemoteIsDown(t *testing.T) {
	h := newHarness(t, "bolt")
	h.server.SetOffline(true)

	_, err := h.run(t, "enqueue", "profile", "--actor", "u1", "--display-name", "Ada")
	require.NoError(t, err)
	out, err := h.run(t, "flush", "--actor", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "retried=1")

	records := h.records(t, "list", "--actor", "u1")
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Attempts)
	assert.Contains(t, records[0].LastError, "503")

	assert.Empty(t, h.records(t, "due"))
	assert.Len(t, h.records(t, "due", "--at", time.Now().Add(time.Hour).Format(time.RFC3339)), 1)
}

func TestPurge(t *testing.T) {
	h := newHarness(t, "bolt")
	_, err := h.run(t, "enqueue", "profile", "--actor", "u1", "--display-name", "Ada")
	require.NoError(t, err)
	_, err = h.run(t, "enqueue", "profile", "--actor", "u2", "--display-name", "Grace")
	require.NoError(t, err)

	out, err := h.run(t, "purge", "--actor", "u1")
	require.NoError(t, err)
	assert.Equal(t, "removed=1", strings.TrimSpace(out))
	assert.Empty(t, h.records(t, "list", "--actor", "u1"))
	assert.Len(t, h.records(t, "list", "--actor", "u2"), 1)
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t, "bolt")

	_, err := h.run(t, "list")
	require.ErrorContains(t, err, "an actor is required")

	_, err = h.run(t, "enqueue", "preferences", "--actor", "u1", "--digest", "hourly")
	require.ErrorIs(t, err, mutation.ErrInvalidDigest)

	_, err = h.run(t, "list", "--actor", "u1", "--out", "yaml")
	require.ErrorContains(t, err, "--out must be text or json")
}
