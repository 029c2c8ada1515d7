package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velmie/mutation-outbox/bolt"
	"github.com/velmie/mutation-outbox/config"
	"github.com/velmie/mutation-outbox/memory"
	"github.com/velmie/mutation-outbox/remote/httpapi"
	"github.com/velmie/mutation-outbox/sqlite"
)

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cases := []struct {
		cfg  config.Store
		want any
	}{
		{config.Store{Driver: config.DriverBolt, Path: filepath.Join(dir, "outbox.db")}, &bolt.Store{}},
		{config.Store{Driver: config.DriverSQLite, Path: filepath.Join(dir, "outbox.sqlite")}, &sqlite.Store{}},
		{config.Store{Driver: config.DriverMemory}, &memory.Store{}},
	}
	for _, tc := range cases {
		t.Run(tc.cfg.Driver, func(t *testing.T) {
			store, closeFn, err := OpenStore(ctx, tc.cfg)
			require.NoError(t, err)
			assert.IsType(t, tc.want, store)
			require.NoError(t, closeFn())
		})
	}

	_, _, err := OpenStore(ctx, config.Store{Driver: "etcd"})
	require.ErrorContains(t, err, "unknown store driver")
}

func TestOpenWriterHTTP(t *testing.T) {
	writer, closeFn, err := OpenWriter(context.Background(), config.Remote{Driver: config.RemoteHTTP, BaseURL: "http://users.internal"})
	require.NoError(t, err)
	assert.IsType(t, &httpapi.Client{}, writer)
	require.NoError(t, closeFn())

	_, _, err = OpenWriter(context.Background(), config.Remote{Driver: config.RemoteHTTP})
	require.ErrorContains(t, err, "base url is required")
}

func TestProbeAddress(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"explicit", config.Config{Probe: config.Probe{Address: "10.0.0.1:53"}}, "10.0.0.1:53"},
		{"http port", config.Config{Remote: config.Remote{BaseURL: "http://127.0.0.1:9090/api"}}, "127.0.0.1:9090"},
		{"https default", config.Config{Remote: config.Remote{BaseURL: "https://users.internal"}}, "users.internal:443"},
		{"http default", config.Config{Remote: config.Remote{BaseURL: "http://users.internal"}}, "users.internal:80"},
		{"mysql", config.Config{Remote: config.Remote{
			Driver: config.RemoteMySQL,
			DSN:    "root:secret@tcp(db.internal:3306)/users?parseTime=true",
		}}, "db.internal:3306"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ProbeAddress(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := ProbeAddress(config.Config{Remote: config.Remote{BaseURL: "/relative"}})
	require.Error(t, err)
}
