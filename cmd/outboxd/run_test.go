package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/velmie/mutation-outbox/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return addr
}

func TestRunReleasesDevServerOnStartupError(t *testing.T) {
	devAddr := freeAddr(t)
	cfg := config.Config{
		Store:  config.Store{Driver: config.DriverMemory},
		Remote: config.Remote{Driver: config.RemoteHTTP, BaseURL: "users-service", DevAddr: devAddr},
		Probe:  config.Probe{Interval: time.Second},
		Log:    config.Log{Level: "error"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := run(ctx, cfg)
	require.ErrorContains(t, err, "has no host")
	require.NoError(t, ctx.Err(), "run must fail fast instead of waiting for the parent context")

	ln, err := net.Listen("tcp", devAddr)
	require.NoError(t, err, "the dev server must be shut down when run returns")
	require.NoError(t, ln.Close())
}
