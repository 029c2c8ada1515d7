// Package bootstrap turns a config.Config into the collaborators shared by outboxd and outboxctl.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	gomysql "github.com/go-sql-driver/mysql"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/bolt"
	"github.com/velmie/mutation-outbox/config"
	"github.com/velmie/mutation-outbox/memory"
	"github.com/velmie/mutation-outbox/mutation"
	"github.com/velmie/mutation-outbox/mysql"
	"github.com/velmie/mutation-outbox/remote/httpapi"
	"github.com/velmie/mutation-outbox/sqlite"
)

// CloseFunc releases a resource opened by this package.
type CloseFunc func() error

func noClose() error { return nil }

// OpenStore opens the local queue selected by cfg.
func OpenStore(ctx context.Context, cfg config.Store) (outbox.Store, CloseFunc, error) {
	switch cfg.Driver {
	case config.DriverBolt:
		store, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}

		return store, store.Close, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, nil, err
		}

		return store, store.Close, nil
	case config.DriverMemory:
		return memory.New(), noClose, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown store driver %q", cfg.Driver)
	}
}

// OpenWriter connects the remote system of record selected by cfg. The mysql driver creates its
// tables when they are missing.
func OpenWriter(ctx context.Context, cfg config.Remote) (mutation.Writer, CloseFunc, error) {
	switch cfg.Driver {
	case config.RemoteHTTP, "":
		if cfg.BaseURL == "" {
			return nil, nil, errors.New("bootstrap: remote base url is required")
		}

		return httpapi.NewClient(cfg.BaseURL, cfg.Token, &http.Client{Timeout: cfg.Timeout}), noClose, nil
	case config.RemoteMySQL:
		db, err := sql.Open("mysql", cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: open mysql: %w", err)
		}
		writer, err := mysql.NewWriter(db)
		if err != nil {
			_ = db.Close()

			return nil, nil, err
		}
		if err := writer.EnsureSchema(ctx); err != nil {
			_ = db.Close()

			return nil, nil, err
		}

		return writer, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown remote driver %q", cfg.Driver)
	}
}

// ProbeAddress returns the host:port whose reachability stands for connectivity: Probe.Address when
// set, otherwise the address of the remote.
func ProbeAddress(cfg config.Config) (string, error) {
	if cfg.Probe.Address != "" {
		return cfg.Probe.Address, nil
	}

	switch cfg.Remote.Driver {
	case config.RemoteMySQL:
		dsn, err := gomysql.ParseDSN(cfg.Remote.DSN)
		if err != nil {
			return "", fmt.Errorf("bootstrap: parse dsn: %w", err)
		}
		if dsn.Net != "tcp" {
			return "", fmt.Errorf("bootstrap: cannot probe %s mysql address", dsn.Net)
		}

		return dsn.Addr, nil
	default:
		u, err := url.Parse(cfg.Remote.BaseURL)
		if err != nil {
			return "", fmt.Errorf("bootstrap: parse base url: %w", err)
		}
		if u.Host == "" {
			return "", fmt.Errorf("bootstrap: base url %q has no host", cfg.Remote.BaseURL)
		}
		if u.Port() != "" {
			return u.Host, nil
		}
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}

		return net.JoinHostPort(u.Hostname(), port), nil
	}
}

// Options maps the outbox section of cfg onto outbox options.
func Options(cfg config.Config) []outbox.Option {
	return []outbox.Option{
		outbox.WithFlushInterval(cfg.Outbox.FlushInterval),
		outbox.WithNudgeDelay(cfg.Outbox.NudgeDelay),
		outbox.WithApplyTimeout(cfg.Outbox.ApplyTimeout),
		outbox.WithBackoff(outbox.BackoffPolicy{Base: cfg.Outbox.BackoffBase, Max: cfg.Outbox.BackoffMax}),
	}
}
