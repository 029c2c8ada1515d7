package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	outbox "github.com/velmie/mutation-outbox"
	"github.com/velmie/mutation-outbox/cmd/internal/bootstrap"
	"github.com/velmie/mutation-outbox/config"
	"github.com/velmie/mutation-outbox/mutation"
	"github.com/velmie/mutation-outbox/netprobe"
	"github.com/velmie/mutation-outbox/prom"
	"github.com/velmie/mutation-outbox/remote/devserver"
	"github.com/velmie/mutation-outbox/tracing"
	"github.com/velmie/mutation-outbox/zaplog"
)

const shutdownTimeout = 5 * time.Second

// run wires and runs the daemon until ctx is done or a component fails. On every return path the
// background servers and the prober are stopped before run returns.
func run(ctx context.Context, cfg config.Config) error {
	zl, err := zaplog.Build(zaplog.Config{Env: cfg.Log.Env, Level: cfg.Log.Level, Service: "outboxd"})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zaplog.New(zl)

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			zl.Warn("flush traces", zap.Error(err))
		}
	}()

	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			zl.Warn("close store", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	if cfg.Remote.DevAddr != "" {
		dev := &http.Server{Addr: cfg.Remote.DevAddr, Handler: devserver.New(cfg.Remote.Token), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return serve(ctx, dev) })
		zl.Info("serving in-memory user service", zap.String("addr", cfg.Remote.DevAddr))
	}

	writer, closeWriter, err := bootstrap.OpenWriter(ctx, cfg.Remote)
	if err != nil {
		return fmt.Errorf("open remote: %w", err)
	}
	defer func() { _ = closeWriter() }()
	registry := outbox.NewRegistry()
	mutation.Register(registry, writer)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := prom.New(reg, "")
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	probeAddr, err := bootstrap.ProbeAddress(cfg)
	if err != nil {
		return err
	}
	prober, err := netprobe.New(netprobe.Config{Address: probeAddr, Interval: cfg.Probe.Interval, Logger: logger})
	if err != nil {
		return err
	}
	identity := outbox.NewIdentityHolder(cfg.ActorUID)

	opts := append(bootstrap.Options(cfg),
		outbox.WithLogger(logger),
		outbox.WithMetrics(metrics),
		outbox.WithConnectivity(prober),
		outbox.WithIdentity(identity),
	)
	ob, err := outbox.New(ctx, store, registry, opts...)
	if err != nil {
		return fmt.Errorf("init outbox: %w", err)
	}

	g.Go(func() error {
		if err := prober.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		return nil
	})
	if err := ob.Start(ctx); err != nil {
		return err
	}
	defer ob.Stop()

	if cfg.Metrics.Addr != "" {
		admin := &http.Server{Addr: cfg.Metrics.Addr, Handler: newAdminRouter(ob, identity, reg), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error { return serve(ctx, admin) })
		zl.Info("serving metrics and admin api", zap.String("addr", cfg.Metrics.Addr))
	}

	zl.Info("outboxd started",
		zap.String("store", cfg.Store.Driver),
		zap.String("remote", cfg.Remote.Driver),
		zap.String("probe", probeAddr),
		zap.String("actor", cfg.ActorUID),
		zap.Bool("tracing", cfg.Tracing.Endpoint != ""),
	)

	return g.Wait()
}

// serve runs srv until ctx is done, then shuts it down gracefully and waits for the listener to close.
func serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		<-errCh

		return err
	}
}
