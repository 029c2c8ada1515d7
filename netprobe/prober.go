// Package netprobe derives outbox connectivity from periodic TCP dials to the remote endpoint.
package netprobe

import (
	"context"
	"errors"
	"net"
	"time"

	outbox "github.com/velmie/mutation-outbox"
)

const (
	defaultInterval = 5 * time.Second
	defaultTimeout  = 2 * time.Second
)

// DialFunc opens a connection; *net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config configures a Prober.
type Config struct {
	// Address is the host:port probed with TCP.
	Address string
	// Interval between probes. Defaults to 5s.
	Interval time.Duration
	// Timeout of one dial. Defaults to 2s.
	Timeout time.Duration
	// Dial overrides the dialer, mainly for tests.
	Dial DialFunc
	// Logger receives state transitions.
	Logger outbox.Logger
}

// Prober implements outbox.Connectivity. It starts offline until the first successful probe.
type Prober struct {
	*outbox.ConnectivityFlag
	cfg Config
}

var _ outbox.Connectivity = (*Prober)(nil)

// New returns a Prober for cfg.Address.
func New(cfg Config) (*Prober, error) {
	if cfg.Address == "" {
		return nil, errors.New("netprobe: address is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Dial == nil {
		cfg.Dial = (&net.Dialer{}).DialContext
	}
	if cfg.Logger == nil {
		cfg.Logger = outbox.NopLogger{}
	}

	return &Prober{ConnectivityFlag: outbox.NewConnectivityFlag(false), cfg: cfg}, nil
}

// Probe dials once and records the result.
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	conn, err := p.cfg.Dial(ctx, "tcp", p.cfg.Address)
	online := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	if online != p.Online() {
		if online {
			p.cfg.Logger.Info("remote reachable", "address", p.cfg.Address)
		} else {
			p.cfg.Logger.Warn("remote unreachable", "address", p.cfg.Address, "err", err)
		}
	}
	p.SetOnline(online)

	return online
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
