// Package daemon wires the gateway together: persisted state, the network
// client registry, the transcript recorder, and the control server, under a
// single-instance file lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"ircgate/internal/client"
	"ircgate/internal/config"
	"ircgate/internal/control"
	"ircgate/internal/history"
	"ircgate/internal/logging"
	"ircgate/internal/registry"
	"ircgate/internal/state"
)

// Daemon owns the gateway runtime and enforces single-instance execution per
// state file.
type Daemon struct {
	settings *config.Config
	store    *state.Store
	registry *registry.Registry
	hist     *history.Store
	logger   *slog.Logger

	lockPath string
	lock     *flock.Flock

	recorder client.Recorder
	ready    chan net.Addr
}

// New constructs a daemon with initialized dependencies. hist may be nil
// when the transcript is disabled.
func New(settings *config.Config, store *state.Store, hist *history.Store, logger *slog.Logger) (*Daemon, error) {
	if settings == nil || store == nil {
		return nil, errors.New("daemon requires settings and state store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := store.Path() + ".lock"
	d := &Daemon{
		settings: settings,
		store:    store,
		registry: registry.New(),
		hist:     hist,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		ready:    make(chan net.Addr, 1),
	}
	if hist != nil {
		d.recorder = &transcriptRecorder{hist: hist, logger: d.logger}
	}
	return d, nil
}

// Registry exposes the live client registry, primarily for tests.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// Ready yields the bound control address once Run is serving.
func (d *Daemon) Ready() <-chan net.Addr {
	return d.ready
}

// NewNetworkClient implements control.Dialer: clients created by control
// sessions share the daemon's logger and transcript recorder.
func (d *Daemon) NewNetworkClient(name string, cfg state.Network) *client.Client {
	var opts []client.Option
	if d.recorder != nil {
		opts = append(opts, client.WithRecorder(d.recorder))
	}
	return client.New(name, cfg, d.logger, opts...)
}

// Run starts every configured network client and serves the control protocol
// until ctx is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", d.lockPath, err)
	}
	if !ok {
		return fmt.Errorf("another ircgate daemon is already running (lock %s held)", d.lockPath)
	}
	defer func() { _ = d.lock.Unlock() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for name, cfg := range d.store.Networks() {
		c := d.NewNetworkClient(name, cfg)
		d.registry.Add(c)
		c.Start(runCtx)
		d.logger.Info("connecting network",
			logging.String(logging.FieldNetwork, name),
			logging.String("addr", cfg.Addr()))
	}

	ctl := d.store.Control()
	addr := net.JoinHostPort(ctl.Host, strconv.Itoa(ctl.Port))
	srv, err := control.NewServer(runCtx, addr, d.store, d.registry, d, d.hist, d.logger)
	if err != nil {
		return fmt.Errorf("start control server: %w", err)
	}
	select {
	case d.ready <- srv.Addr():
	default:
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		srv.Close()
		d.shutdown()
		return nil
	})
	return g.Wait()
}

// shutdown closes every live network client.
func (d *Daemon) shutdown() {
	for _, c := range d.registry.All() {
		if err := c.Close(); err != nil {
			d.logger.Warn("close network client",
				logging.String(logging.FieldNetwork, c.Name()),
				logging.Error(err))
		}
	}
	d.logger.Info("daemon stopped")
}

// transcriptRecorder appends wire traffic to the history store. It never
// blocks or fails delivery; append errors are logged and dropped.
type transcriptRecorder struct {
	hist   *history.Store
	logger *slog.Logger
}

func (r *transcriptRecorder) RecordLine(network, direction, line string) {
	if err := r.hist.Append(context.Background(), network, direction, line); err != nil {
		r.logger.Warn("transcript append failed",
			logging.String(logging.FieldNetwork, network),
			logging.Error(err))
	}
}
