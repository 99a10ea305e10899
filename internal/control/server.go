// Package control serves the gateway's management protocol: line-delimited
// JSON-RPC over TCP, with per-request secret authentication, batch dispatch,
// and unsolicited stream pushes of received IRC lines.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"ircgate/internal/client"
	"ircgate/internal/history"
	"ircgate/internal/logging"
	"ircgate/internal/registry"
	"ircgate/internal/state"
)

// Dialer builds network clients on behalf of control sessions. The daemon
// implements it so new clients pick up the daemon's logger and recorder.
type Dialer interface {
	NewNetworkClient(name string, cfg state.Network) *client.Client
}

// Server accepts control connections and runs one Session per connection.
type Server struct {
	store    *state.Store
	registry *registry.Registry
	dialer   Dialer
	hist     *history.Store
	logger   *slog.Logger

	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds the control listener at addr. A nil history store disables
// the network.history method.
func NewServer(ctx context.Context, addr string, store *state.Store, reg *registry.Registry, dialer Dialer, hist *history.Store, logger *slog.Logger) (*Server, error) {
	if store == nil || reg == nil || dialer == nil {
		return nil, errors.New("control server requires state store, registry, and dialer")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		store:    store,
		registry: reg,
		dialer:   dialer,
		hist:     hist,
		logger:   logging.NewComponentLogger(logger, "control"),
		listener: listener,
		ctx:      serverCtx,
		cancel:   cancel,
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts control connections until the server is closed. It returns
// nil once the listener shuts down.
func (s *Server) Serve() error {
	s.logger.Info("control listener ready", logging.String("addr", s.listener.Addr().String()))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("accept failed", logging.Error(err))
			continue
		}

		sess := newSession(s, conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()
	}
}

// Close stops accepting, tears down the listener, and waits for every
// session to finish.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.wg.Wait()
}

// secret returns the currently configured control secret.
func (s *Server) secret() string {
	return s.store.Control().Secret
}
