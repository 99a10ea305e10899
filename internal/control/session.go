package control

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"ircgate/internal/history"
	"ircgate/internal/lineproto"
	"ircgate/internal/logging"
	"ircgate/internal/state"
)

// pushBuffer bounds the in-flight stream events one session can hold before
// fan-out blocks the publishing client. Delivery is never dropped.
const pushBuffer = 256

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type pushEvent struct {
	network string
	message string
}

// Session is one control-socket connection. Authentication happens per
// request; a single bad secret or malformed frame kills the whole session
// without a reply.
type Session struct {
	srv    *Server
	conn   net.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	push      chan pushEvent
	done      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	subscribed bool
}

func newSession(srv *Server, conn net.Conn) *Session {
	return &Session{
		srv:    srv,
		conn:   conn,
		logger: srv.logger.With(logging.String("peer", conn.RemoteAddr().String())),
		push:   make(chan pushEvent, pushBuffer),
		done:   make(chan struct{}),
	}
}

func (s *Session) run() {
	s.logger.Debug("control session opened")
	defer s.close()

	stop := context.AfterFunc(s.srv.ctx, s.close)
	defer stop()

	go s.pushLoop()

	var framer lineproto.Framer
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			for _, line := range framer.Feed(buf[:n]) {
				if frameErr := s.handleFrame(line); frameErr != nil {
					switch {
					case errors.Is(frameErr, errSessionClosed):
						s.logger.Debug("control session disconnected by request")
					case errors.Is(frameErr, errProtocol):
						s.logger.Warn("control session killed", logging.Error(frameErr))
					default:
						s.logger.Error("control dispatch failed", logging.Error(frameErr))
					}
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("control read failed", logging.Error(err))
			}
			return
		}
	}
}

// pushLoop serializes stream notifications onto the socket. Pushes and
// request responses share one write mutex, so ordering between them is
// first-come-first-served with no reordering buffer.
func (s *Session) pushLoop() {
	for {
		select {
		case ev := <-s.push:
			s.writeJSON(Notification{
				JSONRPC: jsonrpcVersion,
				Method:  "handler",
				Params:  handlerParams{Network: ev.network, Message: ev.message},
			})
		case <-s.done:
			return
		}
	}
}

// HandleLine implements client.Handler; it forwards a received IRC line into
// this session's push channel. It never delivers after teardown.
func (s *Session) HandleLine(network, message string) {
	select {
	case s.push <- pushEvent{network: network, message: message}:
	case <-s.done:
	}
}

// handleFrame dispatches one complete control line. A returned error ends
// the session; responses for valid frames are written before returning.
func (s *Session) handleFrame(line string) error {
	reqs, batch, err := decodeFrame(line)
	if err != nil {
		return err
	}

	if batch {
		responses := make([]*Response, 0, len(reqs))
		for _, req := range reqs {
			resp, dispatchErr := s.dispatch(req)
			if dispatchErr != nil {
				return dispatchErr
			}
			responses = append(responses, resp)
		}
		s.writeJSON(responses)
		return nil
	}

	resp, dispatchErr := s.dispatch(reqs[0])
	if dispatchErr != nil {
		return dispatchErr
	}
	s.writeJSON(resp)
	return nil
}

// dispatch authenticates and executes one request. A nil error with a
// non-nil response keeps the session alive; any error tears it down.
func (s *Session) dispatch(req Request) (*Response, error) {
	secret, ok := stringParam(req.Params, "secret")
	if !ok || secret != s.srv.secret() {
		return nil, errProtocol
	}

	switch req.Method {
	case "control.disconnect":
		return nil, errSessionClosed
	case "network.add":
		return s.networkAdd(req)
	case "network.delete":
		return s.networkDelete(req)
	case "network.get":
		return successResponse(req.ID, s.srv.store.Networks()), nil
	case "network.send":
		return s.networkSend(req)
	case "network.history":
		return s.networkHistory(req)
	case "stream.start":
		return s.streamStart(req)
	case "stream.stop":
		return s.streamStop(req)
	default:
		return nil, errProtocol
	}
}

func (s *Session) networkAdd(req Request) (*Response, error) {
	host, ok := stringParam(req.Params, "host")
	if !ok {
		return nil, errProtocol
	}
	name, ok := stringParam(req.Params, "name")
	if !ok || name == "" {
		return nil, errProtocol
	}
	nick, _ := stringParam(req.Params, "nick")
	user, _ := stringParam(req.Params, "user")
	realname, _ := stringParam(req.Params, "realname")

	cfg := state.Network{
		Host:     host,
		Port:     intParam(req.Params, "port", 6667),
		Nick:     nick,
		User:     user,
		Realname: realname,
		Channels: []string{},
	}

	// Persist before registering so no registry entry ever lacks a backing
	// config entry.
	if err := s.srv.store.SetNetwork(name, cfg); err != nil {
		return nil, err
	}

	c := s.srv.dialer.NewNetworkClient(name, cfg)
	if s.isSubscribed() {
		c.Subscribe(s)
	}
	s.srv.registry.Add(c)
	c.Start(s.srv.ctx)

	s.logger.Info("network added", logging.String(logging.FieldNetwork, name))
	return successResponse(req.ID, "success"), nil
}

func (s *Session) networkDelete(req Request) (*Response, error) {
	name, _ := stringParam(req.Params, "name")

	// Unregister before un-persisting so the config entry outlives the
	// registry entry, never the reverse.
	c, ok := s.srv.registry.Remove(name)
	if !ok {
		return errorResponse(req.ID, CodeUnknownNetworkDelete, unknownNetworkMessage("network.delete", name)), nil
	}
	_ = c.Close()
	if err := s.srv.store.DeleteNetwork(name); err != nil {
		return nil, err
	}

	s.logger.Info("network deleted", logging.String(logging.FieldNetwork, name))
	return successResponse(req.ID, "success"), nil
}

func (s *Session) networkSend(req Request) (*Response, error) {
	name, _ := stringParam(req.Params, "name")
	c, ok := s.srv.registry.Get(name)
	if !ok {
		return errorResponse(req.ID, CodeUnknownNetworkSend, unknownNetworkMessage("network.send", name)), nil
	}
	message, _ := stringParam(req.Params, "message")

	// JOIN/PART/NICK mutate the persisted document before the line goes out,
	// so a crash after the send never loses the membership change.
	if err := s.persistSendSideEffects(name, message); err != nil {
		return nil, err
	}

	if err := c.Send(message); err != nil {
		s.logger.Warn("network send failed",
			logging.String(logging.FieldNetwork, name),
			logging.Error(err))
	}
	return successResponse(req.ID, "success"), nil
}

func (s *Session) persistSendSideEffects(name, message string) error {
	fields := strings.Fields(message)
	if len(fields) < 2 {
		return nil
	}
	switch strings.ToLower(fields[0]) {
	case "join":
		_, err := s.srv.store.AddChannels(name, strings.Split(fields[1], ","))
		return err
	case "part":
		_, err := s.srv.store.RemoveChannels(name, strings.Split(fields[1], ","))
		return err
	case "nick":
		_, err := s.srv.store.SetNick(name, fields[1])
		return err
	}
	return nil
}

func (s *Session) networkHistory(req Request) (*Response, error) {
	name, _ := stringParam(req.Params, "name")
	if _, ok := s.srv.registry.Get(name); !ok {
		return errorResponse(req.ID, CodeUnknownNetworkHistory, unknownNetworkMessage("network.history", name)), nil
	}
	if s.srv.hist == nil {
		return errorResponse(req.ID, CodeHistoryDisabled, "network.history: history disabled"), nil
	}

	limit := intParam(req.Params, "limit", defaultHistoryLimit)
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	entries, err := s.srv.hist.Tail(s.srv.ctx, name, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return successResponse(req.ID, entries), nil
}

func (s *Session) streamStart(req Request) (*Response, error) {
	s.setSubscribed(true)
	for _, c := range s.srv.registry.All() {
		c.Subscribe(s)
	}
	s.logger.Debug("stream started")
	return successResponse(req.ID, "success"), nil
}

func (s *Session) streamStop(req Request) (*Response, error) {
	s.setSubscribed(false)
	for _, c := range s.srv.registry.All() {
		c.Unsubscribe(s)
	}
	s.logger.Debug("stream stopped")
	return successResponse(req.ID, "success"), nil
}

func (s *Session) isSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

func (s *Session) setSubscribed(v bool) {
	s.mu.Lock()
	s.subscribed = v
	s.mu.Unlock()
}

func (s *Session) writeJSON(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode control response", logging.Error(err))
		return
	}
	raw = append(raw, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.conn.Write(raw); err != nil {
		s.logger.Debug("control write failed", logging.Error(err))
	}
}

// close tears the session down: every client subscription is removed so no
// dangling handler can deliver into a dead session.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		for _, c := range s.srv.registry.All() {
			c.Unsubscribe(s)
		}
		close(s.done)
		_ = s.conn.Close()
		s.logger.Debug("control session closed")
	})
}
