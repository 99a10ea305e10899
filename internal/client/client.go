// Package client implements the per-network IRC connection: the NICK/USER
// handshake, keepalive autoresponses, and fan-out of received lines to
// subscribed handlers.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"ircgate/internal/ircwire"
	"ircgate/internal/lineproto"
	"ircgate/internal/logging"
	"ircgate/internal/state"
)

// Handler receives every decoded line a client reads, before any autoresponse
// logic runs. Implementations must be comparable; the subscriber set is keyed
// on identity so subscribe/unsubscribe are idempotent.
type Handler interface {
	HandleLine(network, line string)
}

// Recorder observes wire traffic for transcript purposes. It must never
// block delivery; failures are the recorder's problem.
type Recorder interface {
	RecordLine(network, direction, line string)
}

// Transcript directions.
const (
	DirIn  = "in"
	DirOut = "out"
)

// State tracks the connection lifecycle.
type State int

const (
	StateConnecting State = iota
	StateRegistering
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistering:
		return "registering"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Client owns one IRC network connection. It holds a snapshot of the network
// configuration taken at construction; later persisted mutations do not
// affect a live connection.
type Client struct {
	name   string
	cfg    state.Network
	logger *slog.Logger

	recorder Recorder

	mu      sync.Mutex
	conn    net.Conn
	st      State
	subs    map[Handler]struct{}
	writeMu sync.Mutex
}

// Option customizes client construction.
type Option func(*Client)

// WithRecorder attaches a transcript recorder to the client.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New constructs an unconnected client for the named network.
func New(name string, cfg state.Network, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		name:   name,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "client").With(logging.String(logging.FieldNetwork, name)),
		st:     StateConnecting,
		subs:   make(map[Handler]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the network name this client serves.
func (c *Client) Name() string {
	return c.name
}

// Config returns the configuration snapshot the client was built with.
func (c *Client) Config() state.Network {
	return c.cfg
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}

// Subscribe adds h to the subscriber set. Subscribing an already-present
// handler is a no-op.
func (c *Client) Subscribe(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[h] = struct{}{}
}

// Unsubscribe removes h from the subscriber set. Removing an absent handler
// is a no-op.
func (c *Client) Unsubscribe(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, h)
}

// Start dials the network and runs the connection in a background goroutine.
// Dial and read failures are logged and leave the client disconnected; no
// reconnection is attempted.
func (c *Client) Start(ctx context.Context) {
	go func() {
		if err := c.run(ctx); err != nil {
			c.logger.Error("connection ended", logging.Error(err))
		}
	}()
}

func (c *Client) run(ctx context.Context) error {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial %s: %w", c.cfg.Addr(), err)
	}

	c.mu.Lock()
	if c.st == StateDisconnected {
		// Closed while the dial was in flight.
		c.mu.Unlock()
		conn.Close()
		return nil
	}
	c.conn = conn
	c.st = StateRegistering
	c.mu.Unlock()

	c.logger.Debug("connected", logging.String("remote", conn.RemoteAddr().String()))
	c.register()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	return c.readLoop(conn)
}

// register emits the NICK/USER handshake from the configuration snapshot.
func (c *Client) register() {
	_ = c.Send("NICK " + c.cfg.Nick)
	_ = c.Send(fmt.Sprintf("USER %s %s x :%s", c.cfg.User, c.cfg.Host, c.cfg.Realname))
}

func (c *Client) readLoop(conn net.Conn) error {
	var framer lineproto.Framer
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, raw := range framer.Feed(buf[:n]) {
				if lineErr := c.handleLine([]byte(raw)); lineErr != nil {
					c.teardown()
					return lineErr
				}
			}
		}
		if err != nil {
			c.teardown()
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// handleLine decodes one raw line, fans it out to every subscriber, and then
// evaluates autoresponses. Subscribers always observe the raw protocol text;
// a decode failure is fatal to the connection.
func (c *Client) handleLine(raw []byte) error {
	line, err := ircwire.Decode(raw)
	if err != nil {
		c.logger.Error("undecodable line", logging.Error(err))
		return err
	}
	c.logger.Debug("recv", logging.String("line", line))

	if c.recorder != nil {
		c.recorder.RecordLine(c.name, DirIn, line)
	}

	for _, h := range c.snapshotSubs() {
		h.HandleLine(c.name, line)
	}

	tokens := strings.Fields(line)
	switch {
	case len(tokens) >= 2 && tokens[0] == "PING":
		_ = c.Send("PONG " + tokens[1])
	case len(tokens) >= 2 && tokens[1] == "376":
		if c.markReady() {
			c.joinSavedChannels()
		}
	}
	return nil
}

func (c *Client) snapshotSubs() []Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Handler, 0, len(c.subs))
	for h := range c.subs {
		out = append(out, h)
	}
	return out
}

// markReady reports whether this call performed the Registering→Ready
// transition. A repeated end-of-MOTD must not re-run the join sequence.
func (c *Client) markReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != StateRegistering {
		return false
	}
	c.st = StateReady
	return true
}

// joinSavedChannels emits one JOIN per channel in the configuration
// snapshot. The channel set is unordered; only exactly-once emission is
// guaranteed.
func (c *Client) joinSavedChannels() {
	for _, channel := range c.cfg.Channels {
		_ = c.Send("JOIN " + channel)
	}
}

// Send writes one line to the network with CRLF appended. An empty line is
// silently dropped so command handlers can pass through "nothing to send".
func (c *Client) Send(line string) error {
	if line == "" {
		return nil
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("network %s: not connected", c.name)
	}

	c.logger.Debug("send", logging.String("line", line))
	if c.recorder != nil {
		c.recorder.RecordLine(c.name, DirOut, line)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
		return fmt.Errorf("write to %s: %w", c.name, err)
	}
	return nil
}

func (c *Client) setState(st State) {
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
}

func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	alreadyDown := c.st == StateDisconnected
	c.st = StateDisconnected
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if !alreadyDown {
		c.logger.Debug("disconnected")
	}
}

// Close tears down the transport. The client object may outlive the socket
// briefly while its read loop unwinds.
func (c *Client) Close() error {
	c.teardown()
	return nil
}
