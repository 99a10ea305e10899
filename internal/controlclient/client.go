// Package controlclient implements the client side of the gateway control
// protocol for the CLI: line-delimited JSON-RPC requests with the shared
// secret injected per request, plus draining of interleaved stream pushes.
package controlclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"ircgate/internal/history"
	"ircgate/internal/state"
)

const dialTimeout = 5 * time.Second

// callTimeout bounds one request/response round trip. Pushes arriving in
// between do not count against it; they are buffered for NextEvent.
const callTimeout = 5 * time.Second

// RPCError is a structured error envelope returned by the daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("control error %d: %s", e.Code, e.Message)
}

// Event is one stream push: a raw line received from a network.
type Event struct {
	Network string `json:"network"`
	Message string `json:"message"`
}

// Client is one control session. It is not safe for concurrent use; the CLI
// issues one call at a time.
type Client struct {
	conn    net.Conn
	r       *bufio.Reader
	secret  string
	id      int64
	pending []Event
	partial []byte
}

// Dial connects to the control endpoint at addr.
func Dial(addr, secret string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial control endpoint %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn), secret: secret}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (c *Client) call(method string, params map[string]any, result any) error {
	if params == nil {
		params = map[string]any{}
	}
	params["secret"] = c.secret
	c.id++

	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	raw = append(raw, '\n')
	if _, err := c.conn.Write(raw); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	deadline := time.Now().Add(callTimeout)
	for {
		resp, err := c.readMessage(deadline)
		if err != nil {
			return err
		}
		if resp.Method == "handler" {
			c.bufferEvent(resp)
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("decode result: %w", err)
			}
		}
		return nil
	}
}

func (c *Client) readMessage(deadline time.Time) (*wireResponse, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	line, err := c.r.ReadBytes('\n')
	if err != nil {
		// A deadline can expire mid-line; keep what arrived so the next
		// read resumes the same frame instead of corrupting the stream.
		c.partial = append(c.partial, line...)
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(c.partial) > 0 {
		line = append(c.partial, line...)
		c.partial = nil
	}
	var resp wireResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (c *Client) bufferEvent(resp *wireResponse) {
	var ev Event
	if err := json.Unmarshal(resp.Params, &ev); err == nil {
		c.pending = append(c.pending, ev)
	}
}

// Networks returns the full persisted network mapping.
func (c *Client) Networks() (map[string]state.Network, error) {
	var out map[string]state.Network
	if err := c.call("network.get", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Add registers, persists, and connects a new network.
func (c *Client) Add(name, host string, port int, nick, user, realname string) error {
	return c.call("network.add", map[string]any{
		"name": name, "host": host, "port": port,
		"nick": nick, "user": user, "realname": realname,
	}, nil)
}

// Delete disconnects and forgets a network.
func (c *Client) Delete(name string) error {
	return c.call("network.delete", map[string]any{"name": name}, nil)
}

// Send writes one raw line to the named network.
func (c *Client) Send(name, message string) error {
	return c.call("network.send", map[string]any{"name": name, "message": message}, nil)
}

// History returns the most recent transcript entries for a network.
func (c *Client) History(name string, limit int) ([]history.Entry, error) {
	var out []history.Entry
	if err := c.call("network.history", map[string]any{"name": name, "limit": limit}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StreamStart subscribes this session to every registered network.
func (c *Client) StreamStart() error {
	return c.call("stream.start", nil, nil)
}

// StreamStop unsubscribes this session from every registered network.
func (c *Client) StreamStop() error {
	return c.call("stream.stop", nil, nil)
}

// Disconnect asks the daemon to close this session. The protocol sends no
// reply; the connection simply closes.
func (c *Client) Disconnect() error {
	c.id++
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      c.id,
		"method":  "control.disconnect",
		"params":  map[string]any{"secret": c.secret},
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if _, err := c.conn.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return c.conn.Close()
}

// NextEvent returns the next stream push, waiting up to timeout. A zero
// timeout waits forever.
func (c *Client) NextEvent(timeout time.Duration) (Event, error) {
	if len(c.pending) > 0 {
		ev := c.pending[0]
		c.pending = c.pending[1:]
		return ev, nil
	}

	deadline := time.Time{}
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		resp, err := c.readMessage(deadline)
		if err != nil {
			return Event{}, err
		}
		if resp.Method != "handler" {
			continue
		}
		var ev Event
		if err := json.Unmarshal(resp.Params, &ev); err != nil {
			return Event{}, fmt.Errorf("decode push: %w", err)
		}
		return ev, nil
	}
}
