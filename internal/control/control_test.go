package control_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"ircgate/internal/client"
	"ircgate/internal/control"
	"ircgate/internal/history"
	"ircgate/internal/logging"
	"ircgate/internal/registry"
	"ircgate/internal/state"
	"ircgate/internal/testsupport"
)

// fakeIRC accepts IRC connections from clients the control server spawns.
type fakeIRC struct {
	t     *testing.T
	ln    net.Listener
	conns chan *ircConn
}

type ircConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func startFakeIRC(t *testing.T) *fakeIRC {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeIRC{t: t, ln: ln, conns: make(chan *ircConn, 8)}
	go func() {
		for {
			conn, acceptErr := ln.Accept()
			if acceptErr != nil {
				return
			}
			f.conns <- &ircConn{t: t, conn: conn, r: bufio.NewReader(conn)}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeIRC) hostPort() (string, int) {
	tcp := f.ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", tcp.Port
}

func (f *fakeIRC) waitConn() *ircConn {
	f.t.Helper()
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		f.t.Fatal("no IRC connection arrived")
		return nil
	}
}

func (c *ircConn) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("irc read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *ircConn) writeLine(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatalf("irc write: %v", err)
	}
}

// testDialer builds clients the way the daemon would, optionally recording
// traffic into a history store.
type testDialer struct {
	recorder client.Recorder
}

func (d *testDialer) NewNetworkClient(name string, cfg state.Network) *client.Client {
	var opts []client.Option
	if d.recorder != nil {
		opts = append(opts, client.WithRecorder(d.recorder))
	}
	return client.New(name, cfg, logging.NewNop(), opts...)
}

type histRecorder struct {
	hist *history.Store
}

func (r histRecorder) RecordLine(network, direction, line string) {
	_ = r.hist.Append(context.Background(), network, direction, line)
}

type harness struct {
	t     *testing.T
	store *state.Store
	reg   *registry.Registry
	srv   *control.Server
	irc   *fakeIRC
}

type harnessOption func(*testDialer, *harnessConfig)

type harnessConfig struct {
	hist *history.Store
}

func withHistory(t *testing.T) harnessOption {
	return func(d *testDialer, cfg *harnessConfig) {
		hist, err := history.Open(t.TempDir() + "/history.db")
		if err != nil {
			t.Fatalf("open history: %v", err)
		}
		t.Cleanup(func() { hist.Close() })
		cfg.hist = hist
		d.recorder = histRecorder{hist: hist}
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	st := testsupport.NewStateStore(t, testsupport.StateDoc())
	reg := registry.New()

	dialer := &testDialer{}
	var cfg harnessConfig
	for _, opt := range opts {
		opt(dialer, &cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv, err := control.NewServer(ctx, "127.0.0.1:0", st, reg, dialer, cfg.hist, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	go srv.Serve() //nolint:errcheck
	t.Cleanup(srv.Close)

	return &harness{t: t, store: st, reg: reg, srv: srv, irc: startFakeIRC(t)}
}

// addNetwork registers a network backed by the fake IRC server and consumes
// its handshake.
func (h *harness) addNetwork(ctl *ctlConn, name string) *ircConn {
	h.t.Helper()
	host, port := h.irc.hostPort()
	resp := ctl.request("network.add", map[string]any{
		"name": name, "host": host, "port": port,
		"nick": "alice", "user": "alice", "realname": "Alice",
	})
	if resp["result"] != "success" {
		h.t.Fatalf("network.add failed: %v", resp)
	}
	conn := h.irc.waitConn()
	conn.readLine() // NICK
	conn.readLine() // USER
	return conn
}

// ctlConn is a raw control-protocol client for tests.
type ctlConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	id   int
}

func (h *harness) dial() *ctlConn {
	h.t.Helper()
	conn, err := net.Dial("tcp", h.srv.Addr().String())
	if err != nil {
		h.t.Fatalf("dial control: %v", err)
	}
	h.t.Cleanup(func() { conn.Close() })
	return &ctlConn{t: h.t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *ctlConn) writeLine(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("control write: %v", err)
	}
}

func (c *ctlConn) readLine() string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("control read: %v", err)
	}
	return strings.TrimRight(line, "\n")
}

// request performs one round trip, skipping any interleaved pushes.
func (c *ctlConn) request(method string, params map[string]any) map[string]any {
	c.t.Helper()
	c.id++
	if params == nil {
		params = map[string]any{}
	}
	if _, ok := params["secret"]; !ok {
		params["secret"] = testsupport.Secret
	}
	raw, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": c.id, "method": method, "params": params,
	})
	if err != nil {
		c.t.Fatalf("encode request: %v", err)
	}
	c.writeLine(string(raw))

	for {
		var msg map[string]any
		line := c.readLine()
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			c.t.Fatalf("decode response %q: %v", line, err)
		}
		if msg["method"] == "handler" {
			continue
		}
		return msg
	}
}

// waitPush reads lines until a handler notification arrives.
func (c *ctlConn) waitPush() map[string]any {
	c.t.Helper()
	for {
		var msg map[string]any
		line := c.readLine()
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			c.t.Fatalf("decode push %q: %v", line, err)
		}
		if msg["method"] == "handler" {
			return msg
		}
	}
}

// expectClosed asserts the server hung up without writing anything.
func (c *ctlConn) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := io.ReadAll(c.r)
	if err != nil {
		c.t.Fatalf("expected clean close, got read error: %v", err)
	}
	if len(data) != 0 {
		c.t.Fatalf("expected no bytes before close, got %q", data)
	}
}

func TestBadSecretDisconnectsWithoutResponse(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	ctl.writeLine(`{"jsonrpc":"2.0","id":1,"method":"network.get","params":{"secret":"wrong"}}`)
	ctl.expectClosed()
}

func TestProtocolViolationsDisconnect(t *testing.T) {
	cases := map[string]string{
		"invalid json":    `{not json`,
		"scalar":          `42`,
		"string":          `"hi"`,
		"missing version": fmt.Sprintf(`{"id":1,"method":"network.get","params":{"secret":%q}}`, testsupport.Secret),
		"wrong version":   fmt.Sprintf(`{"jsonrpc":"1.0","id":1,"method":"network.get","params":{"secret":%q}}`, testsupport.Secret),
		"missing method":  fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"params":{"secret":%q}}`, testsupport.Secret),
		"params array":    `{"jsonrpc":"2.0","id":1,"method":"network.get","params":[]}`,
		"missing params":  `{"jsonrpc":"2.0","id":1,"method":"network.get"}`,
		"unknown method":  fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"no.such","params":{"secret":%q}}`, testsupport.Secret),
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			ctl := h.dial()
			ctl.writeLine(line)
			ctl.expectClosed()
		})
	}
}

func TestControlDisconnect(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	ctl.writeLine(fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"control.disconnect","params":{"secret":%q}}`, testsupport.Secret))
	ctl.expectClosed()
}

func TestNetworkAddGetRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	h.addNetwork(ctl, "testnet")

	resp := ctl.request("network.get", nil)
	if resp["jsonrpc"] != "2.0" {
		t.Fatalf("missing jsonrpc version: %v", resp)
	}
	if resp["id"] != float64(2) {
		t.Fatalf("id not echoed: %v", resp["id"])
	}
	result, ok := resp["result"].(map[string]any)
	if !ok {
		t.Fatalf("result not a mapping: %v", resp)
	}
	net, ok := result["testnet"].(map[string]any)
	if !ok {
		t.Fatalf("added network missing from mapping: %v", result)
	}
	channels, ok := net["channels"].([]any)
	if !ok || len(channels) != 0 {
		t.Fatalf("expected empty channel set, got %v", net["channels"])
	}
	if net["nick"] != "alice" {
		t.Fatalf("unexpected nick: %v", net["nick"])
	}
}

func TestNetworkDeleteUnknownLeavesStateIntact(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	h.addNetwork(ctl, "keepme")

	resp := ctl.request("network.delete", map[string]any{"name": "x"})
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected error envelope, got %v", resp)
	}
	if errObj["code"] != float64(-32002) {
		t.Fatalf("expected -32002, got %v", errObj["code"])
	}
	if !strings.Contains(errObj["message"].(string), "network.delete: unknown network") {
		t.Fatalf("unexpected message: %v", errObj["message"])
	}

	// Session survives and state is untouched.
	if h.reg.Len() != 1 {
		t.Fatalf("registry changed: %d entries", h.reg.Len())
	}
	if _, ok := h.store.Network("keepme"); !ok {
		t.Fatal("persisted config changed")
	}
	follow := ctl.request("network.get", nil)
	if follow["result"] == nil {
		t.Fatalf("session did not survive application error: %v", follow)
	}
}

func TestNetworkDeleteRemovesClientAndConfig(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	h.addNetwork(ctl, "gone")

	resp := ctl.request("network.delete", map[string]any{"name": "gone"})
	if resp["result"] != "success" {
		t.Fatalf("delete failed: %v", resp)
	}
	if h.reg.Len() != 0 {
		t.Fatal("client still registered")
	}
	if _, ok := h.store.Network("gone"); ok {
		t.Fatal("config entry still persisted")
	}
}

func TestNetworkSendJoinUpdatesChannelsBeforeSending(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	irc := h.addNetwork(ctl, "n")

	resp := ctl.request("network.send", map[string]any{"name": "n", "message": "JOIN #a,#b"})
	if resp["result"] != "success" {
		t.Fatalf("send failed: %v", resp)
	}
	if got := irc.readLine(); got != "JOIN #a,#b" {
		t.Fatalf("line not sent verbatim: %q", got)
	}
	net, _ := h.store.Network("n")
	if !reflect.DeepEqual(net.Channels, []string{"#a", "#b"}) {
		t.Fatalf("channels not persisted: %q", net.Channels)
	}
}

func TestNetworkSendPartRemovesChannel(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	irc := h.addNetwork(ctl, "n")

	ctl.request("network.send", map[string]any{"name": "n", "message": "JOIN #a,#b"})
	irc.readLine()
	ctl.request("network.send", map[string]any{"name": "n", "message": "PART #a"})
	if got := irc.readLine(); got != "PART #a" {
		t.Fatalf("unexpected line: %q", got)
	}
	net, _ := h.store.Network("n")
	if !reflect.DeepEqual(net.Channels, []string{"#b"}) {
		t.Fatalf("channels after part: %q", net.Channels)
	}
}

func TestNetworkSendNickPersists(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	irc := h.addNetwork(ctl, "n")

	ctl.request("network.send", map[string]any{"name": "n", "message": "nick bob"})
	if got := irc.readLine(); got != "nick bob" {
		t.Fatalf("unexpected line: %q", got)
	}
	net, _ := h.store.Network("n")
	if net.Nick != "bob" {
		t.Fatalf("nick not persisted: %q", net.Nick)
	}
}

func TestNetworkSendUnknown(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	resp := ctl.request("network.send", map[string]any{"name": "ghost", "message": "hi"})
	errObj, ok := resp["error"].(map[string]any)
	if !ok || errObj["code"] != float64(-32001) {
		t.Fatalf("expected -32001, got %v", resp)
	}
}

func TestStreamStartDeliversPushes(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	irc := h.addNetwork(ctl, "n")

	ctl.request("stream.start", nil)
	irc.writeLine("PING :srv")

	push := ctl.waitPush()
	params := push["params"].(map[string]any)
	if params["network"] != "n" {
		t.Fatalf("push network: %v", params["network"])
	}
	if params["message"] != "PING :srv" {
		t.Fatalf("push message: %v", params["message"])
	}
	if _, hasID := push["id"]; hasID {
		t.Fatalf("push must not carry an id: %v", push)
	}
	// Autoresponse still ran after fan-out.
	if got := irc.readLine(); got != "PONG :srv" {
		t.Fatalf("expected PONG after push, got %q", got)
	}
}

func TestStreamStopSilencesPushes(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	irc := h.addNetwork(ctl, "n")

	ctl.request("stream.start", nil)
	ctl.request("stream.stop", nil)
	irc.writeLine(":srv PRIVMSG #x :quiet")

	_ = ctl.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if line, err := ctl.r.ReadString('\n'); err == nil {
		t.Fatalf("unexpected traffic after stream.stop: %q", line)
	}
}

func TestNetworkAddWhileStreamingSubscribesNewClient(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	ctl.request("stream.start", nil)

	irc := h.addNetwork(ctl, "late")
	irc.writeLine(":srv NOTICE you :welcome")

	push := ctl.waitPush()
	params := push["params"].(map[string]any)
	if params["network"] != "late" || params["message"] != ":srv NOTICE you :welcome" {
		t.Fatalf("unexpected push: %v", params)
	}
}

func TestTwoStreamingSessionsBothReceive(t *testing.T) {
	h := newHarness(t)
	first := h.dial()
	second := h.dial()
	irc := h.addNetwork(first, "n")

	first.request("stream.start", nil)
	second.request("stream.start", nil)
	irc.writeLine(":srv PRIVMSG #x :fanout")

	for _, ctl := range []*ctlConn{first, second} {
		push := ctl.waitPush()
		params := push["params"].(map[string]any)
		if params["message"] != ":srv PRIVMSG #x :fanout" {
			t.Fatalf("session missed push: %v", params)
		}
	}
}

func TestBatchDispatch(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	batch := fmt.Sprintf(
		`[{"jsonrpc":"2.0","id":1,"method":"network.get","params":{"secret":%[1]q}},`+
			`{"jsonrpc":"2.0","id":2,"method":"network.delete","params":{"secret":%[1]q,"name":"x"}}]`,
		testsupport.Secret)
	ctl.writeLine(batch)

	var responses []map[string]any
	if err := json.Unmarshal([]byte(ctl.readLine()), &responses); err != nil {
		t.Fatalf("batch response not an array: %v", err)
	}
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if responses[0]["id"] != float64(1) || responses[0]["result"] == nil {
		t.Fatalf("first response: %v", responses[0])
	}
	errObj, ok := responses[1]["error"].(map[string]any)
	if !ok || errObj["code"] != float64(-32002) {
		t.Fatalf("second response: %v", responses[1])
	}
}

func TestBatchViolationEmitsNothing(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	batch := fmt.Sprintf(
		`[{"jsonrpc":"2.0","id":1,"method":"network.get","params":{"secret":%q}},`+
			`{"jsonrpc":"2.0","id":2,"method":"network.get","params":{"secret":"wrong"}}]`,
		testsupport.Secret)
	ctl.writeLine(batch)
	ctl.expectClosed()
}

func TestNetworkHistory(t *testing.T) {
	h := newHarness(t, withHistory(t))
	ctl := h.dial()
	irc := h.addNetwork(ctl, "n")

	irc.writeLine("PING :one")
	if got := irc.readLine(); got != "PONG :one" {
		t.Fatalf("expected PONG, got %q", got)
	}

	// The recorder writes asynchronously from the client's read loop; poll.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp := ctl.request("network.history", map[string]any{"name": "n", "limit": 10})
		entries, ok := resp["result"].([]any)
		if ok && len(entries) >= 2 {
			seen := map[string]bool{}
			for _, raw := range entries {
				e := raw.(map[string]any)
				seen[e["direction"].(string)+"|"+e["line"].(string)] = true
			}
			if !seen["in|PING :one"] || !seen["out|PONG :one"] {
				t.Fatalf("transcript incomplete: %v", entries)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("history never populated: %v", resp)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestNetworkHistoryUnknownNetwork(t *testing.T) {
	h := newHarness(t, withHistory(t))
	ctl := h.dial()
	resp := ctl.request("network.history", map[string]any{"name": "ghost"})
	errObj, ok := resp["error"].(map[string]any)
	if !ok || errObj["code"] != float64(-32003) {
		t.Fatalf("expected -32003, got %v", resp)
	}
}

func TestNetworkHistoryDisabled(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	h.addNetwork(ctl, "n")
	resp := ctl.request("network.history", map[string]any{"name": "n"})
	errObj, ok := resp["error"].(map[string]any)
	if !ok || errObj["code"] != float64(-32004) {
		t.Fatalf("expected -32004, got %v", resp)
	}
}

func TestSessionTeardownRemovesSubscriptions(t *testing.T) {
	h := newHarness(t)
	ctl := h.dial()
	irc := h.addNetwork(ctl, "n")
	ctl.request("stream.start", nil)
	_ = ctl.conn.Close()

	// Give the server a moment to reap the session, then traffic must not
	// panic or block the client read loop.
	time.Sleep(100 * time.Millisecond)
	irc.writeLine("PING :after-close")
	if got := irc.readLine(); got != "PONG :after-close" {
		t.Fatalf("client stalled after session teardown: %q", got)
	}
}
