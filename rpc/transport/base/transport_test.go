package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --------------------------------------------------------------------------
// Test connectors (plain loopback TCP)
// --------------------------------------------------------------------------

type testClientConnector struct {
	localIP  string // source ip, empty = any
	attempts atomic.Int64
}

func (c *testClientConnector) GetName() string { return "tcp" }

func (c *testClientConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	c.attempts.Add(1)
	d := net.Dialer{Timeout: timeout}
	if c.localIP != "" {
		d.LocalAddr = &net.TCPAddr{IP: net.ParseIP(c.localIP)}
	}
	return d.Dial("tcp", endpoint)
}

func (c *testClientConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

type testServerConnector struct{}

func (c *testServerConnector) GetName() string { return "tcp" }

func (c *testServerConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	return net.Listen("tcp", config.Endpoint)
}

func (c *testServerConnector) UpgradeConnection(net.Conn, common.ServerConfig) error { return nil }

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

var quiet = common.NewLogger("test", logger.ERROR, io.Discard)

func fastTiming() common.TimingConf {
	return common.TimingConf{
		PollTimeout:  5 * time.Millisecond,
		TickInterval: time.Millisecond,
		StopTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

func testServerConfig(endpoint string, framing common.Framing) common.ServerConfig {
	return common.ServerConfig{
		Endpoint:      endpoint,
		AcceptTimeout: 5 * time.Millisecond,
		Timing:        fastTiming(),
		Framing:       common.FramingConf{Framing: framing},
		Logger:        quiet,
	}
}

func testClientConfig(endpoint string, framing common.Framing) common.ClientConfig {
	return common.ClientConfig{
		Endpoint:          endpoint,
		Hostname:          "test-host",
		ConnectTimeout:    200 * time.Millisecond,
		ReconnectInterval: 20 * time.Millisecond,
		Timing:            fastTiming(),
		Framing:           common.FramingConf{Framing: framing},
		Logger:            quiet,
	}
}

// startServer starts a server on a free loopback port
func startServer(t *testing.T, framing common.Framing) transport.IServer {
	t.Helper()
	s := NewBaseServerTransport(&testServerConnector{}, testServerConfig("127.0.0.1:0", framing))
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// startClient starts a client and waits until it is connected
func startClient(t *testing.T, conn IClientConnector, endpoint string, framing common.Framing) transport.IClient {
	t.Helper()
	c := NewBaseClientTransport(conn, testClientConfig(endpoint, framing))
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Stop() })
	waitFor(t, 2*time.Second, "client connected", func() bool {
		return c.State() == transport.StateConnected
	})
	return c
}

// waitFor polls cond until it is true or fails the test after timeout
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// freeAddr returns a loopback address nothing listens on
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

// recorder collects callback invocations
type recorder struct {
	mu    sync.Mutex
	msgs  []string
	addrs []string
}

func (r *recorder) callback(msg, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	r.addrs = append(r.addrs, addr)
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestClientServerExchange(t *testing.T) {
	for _, framing := range []common.Framing{common.FramingLength, common.FramingRaw} {
		t.Run(string(framing), func(t *testing.T) {
			s := startServer(t, framing)
			serverRec := &recorder{}
			s.SetDefaultCallback(serverRec.callback)

			c := startClient(t, &testClientConnector{}, s.Addr(), framing)
			clientRec := &recorder{}
			c.SetCallback(clientRec.callback)

			// handshake is recorded but never surfaced
			waitFor(t, time.Second, "handshake", func() bool {
				peers := s.Peers()
				return len(peers) == 1 && peers[0].Hostname == "test-host"
			})
			if serverRec.count() != 0 {
				t.Fatalf("handshake surfaced as data: %q", serverRec.messages())
			}

			// client -> server
			c.Send("{a:1<int>}*%*")
			waitFor(t, time.Second, "server receive", func() bool { return serverRec.count() == 1 })
			if got := serverRec.messages()[0]; got != "{a:1<int>}*%*" {
				t.Errorf("server received %q", got)
			}
			peer := s.Peers()[0]
			if serverRec.addrs[0] != peer.Addr {
				t.Errorf("callback address = %q, want %q", serverRec.addrs[0], peer.Addr)
			}
			if last, ok := s.LastMessage("127.0.0.1"); !ok || last != "{a:1<int>}*%*" {
				t.Errorf("LastMessage(ip) = %q, %v", last, ok)
			}
			if last, ok := s.LastMessage(peer.Addr); !ok || last != "{a:1<int>}*%*" {
				t.Errorf("LastMessage(addr) = %q, %v", last, ok)
			}

			// server -> client, arbitrary target
			if n := s.Send("{b:x<str>}*%*", ""); n != 1 {
				t.Fatalf("Send() queued for %d connections, want 1", n)
			}
			waitFor(t, time.Second, "client receive", func() bool { return clientRec.count() == 1 })
			if last, ok := c.LastMessage(); !ok || last != "{b:x<str>}*%*" {
				t.Errorf("client LastMessage() = %q, %v", last, ok)
			}
			if clientRec.addrs[0] != s.Addr() {
				t.Errorf("client callback address = %q, want %q", clientRec.addrs[0], s.Addr())
			}
		})
	}
}

func TestOrderingWithinConnection(t *testing.T) {
	s := startServer(t, common.FramingLength)
	rec := &recorder{}
	s.SetDefaultCallback(rec.callback)
	c := startClient(t, &testClientConnector{}, s.Addr(), common.FramingLength)

	const n = 200
	for i := 0; i < n; i++ {
		c.Send(fmt.Sprintf("{i:%d<int>}*%%*", i))
	}
	waitFor(t, 3*time.Second, "all messages", func() bool { return rec.count() == n })

	for i, msg := range rec.messages() {
		if want := fmt.Sprintf("{i:%d<int>}*%%*", i); msg != want {
			t.Fatalf("message %d = %q, want %q", i, msg, want)
		}
	}
}

// TestQueueDrainsEachTick queues a burst at default timing, every queued
// message must go out with the next flush instead of one per tick
func TestQueueDrainsEachTick(t *testing.T) {
	const n = 50
	// two ticks are about 120ms, one message per tick would need 3s
	const limit = 500 * time.Millisecond

	serverConfig := testServerConfig("127.0.0.1:0", common.FramingLength)
	serverConfig.Timing = common.DefaultTimingConf()
	s := NewBaseServerTransport(&testServerConnector{}, serverConfig)
	serverRec := &recorder{}
	s.SetDefaultCallback(serverRec.callback)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	clientConfig := testClientConfig(s.Addr(), common.FramingLength)
	clientConfig.Timing = common.DefaultTimingConf()
	c := NewBaseClientTransport(&testClientConnector{}, clientConfig)
	clientRec := &recorder{}
	c.SetCallback(clientRec.callback)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()
	waitFor(t, 2*time.Second, "peer", func() bool { return len(s.Peers()) == 1 })
	peer := s.Peers()[0].Addr

	tests := []struct {
		name string
		send func(msg string)
		rec  *recorder
	}{
		{"client to server", func(msg string) { c.Send(msg) }, serverRec},
		{"server to client", func(msg string) { s.Send(msg, peer) }, clientRec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			for i := 0; i < n; i++ {
				tt.send(fmt.Sprintf("{i:%d<int>}*%%*", i))
			}
			waitFor(t, 5*time.Second, "burst", func() bool { return tt.rec.count() == n })

			if elapsed := time.Since(start); elapsed > limit {
				t.Errorf("%d messages took %s, want below %s", n, elapsed, limit)
			}
			for i, msg := range tt.rec.messages() {
				if want := fmt.Sprintf("{i:%d<int>}*%%*", i); msg != want {
					t.Fatalf("message %d = %q, want %q", i, msg, want)
				}
			}
		})
	}
}

func TestRoutingByIP(t *testing.T) {
	s := startServer(t, common.FramingLength)
	addr := s.Addr()

	// two peers with different source ips on the loopback network
	clientA := startClient(t, &testClientConnector{localIP: "127.0.0.1"}, addr, common.FramingLength)
	clientB := startClient(t, &testClientConnector{localIP: "127.0.0.2"}, addr, common.FramingLength)
	recA, recB := &recorder{}, &recorder{}
	clientA.SetCallback(recA.callback)
	clientB.SetCallback(recB.callback)

	waitFor(t, time.Second, "two peers", func() bool { return len(s.Peers()) == 2 })

	if n := s.Send("for-a", "127.0.0.1"); n != 1 {
		t.Fatalf("Send(ip A) queued for %d connections, want 1", n)
	}
	waitFor(t, time.Second, "delivery to A", func() bool { return recA.count() == 1 })

	// give a wrong delivery the chance to show up
	time.Sleep(50 * time.Millisecond)
	if recB.count() != 0 {
		t.Errorf("connection B received %q", recB.messages())
	}

	if n := s.Send("nobody", "10.9.8.7"); n != 0 {
		t.Errorf("Send(unknown ip) = %d, want 0", n)
	}
}

func TestPerConnectionCallback(t *testing.T) {
	s := startServer(t, common.FramingLength)
	def, own := &recorder{}, &recorder{}
	s.SetDefaultCallback(def.callback)

	c := startClient(t, &testClientConnector{}, s.Addr(), common.FramingLength)
	waitFor(t, time.Second, "peer", func() bool { return len(s.Peers()) == 1 })

	if s.SetCallback("127.0.0.1:1", own.callback) {
		t.Error("SetCallback() for an unknown address should fail")
	}
	if !s.SetCallback(s.Peers()[0].Addr, own.callback) {
		t.Fatal("SetCallback() failed")
	}

	c.Send("hello")
	waitFor(t, time.Second, "callback", func() bool { return own.count() == 1 })
	if def.count() != 0 {
		t.Error("default callback must not run when a connection callback is set")
	}
}

func TestReconnectBackoff(t *testing.T) {
	addr := freeAddr(t)
	connector := &testClientConnector{}

	c := NewBaseClientTransport(connector, testClientConfig(addr, common.FramingLength))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	// messages sent while disconnected stay queued
	c.Send("queued")

	time.Sleep(150 * time.Millisecond)
	if c.State() == transport.StateConnected {
		t.Fatal("client without server must not be connected")
	}
	attempts := connector.attempts.Load()
	if attempts < 2 {
		t.Errorf("expected repeated connection attempts, got %d", attempts)
	}
	// 20ms backoff: far fewer attempts than polling ticks
	if attempts > 20 {
		t.Errorf("client retried %d times in 150ms, backoff not applied", attempts)
	}

	// the server appears later
	s := NewBaseServerTransport(&testServerConnector{}, testServerConfig(addr, common.FramingLength))
	rec := &recorder{}
	s.SetDefaultCallback(rec.callback)
	if err := s.Start(); err != nil {
		t.Fatalf("server Start() error = %v", err)
	}
	defer s.Stop()

	waitFor(t, 2*time.Second, "reconnect", func() bool { return c.State() == transport.StateConnected })
	waitFor(t, time.Second, "queued message", func() bool { return rec.count() == 1 })
	if rec.messages()[0] != "queued" {
		t.Errorf("received %q", rec.messages())
	}
}

func TestServerDropsClosedConnection(t *testing.T) {
	s := startServer(t, common.FramingLength)
	gone := make(chan string, 1)
	s.SetDisconnectCallback(func(addr string) { gone <- addr })

	c := NewBaseClientTransport(&testClientConnector{}, testClientConfig(s.Addr(), common.FramingLength))
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, "peer", func() bool { return len(s.Peers()) == 1 })
	addr := s.Peers()[0].Addr

	if err := c.Stop(); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-gone:
		if got != addr {
			t.Errorf("disconnect callback for %q, want %q", got, addr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect callback not called")
	}
	if len(s.Peers()) != 0 {
		t.Error("closed connection should be removed from the table")
	}
	if _, ok := s.LastMessage(addr); ok {
		t.Error("LastMessage() of a removed connection should be absent")
	}
}

func TestClientDetectsServerStop(t *testing.T) {
	s := NewBaseServerTransport(&testServerConnector{}, testServerConfig("127.0.0.1:0", common.FramingLength))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	c := startClient(t, &testClientConnector{}, s.Addr(), common.FramingLength)

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 2*time.Second, "client reset", func() bool { return c.State() != transport.StateConnected })
}

func TestLifecycleErrors(t *testing.T) {
	s := startServer(t, common.FramingLength)
	if err := s.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	// binding an address in use is fatal
	other := NewBaseServerTransport(&testServerConnector{}, testServerConfig(s.Addr(), common.FramingLength))
	if err := other.Start(); err == nil {
		_ = other.Stop()
		t.Error("Start() on a used address should fail")
	}
	if err := other.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop() of a server that never started = %v, want ErrNotRunning", err)
	}

	c := NewBaseClientTransport(&testClientConnector{}, testClientConfig(s.Addr(), common.FramingLength))
	if err := c.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("client Stop() before Start() = %v, want ErrNotRunning", err)
	}
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second client Start() = %v, want ErrAlreadyRunning", err)
	}
	if err := c.Stop(); err != nil {
		t.Errorf("client Stop() = %v", err)
	}
}

// blockingConnector holds every Connect until release is closed
type blockingConnector struct {
	testClientConnector
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (c *blockingConnector) Connect(endpoint string, timeout time.Duration) (net.Conn, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return c.testClientConnector.Connect(endpoint, timeout)
}

// TestStopWhileConnecting stops a client whose worker is stuck in connect
// for longer than the stop timeout
func TestStopWhileConnecting(t *testing.T) {
	s := startServer(t, common.FramingLength)

	connector := &blockingConnector{entered: make(chan struct{}), release: make(chan struct{})}
	config := testClientConfig(s.Addr(), common.FramingLength)
	config.Timing.StopTimeout = 20 * time.Millisecond
	c := NewBaseClientTransport(connector, config)
	ct := c.(*clientTransport)

	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	<-connector.entered
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// the old worker has not returned, a second one must not start
	if err := c.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Start() while the old worker runs = %v, want ErrAlreadyRunning", err)
	}

	close(connector.release)
	waitFor(t, 2*time.Second, "old worker exit", func() bool {
		ct.runMu.Lock()
		defer ct.runMu.Unlock()
		return !ct.exiting()
	})

	if ct.currentConn() != nil {
		t.Error("socket opened after Stop() was left open")
	}
	if c.State() != transport.StateDisconnected {
		t.Errorf("State() = %v after Stop(), want disconnected", c.State())
	}
	waitFor(t, 2*time.Second, "peer removed", func() bool { return len(s.Peers()) == 0 })

	if err := c.Start(); err != nil {
		t.Fatalf("Start() after the worker exited = %v", err)
	}
	_ = c.Stop()
}

func TestServerStopClearsConnections(t *testing.T) {
	s := NewBaseServerTransport(&testServerConnector{}, testServerConfig("127.0.0.1:0", common.FramingLength))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	addr := s.Addr()
	for i := 0; i < 3; i++ {
		startClient(t, &testClientConnector{}, addr, common.FramingLength)
	}
	waitFor(t, time.Second, "three peers", func() bool { return len(s.Peers()) == 3 })

	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if len(s.Peers()) != 0 {
		t.Errorf("%d connections left after Stop()", len(s.Peers()))
	}
	if s.Addr() != "" {
		t.Error("Addr() of a stopped server should be empty")
	}
}

func TestServerMetrics(t *testing.T) {
	s := startServer(t, common.FramingLength)
	c := startClient(t, &testClientConnector{}, s.Addr(), common.FramingLength)
	rec := &recorder{}
	s.SetDefaultCallback(rec.callback)

	c.Send("abc")
	waitFor(t, time.Second, "message", func() bool { return rec.count() == 1 })

	var sb strings.Builder
	s.WritePrometheus(&sb)
	out := sb.String()
	for _, want := range []string{
		"comms_server_connections_accepted_total 1",
		"comms_server_messages_received_total 1",
		"comms_server_handshakes_total 1",
		"comms_server_connections 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output misses %q:\n%s", want, out)
		}
	}

	peer := s.Peers()[0]
	if peer.Received != 1 || peer.MeanSize != 3 || peer.ID == "" {
		t.Errorf("unexpected peer info %+v", peer)
	}
}
