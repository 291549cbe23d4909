package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/comms/lib/util"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	gometrics "github.com/rcrowley/go-metrics"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// deadlineListener is implemented by listeners that support accept deadlines
type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// -----------------------------------------------------------
// Connection Record
// -----------------------------------------------------------

// connection is the record of one accepted socket
type connection struct {
	id          string
	seq         uint64 // admission order, used to find the oldest connection
	addr        string // key of the connection table
	ip          string
	conn        net.Conn
	connectedAt time.Time
	reader      *frameReader // only used by the worker
	outbox      *util.LockFreeMPSC[string]

	cbMu     sync.RWMutex
	callback transport.Callback

	sendMu sync.Mutex // held while the outbound queue is drained

	recvMu   sync.Mutex // protects last, hasLast and hostname
	last     string
	hasLast  bool
	hostname string

	received gometrics.Counter
	sent     gometrics.Counter
	sizes    gometrics.Histogram

	closeOnce sync.Once
}

func (c *connection) lastMessage() (string, bool) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return c.last, c.hasLast
}

func (c *connection) info() transport.PeerInfo {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	return transport.PeerInfo{
		ID:          c.id,
		Addr:        c.addr,
		IP:          c.ip,
		Hostname:    c.hostname,
		ConnectedAt: c.connectedAt,
		Received:    c.received.Count(),
		Sent:        c.sent.Count(),
		MeanSize:    c.sizes.Mean(),
		LastMessage: c.last,
	}
}

// close shuts the socket down and discards the queue, it is safe to call more than once
func (c *connection) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		c.outbox.Discard()
	})
}

// -----------------------------------------------------------
// Server Connection Manager
// -----------------------------------------------------------

// serverMetrics are the Prometheus metrics of one server
type serverMetrics struct {
	set          *metrics.Set
	accepted     *metrics.Counter
	closed       *metrics.Counter
	received     *metrics.Counter
	sent         *metrics.Counter
	handshakes   *metrics.Counter
	acceptErrors *metrics.Counter
}

// serverTransport implements the server connection manager. An acceptor
// goroutine admits connections into the connection table and every
// connection gets its own worker goroutine.
type serverTransport struct {
	connector IServerConnector
	config    common.ServerConfig
	log       logger.ILogger
	metrics   serverMetrics

	conns   *xsync.MapOf[string, *connection]
	tableMu sync.Mutex // serializes inserts, removals and clearing
	seq     atomic.Uint64

	cbMu         sync.RWMutex
	defaultCb    transport.Callback
	disconnectCb func(addr string)

	runMu      sync.Mutex // serializes Start and Stop
	running    bool
	listener   net.Listener
	stopCh     chan struct{}
	acceptDone chan struct{}
	workers    sync.WaitGroup
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new server connection manager with the specified connector
func NewBaseServerTransport(connector IServerConnector, config common.ServerConfig) transport.IServer {
	config = config.WithDefaults()

	t := &serverTransport{
		connector: connector,
		config:    config,
		log:       common.LoggerOrDefault(config.Logger, "transport/server"),
		conns:     xsync.NewMapOf[string, *connection](),
	}

	set := metrics.NewSet()
	t.metrics = serverMetrics{
		set:          set,
		accepted:     set.NewCounter("comms_server_connections_accepted_total"),
		closed:       set.NewCounter("comms_server_connections_closed_total"),
		received:     set.NewCounter("comms_server_messages_received_total"),
		sent:         set.NewCounter("comms_server_messages_sent_total"),
		handshakes:   set.NewCounter("comms_server_handshakes_total"),
		acceptErrors: set.NewCounter("comms_server_accept_errors_total"),
	}
	set.NewGauge("comms_server_connections", func() float64 {
		return float64(t.conns.Size())
	})

	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IServer)
// --------------------------------------------------------------------------

func (t *serverTransport) Start() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.running {
		return ErrAlreadyRunning
	}

	listener, err := t.connector.Listen(t.config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	t.listener = listener
	t.running = true
	t.stopCh = make(chan struct{})
	t.acceptDone = make(chan struct{})

	t.log.Infof("Starting %s server on %s", t.connector.GetName(), listener.Addr())
	go t.accept(listener, t.stopCh, t.acceptDone)
	return nil
}

func (t *serverTransport) Stop() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if !t.running {
		return ErrNotRunning
	}
	t.running = false
	t.log.Infof("Shutting down server on %s", t.listener.Addr())

	// stop and join the acceptor
	close(t.stopCh)
	_ = t.listener.Close()
	<-t.acceptDone

	// close every connection and clear the table
	t.tableMu.Lock()
	t.conns.Range(func(addr string, c *connection) bool {
		c.close()
		return true
	})
	t.conns.Clear()
	t.tableMu.Unlock()

	// bounded join of the workers
	done := make(chan struct{})
	go func() {
		t.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(t.config.Timing.StopTimeout):
		t.log.Warningf("Connection workers did not stop within %s", t.config.Timing.StopTimeout)
	}

	return nil
}

func (t *serverTransport) Send(msg string, target string) int {
	// no target: one arbitrary connection
	if target == "" {
		queued := 0
		t.conns.Range(func(_ string, c *connection) bool {
			if c.outbox.Push(&msg) {
				queued = 1
				return false
			}
			return true
		})
		return queued
	}

	// exact peer address
	if c, ok := t.conns.Load(target); ok {
		if c.outbox.Push(&msg) {
			return 1
		}
		return 0
	}

	// every connection with this ip
	queued := 0
	t.conns.Range(func(_ string, c *connection) bool {
		if c.ip == target {
			m := msg
			if c.outbox.Push(&m) {
				queued++
			}
		}
		return true
	})
	return queued
}

func (t *serverTransport) SetCallback(addr string, cb transport.Callback) bool {
	c, ok := t.conns.Load(addr)
	if !ok {
		return false
	}
	c.cbMu.Lock()
	c.callback = cb
	c.cbMu.Unlock()
	return true
}

func (t *serverTransport) SetDefaultCallback(cb transport.Callback) {
	t.cbMu.Lock()
	t.defaultCb = cb
	t.cbMu.Unlock()
}

func (t *serverTransport) SetDisconnectCallback(fn func(addr string)) {
	t.cbMu.Lock()
	t.disconnectCb = fn
	t.cbMu.Unlock()
}

func (t *serverTransport) LastMessage(ipOrAddr string) (string, bool) {
	// unix peers have no ip, an empty key must not match them
	if ipOrAddr == "" {
		return "", false
	}
	if c, ok := t.conns.Load(ipOrAddr); ok {
		return c.lastMessage()
	}

	var oldest *connection
	t.conns.Range(func(_ string, c *connection) bool {
		if c.ip == ipOrAddr && (oldest == nil || c.seq < oldest.seq) {
			oldest = c
		}
		return true
	})
	if oldest == nil {
		return "", false
	}
	return oldest.lastMessage()
}

func (t *serverTransport) Peers() []transport.PeerInfo {
	var conns []*connection
	t.conns.Range(func(_ string, c *connection) bool {
		conns = append(conns, c)
		return true
	})
	sort.Slice(conns, func(i, j int) bool { return conns[i].seq < conns[j].seq })

	peers := make([]transport.PeerInfo, 0, len(conns))
	for _, c := range conns {
		peers = append(peers, c.info())
	}
	return peers
}

func (t *serverTransport) Addr() string {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	if !t.running || t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *serverTransport) WritePrometheus(w io.Writer) {
	t.metrics.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Acceptor
// --------------------------------------------------------------------------

// accept admits connections until stopCh is closed
func (t *serverTransport) accept(listener net.Listener, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	dl, hasDeadline := listener.(deadlineListener)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if hasDeadline {
			_ = dl.SetDeadline(time.Now().Add(t.config.AcceptTimeout))
		}

		conn, err := listener.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.metrics.acceptErrors.Inc()
			t.log.Errorf("Accept error: %v", err)
			if !sleep(stopCh, t.config.Timing.TickInterval) {
				return
			}
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			t.log.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
			_ = conn.Close()
			continue
		}

		t.admit(conn, stopCh)
	}
}

// admit creates the connection record, inserts it and starts its worker
func (t *serverTransport) admit(conn net.Conn, stopCh <-chan struct{}) {
	seq := t.seq.Add(1)

	addr := remoteAddr(conn, "")
	if addr == "" {
		addr = fmt.Sprintf("%s#%d", t.connector.GetName(), seq)
	}
	ip := ""
	if host, _, err := net.SplitHostPort(addr); err == nil {
		ip = host
	}

	c := &connection{
		id:          uuid.NewString(),
		seq:         seq,
		addr:        addr,
		ip:          ip,
		conn:        conn,
		connectedAt: time.Now(),
		reader:      newFrameReader(t.config.Framing),
		outbox:      util.NewLockFreeMPSC[string](),
		received:    gometrics.NewCounter(),
		sent:        gometrics.NewCounter(),
		sizes:       gometrics.NewHistogram(gometrics.NewUniformSample(1028)),
	}

	t.tableMu.Lock()
	if old, exists := t.conns.Load(addr); exists {
		old.close()
	}
	t.conns.Store(addr, c)
	t.tableMu.Unlock()

	t.metrics.accepted.Inc()
	t.log.Infof("Connected to %s (id %s)", addr, c.id)

	t.workers.Add(1)
	go t.serve(c, stopCh)
}

// --------------------------------------------------------------------------
// Connection Worker
// --------------------------------------------------------------------------

// serve is the worker loop of one connection
func (t *serverTransport) serve(c *connection, stopCh <-chan struct{}) {
	defer t.workers.Done()

	buf := make([]byte, t.config.Framing.ReadChunkSize)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if err := t.receive(c, buf); err != nil {
			t.kill(c, err)
			return
		}
		if err := t.flush(c); err != nil {
			t.kill(c, err)
			return
		}

		if !sleep(stopCh, t.config.Timing.TickInterval) {
			return
		}
	}
}

// receive does one bounded read. A timeout is not an error.
func (t *serverTransport) receive(c *connection, buf []byte) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(t.config.Timing.PollTimeout)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	n, err := c.conn.Read(buf)
	if n > 0 {
		msgs, ferr := c.reader.feed(buf[:n])
		for _, msg := range msgs {
			t.deliver(c, msg)
		}
		if ferr != nil {
			return ferr
		}
	}

	if err != nil && !isTimeout(err) {
		return err
	}
	return nil
}

// deliver handles one message: handshakes are recorded, everything else is
// stored as last message and passed to the connection or default callback
func (t *serverTransport) deliver(c *connection, msg string) {
	if hostname, ok := common.HostnameFromHandshake(msg); ok {
		c.recvMu.Lock()
		c.hostname = hostname
		c.recvMu.Unlock()
		t.metrics.handshakes.Inc()
		t.log.Infof("Client %s identified as %s", c.addr, hostname)
		return
	}

	c.recvMu.Lock()
	c.last = msg
	c.hasLast = true
	c.recvMu.Unlock()

	c.received.Inc(1)
	c.sizes.Update(int64(len(msg)))
	t.metrics.received.Inc()
	t.log.Debugf("Received: %s from %s", msg, c.addr)

	c.cbMu.RLock()
	cb := c.callback
	c.cbMu.RUnlock()
	if cb == nil {
		t.cbMu.RLock()
		cb = t.defaultCb
		t.cbMu.RUnlock()
	}

	if cb != nil {
		cb(msg, c.addr)
	}
}

// flush sends the queued messages of one connection in order
func (t *serverTransport) flush(c *connection) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for {
		msg, ok := c.outbox.TryRecv()
		if !ok || msg == nil {
			return nil
		}
		if err := writeFrame(c.conn, t.config.Framing.Framing, *msg, t.config.Timing.WriteTimeout); err != nil {
			return err
		}
		c.sent.Inc(1)
		t.metrics.sent.Inc()
		t.log.Debugf("Sent: %s to %s", *msg, c.addr)
	}
}

// kill removes a broken connection from the table, closes it and notifies the disconnect callback
func (t *serverTransport) kill(c *connection, cause error) {
	t.tableMu.Lock()
	removed := false
	if current, ok := t.conns.Load(c.addr); ok && current == c {
		t.conns.Delete(c.addr)
		removed = true
	}
	c.close()
	t.tableMu.Unlock()

	if !removed {
		// already cleared by Stop or replaced
		return
	}

	t.metrics.closed.Inc()
	if errors.Is(cause, io.EOF) {
		t.log.Infof("Connection closed by %s", c.addr)
	} else {
		t.log.Warningf("Lost connection to %s: %v", c.addr, cause)
	}

	t.cbMu.RLock()
	fn := t.disconnectCb
	t.cbMu.RUnlock()
	if fn != nil {
		fn(c.addr)
	}
}
