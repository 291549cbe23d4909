package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/comms/lib/util"
	"github.com/ValentinKolb/comms/rpc/common"
	"github.com/ValentinKolb/comms/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrAlreadyRunning is returned by Start if the component was already started
	ErrAlreadyRunning = errors.New("already running")
	// ErrNotRunning is returned by Stop if the component is not running
	ErrNotRunning = errors.New("not running")
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection, giving up after timeout
	Connect(endpoint string, timeout time.Duration) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientMetrics are the Prometheus counters of one client, labeled by endpoint
type clientMetrics struct {
	sent           *metrics.Counter
	received       *metrics.Counter
	connects       *metrics.Counter
	connectFailure *metrics.Counter
	resets         *metrics.Counter
}

func newClientMetrics(transportName, endpoint string) clientMetrics {
	name := func(metric string) string {
		return fmt.Sprintf(`comms_client_%s{transport=%q,endpoint=%q}`, metric, transportName, endpoint)
	}
	return clientMetrics{
		sent:           metrics.GetOrCreateCounter(name("messages_sent_total")),
		received:       metrics.GetOrCreateCounter(name("messages_received_total")),
		connects:       metrics.GetOrCreateCounter(name("connects_total")),
		connectFailure: metrics.GetOrCreateCounter(name("connect_failures_total")),
		resets:         metrics.GetOrCreateCounter(name("connection_resets_total")),
	}
}

// clientTransport implements the client connector independent of the
// specific transport medium (unix, tcp, etc.). One worker goroutine owns the
// socket: it connects, reads, drains the outbound queue and sleeps one tick.
type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig
	log       logger.ILogger
	metrics   clientMetrics

	state  atomic.Int32
	outbox atomic.Pointer[util.LockFreeMPSC[string]]

	connMu sync.Mutex // protects conn
	conn   net.Conn
	reader *frameReader // only used by the worker

	sendMu sync.Mutex // held while the outbound queue is drained

	recvMu  sync.Mutex // protects last and hasLast
	last    string
	hasLast bool

	cbMu     sync.RWMutex
	callback transport.Callback

	runMu   sync.Mutex // serializes Start and Stop
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new client connector with the specified connector.
// The worker is not started until Start is called, messages sent before are queued.
func NewBaseClientTransport(connector IClientConnector, config common.ClientConfig) transport.IClient {
	config = config.WithDefaults()

	t := &clientTransport{
		connector: connector,
		config:    config,
		log:       common.LoggerOrDefault(config.Logger, "transport/client"),
		metrics:   newClientMetrics(connector.GetName(), config.Endpoint),
		reader:    newFrameReader(config.Framing),
	}
	t.outbox.Store(util.NewLockFreeMPSC[string]())
	t.state.Store(int32(transport.StateDisconnected))
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IClient)
// --------------------------------------------------------------------------

func (t *clientTransport) Start() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.running || t.exiting() {
		return ErrAlreadyRunning
	}

	// a stopped client gets a fresh queue
	if t.outbox.Load().IsClosed() {
		t.outbox.Store(util.NewLockFreeMPSC[string]())
	}

	t.running = true
	t.stopCh = make(chan struct{})
	t.done = make(chan struct{})

	t.log.Infof("Starting %s client for %s", t.connector.GetName(), t.config.Endpoint)
	go t.run(t.stopCh, t.done)
	return nil
}

func (t *clientTransport) Stop() error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if !t.running {
		return ErrNotRunning
	}
	t.running = false
	t.log.Infof("Shutting down client for %s", t.config.Endpoint)

	close(t.stopCh)

	select {
	case <-t.done:
	case <-time.After(t.config.Timing.StopTimeout):
		t.log.Warningf("Worker for %s did not stop within %s, closing the socket", t.config.Endpoint, t.config.Timing.StopTimeout)
	}

	t.closeConn()
	t.outbox.Load().Discard()
	return nil
}

func (t *clientTransport) Send(msg string) bool {
	return t.outbox.Load().Push(&msg)
}

func (t *clientTransport) LastMessage() (string, bool) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	return t.last, t.hasLast
}

func (t *clientTransport) SetCallback(cb transport.Callback) {
	t.cbMu.Lock()
	t.callback = cb
	t.cbMu.Unlock()
}

func (t *clientTransport) State() transport.ConnectionState {
	return transport.ConnectionState(t.state.Load())
}

func (t *clientTransport) Endpoint() string {
	return t.config.Endpoint
}

// --------------------------------------------------------------------------
// Worker
// --------------------------------------------------------------------------

// exiting reports whether the worker of an earlier Start has not returned yet.
// Must be called with runMu held.
func (t *clientTransport) exiting() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// run is the worker loop. It exits when stopCh is closed.
func (t *clientTransport) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	buf := make([]byte, t.config.Framing.ReadChunkSize)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if t.State() == transport.StateDisconnected {
			if !t.connect() {
				if !sleep(stopCh, t.config.ReconnectInterval) {
					return
				}
				continue
			}

			// Stop may have given up waiting while connect was blocked
			select {
			case <-stopCh:
				t.closeConn()
				return
			default:
			}
		}

		t.receive(buf)
		t.flush()

		if !sleep(stopCh, t.config.Timing.TickInterval) {
			return
		}
	}
}

// connect makes one connection attempt and sends the handshake as first message
func (t *clientTransport) connect() bool {
	t.setState(transport.StateConnecting)

	conn, err := t.connector.Connect(t.config.Endpoint, t.config.ConnectTimeout)
	if err != nil {
		t.metrics.connectFailure.Inc()
		t.log.Warningf("Failed to connect to %s: %v (retry in %s)", t.config.Endpoint, err, t.config.ReconnectInterval)
		t.setState(transport.StateDisconnected)
		return false
	}

	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		t.metrics.connectFailure.Inc()
		t.log.Warningf("Failed to upgrade connection to %s: %v", t.config.Endpoint, err)
		_ = conn.Close()
		t.setState(transport.StateDisconnected)
		return false
	}

	handshake := common.NewHandshake(t.config.Hostname)
	if err := writeFrame(conn, t.config.Framing.Framing, handshake, t.config.Timing.WriteTimeout); err != nil {
		t.metrics.connectFailure.Inc()
		t.log.Warningf("Failed to send handshake to %s: %v", t.config.Endpoint, err)
		_ = conn.Close()
		t.setState(transport.StateDisconnected)
		return false
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()
	t.reader.reset()

	t.metrics.connects.Inc()
	t.setState(transport.StateConnected)
	t.log.Infof("Connected to %s using %s transport", t.config.Endpoint, t.connector.GetName())
	return true
}

// receive does one bounded read and delivers every completed message
func (t *clientTransport) receive(buf []byte) {
	conn := t.currentConn()
	if conn == nil {
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(t.config.Timing.PollTimeout)); err != nil {
		t.reset(fmt.Errorf("failed to set read deadline: %w", err))
		return
	}

	n, err := conn.Read(buf)
	if n > 0 {
		msgs, ferr := t.reader.feed(buf[:n])
		for _, msg := range msgs {
			t.deliver(msg, conn)
		}
		if ferr != nil {
			t.reset(ferr)
			return
		}
	}

	if err != nil && !isTimeout(err) {
		t.reset(err)
	}
}

// deliver records msg as last message and passes it to the callback.
// The callback runs outside of the receive lock.
func (t *clientTransport) deliver(msg string, conn net.Conn) {
	t.recvMu.Lock()
	t.last = msg
	t.hasLast = true
	t.recvMu.Unlock()

	t.metrics.received.Inc()
	t.log.Debugf("Received: %s from %s", msg, t.config.Endpoint)

	t.cbMu.RLock()
	cb := t.callback
	t.cbMu.RUnlock()

	if cb != nil {
		cb(msg, remoteAddr(conn, t.config.Endpoint))
	}
}

// flush sends the queued messages in order. On a write error the failed
// message is dropped, the connection is reset and the rest stays queued.
func (t *clientTransport) flush() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	outbox := t.outbox.Load()
	for {
		conn := t.currentConn()
		if conn == nil {
			return
		}

		msg, ok := outbox.TryRecv()
		if !ok || msg == nil {
			return
		}

		if err := writeFrame(conn, t.config.Framing.Framing, *msg, t.config.Timing.WriteTimeout); err != nil {
			t.reset(err)
			return
		}
		t.metrics.sent.Inc()
		t.log.Debugf("Sent: %s to %s", *msg, t.config.Endpoint)
	}
}

// reset closes the connection after it broke. The next loop iteration reconnects.
func (t *clientTransport) reset(cause error) {
	t.log.Warningf("Lost connection to %s: %v", t.config.Endpoint, cause)
	t.metrics.resets.Inc()
	t.closeConn()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *clientTransport) setState(s transport.ConnectionState) {
	t.state.Store(int32(s))
}

func (t *clientTransport) currentConn() net.Conn {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return t.conn
}

// closeConn closes the socket (if any) and moves to disconnected
func (t *clientTransport) closeConn() {
	t.connMu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.connMu.Unlock()
	t.setState(transport.StateDisconnected)
}

// remoteAddr returns the peer address of conn, or fallback if the socket has none
func remoteAddr(conn net.Conn, fallback string) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" && addr.String() != "@" {
		return addr.String()
	}
	return fallback
}

// sleep waits for d and reports false if stopCh was closed in the meantime
func sleep(stopCh <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-stopCh:
		return false
	case <-timer.C:
		return true
	}
}
