package transport

import (
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Shared Types
// --------------------------------------------------------------------------

// Callback is invoked for every message received on a connection. addr is the
// remote address of the peer. Callbacks run on the connection's own worker
// goroutine and must not block for long.
type Callback func(msg string, addr string)

// ConnectionState is the lifecycle state of a client connection
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// PeerInfo describes one connection held by a server
type PeerInfo struct {
	ID          string    // unique connection id
	Addr        string    // remote address, key of the connection table
	IP          string    // remote ip (empty for unix sockets)
	Hostname    string    // hostname announced in the handshake
	ConnectedAt time.Time // when the connection was accepted
	Received    int64     // messages received
	Sent        int64     // messages sent
	MeanSize    float64   // mean size of received messages in bytes
	LastMessage string    // last received message
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IClient maintains one connection to a server and retries it in the background
type IClient interface {
	// Start starts the background worker. It returns an error if the client is already running.
	Start() error
	// Stop stops the worker (bounded wait) and closes the socket
	Stop() error
	// Send queues a message. It never blocks and may be called from any goroutine.
	Send(msg string) bool
	// LastMessage returns the most recently received message
	LastMessage() (string, bool)
	// SetCallback sets the function called for every received message
	SetCallback(cb Callback)
	// State returns the current connection state
	State() ConnectionState
	// Endpoint returns the address of the server
	Endpoint() string
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// IServer accepts and multiplexes many client connections
type IServer interface {
	// Start binds the listening socket and starts accepting. A bind failure is returned.
	Start() error
	// Stop stops accepting, closes every connection and clears the connection table
	Stop() error
	// Send queues a message for the target: an exact peer address, an IP
	// (every peer with this IP) or "" (one arbitrary peer). It returns the
	// number of connections the message was queued for.
	Send(msg string, target string) int
	// SetCallback overrides the callback of one connection. It returns false if the address is unknown.
	SetCallback(addr string, cb Callback) bool
	// SetDefaultCallback sets the callback for connections without an own callback
	SetDefaultCallback(cb Callback)
	// SetDisconnectCallback sets a function called after a connection was removed
	SetDisconnectCallback(fn func(addr string))
	// LastMessage returns the last message of the connection with this address,
	// or of the oldest connection with this IP
	LastMessage(ipOrAddr string) (string, bool)
	// Peers lists the open connections
	Peers() []PeerInfo
	// Addr returns the address the server listens on (nil if not running)
	Addr() string
	// WritePrometheus writes the server metrics in Prometheus text format
	WritePrometheus(w io.Writer)
}
