package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	// DefaultPort is the port servers bind to and clients connect to if none is given
	DefaultPort = 37564
	// LocalHostPlaceholder is accepted as client target and replaced by the local hostname
	LocalHostPlaceholder = "debug"

	DefaultConnectTimeout    = time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultPollTimeout       = 50 * time.Millisecond
	DefaultAcceptTimeout     = 50 * time.Millisecond
	DefaultTickInterval      = 10 * time.Millisecond
	DefaultStopTimeout       = 5 * time.Second
	DefaultWriteTimeout      = time.Second
	DefaultReadChunkSize     = 4096
	DefaultMaxFrameSize      = 16 * 1024 * 1024
)

// DefaultServerEndpoint is the default bind address of a server
var DefaultServerEndpoint = net.JoinHostPort("0.0.0.0", strconv.Itoa(DefaultPort))

// --------------------------------------------------------------------------
// Framing
// --------------------------------------------------------------------------

// Framing selects how messages are delimited on the byte stream
type Framing string

const (
	// FramingLength prefixes every message with its length as 4 byte big endian integer
	FramingLength Framing = "length"
	// FramingRaw treats the bytes of one read as one message
	FramingRaw Framing = "raw"
)

// ParseFraming converts a string to a Framing
func ParseFraming(s string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(s))) {
	case FramingLength, "":
		return FramingLength, nil
	case FramingRaw:
		return FramingRaw, nil
	default:
		return "", fmt.Errorf("invalid framing %q (expected length or raw)", s)
	}
}

// --------------------------------------------------------------------------
// Shared socket settings
// --------------------------------------------------------------------------

// SocketConf holds settings that apply to every stream socket
type SocketConf struct {
	WriteBufferSize int // kernel write buffer in bytes (0 = os default)
	ReadBufferSize  int // kernel read buffer in bytes (0 = os default)
}

// TCPConf holds settings that only apply to tcp sockets
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int // 0 = disabled
	TCPLingerSec    int // 0 = os default
}

// TimingConf holds the intervals of the polling loops
type TimingConf struct {
	PollTimeout  time.Duration // bound of one read
	TickInterval time.Duration // pause between two loop iterations
	StopTimeout  time.Duration // bound of the join on Stop
	WriteTimeout time.Duration // bound of one write
}

// DefaultTimingConf returns the default loop timing
func DefaultTimingConf() TimingConf {
	return TimingConf{
		PollTimeout:  DefaultPollTimeout,
		TickInterval: DefaultTickInterval,
		StopTimeout:  DefaultStopTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

// withDefaults replaces zero values with defaults
func (t TimingConf) withDefaults() TimingConf {
	d := DefaultTimingConf()
	if t.PollTimeout <= 0 {
		t.PollTimeout = d.PollTimeout
	}
	if t.TickInterval <= 0 {
		t.TickInterval = d.TickInterval
	}
	if t.StopTimeout <= 0 {
		t.StopTimeout = d.StopTimeout
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = d.WriteTimeout
	}
	return t
}

// FramingConf selects the framing and bounds the message size
type FramingConf struct {
	Framing       Framing
	MaxFrameSize  int // largest accepted length prefixed frame
	ReadChunkSize int // bytes requested per read
}

func (f FramingConf) withDefaults() FramingConf {
	if f.Framing == "" {
		f.Framing = FramingLength
	}
	if f.MaxFrameSize <= 0 {
		f.MaxFrameSize = DefaultMaxFrameSize
	}
	if f.ReadChunkSize <= 0 {
		f.ReadChunkSize = DefaultReadChunkSize
	}
	return f
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig configures a client connector
type ClientConfig struct {
	// Endpoint is the server address (host:port for tcp, socket path for unix)
	Endpoint string
	// Hostname is sent in the handshake (empty = os hostname)
	Hostname string

	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration

	Timing  TimingConf
	Framing FramingConf
	Socket  SocketConf
	TCP     TCPConf

	LogLevel string
	// Logger is the handle the connector logs to (nil = package logger)
	Logger logger.ILogger
}

// DefaultClientConfig returns a client configuration targeting the given endpoint
func DefaultClientConfig(endpoint string) ClientConfig {
	return ClientConfig{
		Endpoint:          endpoint,
		ConnectTimeout:    DefaultConnectTimeout,
		ReconnectInterval: DefaultReconnectInterval,
		Timing:            DefaultTimingConf(),
		Framing:           FramingConf{Framing: FramingLength, MaxFrameSize: DefaultMaxFrameSize, ReadChunkSize: DefaultReadChunkSize},
		TCP:               TCPConf{TCPNoDelay: true},
		LogLevel:          "info",
	}
}

// WithDefaults returns a copy where every unset value is replaced by its default
func (c ClientConfig) WithDefaults() ClientConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Hostname == "" {
		c.Hostname = LocalHostname()
	}
	c.Timing = c.Timing.withDefaults()
	c.Framing = c.Framing.withDefaults()
	return c
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Hostname", c.Hostname)
	addField("Connect Timeout", c.ConnectTimeout.String())
	addField("Reconnect Interval", c.ReconnectInterval.String())

	addSection("Polling")
	addField("Poll Timeout", c.Timing.PollTimeout.String())
	addField("Tick Interval", c.Timing.TickInterval.String())
	addField("Stop Timeout", c.Timing.StopTimeout.String())

	addSection("Socket")
	addField("Framing", string(c.Framing.Framing))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.Framing.MaxFrameSize))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Socket.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Socket.ReadBufferSize))
	addField("TCP NoDelay", strconv.FormatBool(c.TCP.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCP.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCP.TCPLingerSec))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig configures a server connection manager
type ServerConfig struct {
	// Endpoint is the bind address (host:port for tcp, socket path for unix)
	Endpoint string

	AcceptTimeout time.Duration

	Timing  TimingConf
	Framing FramingConf
	Socket  SocketConf
	TCP     TCPConf

	LogLevel string
	// Logger is the handle the manager logs to (nil = package logger)
	Logger logger.ILogger
}

// DefaultServerConfig returns a server configuration bound to 0.0.0.0:37564
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Endpoint:      DefaultServerEndpoint,
		AcceptTimeout: DefaultAcceptTimeout,
		Timing:        DefaultTimingConf(),
		Framing:       FramingConf{Framing: FramingLength, MaxFrameSize: DefaultMaxFrameSize, ReadChunkSize: DefaultReadChunkSize},
		TCP:           TCPConf{TCPNoDelay: true},
		LogLevel:      "info",
	}
}

// WithDefaults returns a copy where every unset value is replaced by its default
func (c ServerConfig) WithDefaults() ServerConfig {
	if c.Endpoint == "" {
		c.Endpoint = DefaultServerEndpoint
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = DefaultAcceptTimeout
	}
	c.Timing = c.Timing.withDefaults()
	c.Framing = c.Framing.withDefaults()
	return c
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Server")
	addField("Endpoint", c.Endpoint)
	addField("Accept Timeout", c.AcceptTimeout.String())

	addSection("Polling")
	addField("Poll Timeout", c.Timing.PollTimeout.String())
	addField("Tick Interval", c.Timing.TickInterval.String())
	addField("Stop Timeout", c.Timing.StopTimeout.String())

	addSection("Socket")
	addField("Framing", string(c.Framing.Framing))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.Framing.MaxFrameSize))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Socket.WriteBufferSize))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Socket.ReadBufferSize))
	addField("TCP NoDelay", strconv.FormatBool(c.TCP.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCP.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCP.TCPLingerSec))

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Endpoint helpers
// --------------------------------------------------------------------------

// LocalHostname returns the hostname of this machine, or "localhost" if it cannot be determined
func LocalHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "localhost"
	}
	return name
}

// ResolveEndpoint turns a client target into host:port. An empty target or the
// local host placeholder becomes the local hostname, and a missing port becomes DefaultPort.
func ResolveEndpoint(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || target == LocalHostPlaceholder {
		return net.JoinHostPort(LocalHostname(), strconv.Itoa(DefaultPort))
	}

	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// no port given
		return net.JoinHostPort(strings.Trim(target, "[]"), strconv.Itoa(DefaultPort))
	}
	if host == LocalHostPlaceholder {
		host = LocalHostname()
	}
	return net.JoinHostPort(host, port)
}
