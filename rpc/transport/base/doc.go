// Package base provides the protocol agnostic core of the comms transports:
// the client connector and the server connection manager. Protocol specific
// packages (tcp, unix) only supply connectors that dial, listen and tune sockets.
//
// The package focuses on:
//   - One worker goroutine per client and per accepted server connection
//   - Bounded blocking everywhere, so a stop request is observed promptly
//   - Lock-free outbound queues, drained by the owning worker in order
//   - Length prefixed framing with an accumulating read buffer
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: every tick the worker (1) connects if disconnected and sends
//     the handshake, waiting ReconnectInterval after a failed attempt, (2) reads
//     with PollTimeout and delivers completed messages, (3) drains the outbound
//     queue and (4) sleeps TickInterval. A read or write failure resets the
//     connection, the next tick reconnects. Connection failures are logged and
//     retried forever, they are never returned to the caller.
//
//   - serverTransport: an acceptor goroutine admits sockets into a connection
//     table (xsync.MapOf keyed by remote address). Each connection worker reads,
//     suppresses handshakes, calls the connection or default callback, drains its
//     own queue and sleeps one tick. Broken connections are removed and closed.
//
// Framing:
//
//	With common.FramingLength every message is preceded by its length as 4 byte
//	big endian integer. Partial frames are buffered until complete and frames
//	larger than MaxFrameSize reset the connection. common.FramingRaw writes bare
//	payloads and treats one read as one message.
//
// Metrics:
//
//	Clients register VictoriaMetrics counters labeled by transport and endpoint
//	in the default set. Every server has its own metrics.Set exposed through
//	WritePrometheus. Per connection counters and a message size histogram
//	(go-metrics) are reported by Peers.
//
// Thread Safety:
//
//	All public methods are thread-safe. Callbacks run on the worker goroutine
//	of the connection that received the message, outside of any lock.
package base
