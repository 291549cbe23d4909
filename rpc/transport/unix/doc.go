// Package unix implements the comms transport over Unix domain sockets, for
// processes running on the same machine.
//
// This package extends the base transport layer with Unix socket-specific
// connectors while inheriting reconnects, polling, framing and routing from
// the base package.
//
// Key Components:
//
//   - clientConnector: dials the socket path with a per-attempt timeout
//
//   - serverConnector: removes a stale socket file and listens on the path
//
// Accepted Unix connections have no remote address. The server keys them as
// "unix#<n>" and they have no IP, so only exact-address routing reaches them.
package unix
