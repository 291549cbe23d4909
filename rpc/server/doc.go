// Package server implements the application side of a comms server on top of a
// transport.IServer. Received payloads are decoded with the configured
// serializer and every peer gets its own state container.
//
// Key Components:
//
//   - NewRPCServer: Factory function that wraps a transport and a serializer.
//     It installs the default and the disconnect callback of the transport.
//
//   - Send/SendFields: Serialize a message and queue it for an address, an IP
//     (every connection from that host) or "" (any connection).
//
//   - State: A copy of the fields a peer sent, with per field timestamps.
//     The state is dropped as soon as the connection is removed.
//
// Messages that fail to decode are logged at warning level and dropped, they
// never reach the handler.
package server
