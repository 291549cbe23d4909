// Package tcp implements the TCP socket transport of comms. It provides
// concrete implementations of the base package's connector interfaces.
//
// All connection handling (reconnects, polling, framing, routing) lives in the
// base package. This package only dials, listens and applies socket options.
//
// Key Components:
//
//   - clientConnector: dials with a per-attempt timeout and applies NoDelay,
//     buffer sizes, keep-alive and linger from the client configuration.
//
//   - serverConnector: listens on the configured endpoint (default
//     0.0.0.0:37564) and applies the same options to accepted connections.
package tcp
