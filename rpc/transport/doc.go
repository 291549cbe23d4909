// Package transport defines the contracts of the comms connection layer. It
// provides the interfaces all transport implementations fulfill, so that the
// application layer does not depend on the socket type.
//
// The package focuses on:
//   - A client contract: one persistent, self-healing connection to a server
//   - A server contract: many accepted connections with per-peer routing
//   - The callback type used to surface received messages
//
// Key Components:
//
//   - IClient: queues outbound messages without blocking, reports received
//     messages through a Callback and retries the connection forever.
//
//   - IServer: routes outbound messages by peer address or IP and reports every
//     received message with the address of its sender.
//
//   - ConnectionState: disconnected, connecting, connected.
//
// Payloads are opaque strings on this layer. Encoding and decoding happens in
// the serializer package.
package transport
