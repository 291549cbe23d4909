// Package rpc bundles the layers that move csm messages between a server and
// many clients over stream sockets.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures, logger handles, the connection handshake
//     and endpoint helpers.
//
//   - transport: The IClient and IServer contracts with protocol agnostic
//     implementations in base and connectors for TCP and Unix sockets.
//
//   - serializer: Payload formats (csm text, binary, json) for converting
//     between csm messages and bytes.
//
//   - client: Application client that sends messages and mirrors the received
//     fields in a TTL container.
//
//   - server: Application server with one TTL state container per peer.
package rpc
