// Package common provides the configuration structures, the logging
// implementation and the wire protocol constants shared by the comms
// transports, serializers and the command line tool.
//
// The package focuses on:
//   - Configuration structures for client connectors and server managers
//   - Custom logging implementation integrated with Dragonboat's logger package
//   - The client handshake and endpoint resolution
//
// Key Components:
//
//   - ClientConfig / ServerConfig: connection parameters, loop timing, framing and
//     socket options. Both provide Default...Config constructors, WithDefaults to
//     fill unset values and a String() pretty printer. A logger handle can be set
//     per component; otherwise the package logger of the component is used.
//
//   - Framing: selects length prefixed frames (default) or the raw
//     one-read-one-message behaviour. Both peers must use the same framing.
//
//   - Handshake: a client announces itself with "Client: <hostname>" as its first
//     message. Servers recognize the prefix and never surface it as data.
//
//   - ResolveEndpoint: turns "debug", a bare host or host:port into a dialable
//     address, defaulting the port to 37564.
//
//   - Logger: NewLogger creates explicit handles in the "LEVEL | name | message"
//     format, InitLoggers installs the same format as Dragonboat logger factory.
package common
