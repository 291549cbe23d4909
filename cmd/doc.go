// Package cmd implements the command-line interface of comms. It provides a
// server that prints what its clients send, an interactive client and helpers
// to encode and decode csm messages.
//
// The package is organized into several subpackages:
//
//   - serve: Start a server, print received messages, send typed input lines
//   - connect: Connect to a server and exchange messages interactively
//   - csm: Encode name=value arguments and decode csm text
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See comms -help for a list of all commands.
package cmd
