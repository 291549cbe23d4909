package common

import (
	"strings"
)

// --------------------------------------------------------------------------
// Handshake
// --------------------------------------------------------------------------

// HandshakePrefix starts the introductory message a client sends right after
// connecting. It is not a CSM record.
const HandshakePrefix = "Client: "

// NewHandshake returns the handshake message for the given hostname
func NewHandshake(hostname string) string {
	return HandshakePrefix + hostname
}

// IsHandshake reports whether msg is a client handshake
func IsHandshake(msg string) bool {
	return strings.HasPrefix(msg, HandshakePrefix)
}

// HostnameFromHandshake extracts the hostname from a handshake message
func HostnameFromHandshake(msg string) (string, bool) {
	if !IsHandshake(msg) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(msg, HandshakePrefix)), true
}
