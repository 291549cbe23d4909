// Package serializer turns csm messages into payload bytes and back. The
// transports move strings, the rpc client and server use a serializer to
// produce and consume them.
//
// The package focuses on:
//   - One interface for every payload format
//   - Keeping the value kinds of csm (int, float, str, bool, none, bytes, list, tuple)
//   - Reporting broken payloads as csm.ErrMalformedMessage
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - csmSerializerImpl: The textual {name:value<tag>}*%* format. It is the
//     default and the only format foreign peers understand.
//
//   - binarySerializerImpl: Compact length prefixed binary format. Smallest
//     payloads and no number formatting, useful when both ends run comms.
//
//   - jsonSerializerImpl: JSON with every value wrapped as {"type","value"},
//     readable in logs and easy to consume from other tooling.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
//
// Usage:
//
//	s := serializer.NewCSMSerializer()
//	data, err := s.Serialize(csm.Message{}.Set("x", 5))
//	// ... send data ...
//	fields, err := s.Deserialize(received)
package serializer
