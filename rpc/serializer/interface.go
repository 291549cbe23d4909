package serializer

import "github.com/ValentinKolb/comms/lib/csm"

// IRPCSerializer is the interface for all message serializers. Every
// implementation keeps the value kinds of csm, so a message survives a round
// trip with its ints, floats, bytes, lists and tuples intact.
type IRPCSerializer interface {
	// Serialize serializes a message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg csm.Message) ([]byte, error)
	// Deserialize deserializes a byte array into the fields of a message.
	// If a name occurs more than once the last record wins.
	// It returns an error if the payload is malformed
	Deserialize(b []byte) (csm.Fields, error)
	// Name returns the name the serializer is selected by
	Name() string
}

// ByName returns the serializer registered under the given name
// ("csm", "binary" or "json")
func ByName(name string) (IRPCSerializer, bool) {
	switch name {
	case "csm", "":
		return NewCSMSerializer(), true
	case "binary":
		return NewBinarySerializer(), true
	case "json":
		return NewJSONSerializer(), true
	default:
		return nil, false
	}
}
