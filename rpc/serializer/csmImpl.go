package serializer

import (
	"github.com/ValentinKolb/comms/lib/csm"
)

// NewCSMSerializer creates a serializer using the textual csm wire format.
// This is the format every peer understands.
func NewCSMSerializer() IRPCSerializer {
	return &csmSerializerImpl{}
}

// csmSerializerImpl implements IRPCSerializer using csm.Encode and csm.Decode
type csmSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (c csmSerializerImpl) Serialize(msg csm.Message) ([]byte, error) {
	text, err := csm.Encode(msg)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

func (c csmSerializerImpl) Deserialize(b []byte) (csm.Fields, error) {
	return csm.Decode(string(b))
}

func (c csmSerializerImpl) Name() string {
	return "csm"
}
